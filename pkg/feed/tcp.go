package feed

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// SnapshotFunc produces the encoded full-book snapshot sent to every
// new subscriber before the live stream.
type SnapshotFunc func() [][]byte

// TCPServer serves the market-data feed over plain TCP: no login, one
// JSON message per line, write-only from the subscriber's view.
type TCPServer struct {
	hub      *Hub
	snapshot SnapshotFunc
	log      *zap.Logger
}

func NewTCPServer(hub *Hub, snapshot SnapshotFunc, log *zap.Logger) *TCPServer {
	return &TCPServer{hub: hub, snapshot: snapshot, log: log}
}

// Serve accepts subscribers until the context is canceled.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(ctx, conn)
	}
}

func (s *TCPServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sub := s.hub.Attach(s.snapshot())
	defer s.hub.Detach(sub)

	s.log.Info("feed subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := conn.Write(append(msg, '\n')); err != nil {
				s.log.Info("feed subscriber dropped",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				return
			}
		}
	}
}
