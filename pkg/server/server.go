// Package server implements the client gateway: line-delimited JSON
// over TCP, one session per connection, login before trading.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
	"github.com/dsarman/2016-wood-challenge/pkg/engine"
	"github.com/dsarman/2016-wood-challenge/pkg/wire"
)

// maxLineBytes bounds a single client message.
const maxLineBytes = 64 * 1024

type Server struct {
	engine *engine.Engine
	sink   *Sink
	log    *zap.Logger
}

func New(eng *engine.Engine, sink *Sink, log *zap.Logger) *Server {
	return &Server{engine: eng, sink: sink, log: log}
}

// Serve accepts client connections until the context is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn, s.log)
	s.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.writeLoop(ctx, sess)
	s.readLoop(ctx, sess)

	if name := sess.user(); name != "" {
		s.sink.sessions.remove(name, sess)
	}
	sess.close()
	s.log.Info("client disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) writeLoop(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			sess.close()
			return
		case msg, ok := <-sess.out:
			if !ok {
				return
			}
			if _, err := sess.conn.Write(append(msg, '\n')); err != nil {
				sess.close()
				return
			}
		}
	}
}

// readLoop processes messages to completion, one at a time. Returning
// closes the connection: malformed input and denied logins end here.
func (s *Server) readLoop(ctx context.Context, sess *session) {
	scanner := bufio.NewScanner(sess.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req wire.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("malformed message, closing connection", zap.Error(err))
			return
		}
		if !s.dispatch(ctx, sess, req) {
			return
		}
	}
}

// dispatch handles one request; false means the connection must close.
func (s *Server) dispatch(ctx context.Context, sess *session, req wire.Request) bool {
	switch req.Message {
	case wire.MsgLogin:
		return s.handleLogin(ctx, sess, req)
	case wire.MsgCreateOrder:
		s.handleCreateOrder(ctx, sess, req)
		return true
	case wire.MsgCancelOrder:
		s.handleCancelOrder(ctx, sess, req)
		return true
	default:
		s.log.Warn("unexpected message type, closing connection", zap.String("message", req.Message))
		return false
	}
}

func (s *Server) handleLogin(ctx context.Context, sess *session, req wire.Request) bool {
	result, err := s.engine.Login(ctx, req.Username, req.Password)
	if err != nil {
		s.log.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		result = engine.LoginDenied
	}
	sess.send(wire.Encode(wire.NewLoginReply(result)))
	if result == engine.LoginDenied {
		return false
	}
	sess.setUsername(req.Username)
	s.sink.sessions.add(req.Username, sess)
	return true
}

func (s *Server) handleCreateOrder(ctx context.Context, sess *session, req wire.Request) {
	username := sess.user()
	if username == "" {
		sess.send(wire.Encode(wire.NewError(wire.ReasonNotLoggedIn)))
		return
	}

	// acceptance ack and trade reports arrive through the sink
	_, err := s.engine.Submit(ctx, username, req.Side, req.Price, req.Quantity)
	switch {
	case err == nil:
	case errors.Is(err, book.ErrInvalidSide):
		sess.send(wire.Encode(wire.NewError(wire.ReasonInvalidSide)))
	case errors.Is(err, engine.ErrInvalidOrder):
		sess.send(wire.Encode(wire.NewError(wire.ReasonInvalidOrder)))
	default:
		s.log.Error("order submission failed", zap.String("username", username), zap.Error(err))
		sess.send(wire.Encode(wire.NewError("internal")))
	}
}

func (s *Server) handleCancelOrder(ctx context.Context, sess *session, req wire.Request) {
	username := sess.user()
	if username == "" {
		sess.send(wire.Encode(wire.NewError(wire.ReasonNotLoggedIn)))
		return
	}

	err := s.engine.Cancel(ctx, username, req.OrderID)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNotFound):
		sess.send(wire.Encode(wire.NewError(wire.ReasonNotFound)))
	default:
		s.log.Error("cancel failed", zap.String("username", username), zap.Error(err))
		sess.send(wire.Encode(wire.NewError("internal")))
	}
}
