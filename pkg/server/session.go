package server

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

const sessionBuffer = 64

// session is one client connection. Replies and engine notifications
// share the outbound queue, so the acceptance ack always precedes the
// trade reports of the same submission.
type session struct {
	conn net.Conn
	out  chan []byte
	log  *zap.Logger

	mu       sync.Mutex
	closed   bool
	username string // empty until login succeeds
}

func newSession(conn net.Conn, log *zap.Logger) *session {
	return &session{
		conn: conn,
		out:  make(chan []byte, sessionBuffer),
		log:  log,
	}
}

// send queues a message without blocking; the matching loop must never
// wait on a slow client.
func (s *session) send(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.log.Warn("session buffer full, dropping message",
			zap.String("remote", s.conn.RemoteAddr().String()))
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
	s.conn.Close()
}

func (s *session) setUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

func (s *session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// sessionRegistry routes engine notifications to the live sessions of
// an order's owner.
type sessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[*session]bool
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byUser: make(map[string]map[*session]bool)}
}

func (r *sessionRegistry) add(username string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[username]
	if set == nil {
		set = make(map[*session]bool)
		r.byUser[username] = set
	}
	set[s] = true
}

func (r *sessionRegistry) remove(username string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.byUser[username]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.byUser, username)
		}
	}
}

func (r *sessionRegistry) send(username string, msg []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := range r.byUser[username] {
		s.send(msg)
	}
}
