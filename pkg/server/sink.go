package server

import (
	"github.com/dsarman/2016-wood-challenge/pkg/book"
	"github.com/dsarman/2016-wood-challenge/pkg/engine"
	"github.com/dsarman/2016-wood-challenge/pkg/feed"
	"github.com/dsarman/2016-wood-challenge/pkg/wire"
)

// Sink routes engine notifications: lifecycle acks and trade reports to
// the owners' sessions, trades and depth updates to the public feed.
type Sink struct {
	sessions *sessionRegistry
	hub      *feed.Hub
}

func NewSink(hub *feed.Hub) *Sink {
	return &Sink{sessions: newSessionRegistry(), hub: hub}
}

func (s *Sink) OrderAccepted(o *book.Order) {
	s.sessions.send(o.Owner, wire.Encode(wire.NewOrderCreated(o.ID)))
}

func (s *Sink) OrderCanceled(o *book.Order) {
	s.sessions.send(o.Owner, wire.Encode(wire.NewOrderCanceled(o.ID)))
}

func (s *Sink) Trade(t engine.Trade) {
	msg := wire.Encode(wire.NewTradeEvent(t))
	s.sessions.send(t.Taker, msg)
	if t.Maker != t.Taker {
		s.sessions.send(t.Maker, msg)
	}
	s.hub.Broadcast(msg)
}

func (s *Sink) Depth(lvl book.Level) {
	s.hub.Broadcast(wire.Encode(wire.NewBookEvent(lvl)))
}

var _ engine.Sink = (*Sink)(nil)
