package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the durable state in process memory. It backs unit
// tests and the "memory" config backend; it honors the same atomicity
// contract as the real backends.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[string]UserRecord
	orders map[uint64]OrderRecord
	seq    uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]UserRecord),
		orders: make(map[uint64]OrderRecord),
	}
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range m.PutUsers {
		s.users[u.Username] = u
	}
	for _, o := range m.PutOrders {
		s.orders[o.ID] = o
	}
	for _, id := range m.DelOrders {
		delete(s.orders, id)
	}
	if m.Seq > s.seq {
		s.seq = m.Seq
	}
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{LastSeq: s.seq}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	return snap, nil
}

func (s *MemoryStore) Close() error { return nil }
