package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the embedded backend. A Mutation maps onto one pebble
// batch committed with Sync, which gives the atomic logical step the
// engine relies on.
//
// keys: u:<username>, o:<8-byte big-endian id>, seq
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func kUser(name string) []byte { return append([]byte("u:"), name...) }
func kSeq() []byte             { return []byte("seq") }

func kOrder(id uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "o:")
	binary.BigEndian.PutUint64(key[2:], id)
	return key
}

func (s *PebbleStore) Apply(_ context.Context, m Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, u := range m.PutUsers {
		val, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", u.Username, err)
		}
		if err := batch.Set(kUser(u.Username), val, nil); err != nil {
			return err
		}
	}
	for _, o := range m.PutOrders {
		val, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode order %d: %w", o.ID, err)
		}
		if err := batch.Set(kOrder(o.ID), val, nil); err != nil {
			return err
		}
	}
	for _, id := range m.DelOrders {
		if err := batch.Delete(kOrder(id), nil); err != nil {
			return err
		}
	}
	if m.Seq > 0 {
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, m.Seq)
		if err := batch.Set(kSeq(), seq, nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) Load(_ context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := s.scanPrefix([]byte("u:"), func(val []byte) error {
		var u UserRecord
		if err := json.Unmarshal(val, &u); err != nil {
			return err
		}
		snap.Users = append(snap.Users, u)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	// big-endian ID keys iterate in arrival order
	if err := s.scanPrefix([]byte("o:"), func(val []byte) error {
		var o OrderRecord
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	val, closer, err := s.db.Get(kSeq())
	switch err {
	case nil:
		snap.LastSeq = binary.BigEndian.Uint64(val)
		closer.Close()
	case pebble.ErrNotFound:
	default:
		return nil, fmt.Errorf("load seq: %w", err)
	}

	return snap, nil
}

func (s *PebbleStore) scanPrefix(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
