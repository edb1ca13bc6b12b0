package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
)

// OrderRecord is the persisted form of a resting order.
type OrderRecord struct {
	ID        uint64
	Side      string
	Owner     string
	Price     decimal.Decimal
	Quantity  int64
	Remaining int64
	CreatedAt time.Time
}

// UserRecord is the persisted form of a registered user.
type UserRecord struct {
	Username     string
	PasswordHash []byte
}

// Mutation is one logical state change. A backend must commit the whole
// mutation atomically: the paired decrement of a match arrives as a
// single mutation and must never be half-applied.
type Mutation struct {
	PutUsers  []UserRecord
	PutOrders []OrderRecord // insert or overwrite by ID
	DelOrders []uint64
	Seq       uint64 // advances the persisted ID sequence when non-zero
}

// Snapshot is the full durable state, loaded once at startup.
type Snapshot struct {
	Users   []UserRecord
	Orders  []OrderRecord // ascending by ID, i.e. arrival order
	LastSeq uint64
}

// Store is the durable-apply collaborator. Apply blocks until the
// mutation is committed; an error means nothing was applied.
type Store interface {
	Apply(ctx context.Context, m Mutation) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// RecordFromOrder captures an order's current state for persistence.
func RecordFromOrder(o *book.Order) OrderRecord {
	return OrderRecord{
		ID:        o.ID,
		Side:      string(o.Side),
		Owner:     o.Owner,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
		CreatedAt: o.CreatedAt,
	}
}

// Order rebuilds the in-memory order from its persisted form.
func (r OrderRecord) Order() *book.Order {
	return &book.Order{
		ID:        r.ID,
		Side:      book.Side(r.Side),
		Owner:     r.Owner,
		Price:     r.Price,
		Quantity:  r.Quantity,
		Remaining: r.Remaining,
		CreatedAt: r.CreatedAt,
	}
}
