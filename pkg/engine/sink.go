package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
)

// Trade is one execution report. Price is always the resting order's
// price; price improvement favors the resting side.
type Trade struct {
	Price    decimal.Decimal
	Quantity int64
	Time     time.Time

	TakerOrderID uint64
	MakerOrderID uint64
	Taker        string
	Maker        string
}

// Sink receives every notification the engine emits. Implementations
// must not block: delivery is fire-and-forget relative to the matching
// loop, and a slow observer must never stall or fail a match.
type Sink interface {
	OrderAccepted(o *book.Order)
	OrderCanceled(o *book.Order)
	Trade(t Trade)
	Depth(lvl book.Level)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) OrderAccepted(*book.Order) {}
func (NopSink) OrderCanceled(*book.Order) {}
func (NopSink) Trade(Trade)               {}
func (NopSink) Depth(book.Level)          {}
