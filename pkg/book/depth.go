package book

import (
	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// Level is the public depth summary of one price bucket. It is derived
// on every change and never stored.
type Level struct {
	Side     Side
	Price    decimal.Decimal
	Quantity int64
}

// Summarize sums the remaining quantity over every order in the bucket.
// The level is labeled by the side the liquidity rests on: a resting
// BUY shows up as bid depth.
func Summarize(side Side, price decimal.Decimal, bucket *deque.Deque[*Order]) Level {
	var sum int64
	for i := 0; i < bucket.Len(); i++ {
		sum += bucket.At(i).Remaining
	}
	return Level{Side: side, Price: price, Quantity: sum}
}

// EmptyLevel reports a vanished bucket so observers can clear stale
// depth at that price.
func EmptyLevel(side Side, price decimal.Decimal) Level {
	return Level{Side: side, Price: price, Quantity: 0}
}
