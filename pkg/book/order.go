package book

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// SideFromAction maps the wire-level action label to the resting side:
// BUY rests as bid liquidity, SELL as ask liquidity.
func SideFromAction(action string) (Side, error) {
	switch action {
	case "BUY":
		return Bid, nil
	case "SELL":
		return Ask, nil
	default:
		return "", ErrInvalidSide
	}
}

type Order struct {
	ID        uint64
	Side      Side
	Owner     string
	Price     decimal.Decimal
	Quantity  int64
	Remaining int64
	CreatedAt time.Time
}
