// Package wire defines the line-delimited JSON messages of the client
// protocol and the public market-data feed. Client requests are keyed
// by "message", server replies and feed events by "type".
package wire

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
	"github.com/dsarman/2016-wood-challenge/pkg/engine"
)

const (
	MsgLogin       = "login"
	MsgCreateOrder = "createOrder"
	MsgCancelOrder = "cancelOrder"
)

const (
	TypeLogin         = "login"
	TypeOrderCreated  = "orderCreated"
	TypeOrderCanceled = "orderCanceled"
	TypeTrade         = "trade"
	TypeOrderbook     = "orderbook"
	TypeError         = "error"
)

const (
	ReasonInvalidSide  = "invalidSide"
	ReasonInvalidOrder = "invalidOrder"
	ReasonNotFound     = "notFound"
	ReasonNotLoggedIn  = "notLoggedIn"
)

// Request is the union of all client messages.
type Request struct {
	Message  string          `json:"message"`
	Username string          `json:"username,omitempty"`
	Password string          `json:"password,omitempty"`
	Side     string          `json:"side,omitempty"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Quantity int64           `json:"quantity,omitempty"`
	OrderID  uint64          `json:"orderId,omitempty"`
}

type LoginReply struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type OrderCreated struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

type OrderCanceled struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

type ErrorReply struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type TradeEvent struct {
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Time     int64           `json:"time"`
}

type BookEvent struct {
	Type     string          `json:"type"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

func NewLoginReply(result engine.LoginResult) LoginReply {
	return LoginReply{Type: TypeLogin, Action: string(result)}
}

func NewOrderCreated(id uint64) OrderCreated {
	return OrderCreated{Type: TypeOrderCreated, ID: id}
}

func NewOrderCanceled(id uint64) OrderCanceled {
	return OrderCanceled{Type: TypeOrderCanceled, ID: id}
}

func NewError(reason string) ErrorReply {
	return ErrorReply{Type: TypeError, Reason: reason}
}

func NewTradeEvent(t engine.Trade) TradeEvent {
	return TradeEvent{
		Type:     TypeTrade,
		Price:    t.Price,
		Quantity: t.Quantity,
		Time:     t.Time.Unix(),
	}
}

func NewBookEvent(lvl book.Level) BookEvent {
	return BookEvent{
		Type:     TypeOrderbook,
		Side:     string(lvl.Side),
		Price:    lvl.Price,
		Quantity: lvl.Quantity,
	}
}

// Encode marshals a message for the line-delimited stream. Marshaling
// these fixed shapes cannot fail; a failure is a programming error.
func Encode(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}
