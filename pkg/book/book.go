package book

import (
	"container/heap"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// Book holds the resting orders of a single instrument: one FIFO bucket
// per price on each side, plus a heap per side for best-price lookup.
//
// Book is not safe for concurrent use. All mutators run under the
// engine lock; the one-mutator-at-a-time rule is what keeps the
// bucket invariants and the crossing test valid.
type Book struct {
	bids map[string]*deque.Deque[*Order]
	asks map[string]*deque.Deque[*Order]

	bidHeap *PriceHeap
	askHeap *PriceHeap
}

func New() *Book {
	return &Book{
		bids:    make(map[string]*deque.Deque[*Order]),
		asks:    make(map[string]*deque.Deque[*Order]),
		bidHeap: NewPriceHeap(func(i, j decimal.Decimal) bool { return i.GreaterThan(j) }), // Max-heap
		askHeap: NewPriceHeap(func(i, j decimal.Decimal) bool { return i.LessThan(j) }),    // Min-heap
	}
}

// priceKey canonicalizes a price for map lookup. Equal decimals can
// differ in exponent ("10.5" vs "10.50"), so a fixed scale is used.
func priceKey(p decimal.Decimal) string {
	return p.StringFixed(8)
}

func (b *Book) sideOf(side Side) (map[string]*deque.Deque[*Order], *PriceHeap) {
	if side == Bid {
		return b.bids, b.bidHeap
	}
	return b.asks, b.askHeap
}

// Insert appends the order to the bucket for its price, creating the
// bucket if absent. Appending preserves time priority within the level.
func (b *Book) Insert(order *Order) {
	levels, prices := b.sideOf(order.Side)
	key := priceKey(order.Price)
	q := levels[key]
	if q == nil {
		q = &deque.Deque[*Order]{}
		levels[key] = q
		heap.Push(prices, order.Price)
	}
	q.PushBack(order)
}

// Remove deletes the order from its bucket. An emptied bucket is
// dropped entirely; its heap entry is discarded lazily by BestPrice.
func (b *Book) Remove(order *Order) error {
	levels, _ := b.sideOf(order.Side)
	key := priceKey(order.Price)
	q, ok := levels[key]
	if !ok {
		return ErrNotFound
	}
	i := q.Index(func(o *Order) bool { return o.ID == order.ID })
	if i < 0 {
		return ErrNotFound
	}
	q.Remove(i)
	if q.Len() == 0 {
		delete(levels, key)
	}
	return nil
}

// BestPrice returns the maximum bid or minimum ask price, discarding
// stale heap entries whose bucket has since been removed.
func (b *Book) BestPrice(side Side) (decimal.Decimal, error) {
	levels, prices := b.sideOf(side)
	for {
		price, ok := prices.Peek()
		if !ok {
			return decimal.Decimal{}, ErrEmptySide
		}
		if q, ok := levels[priceKey(price)]; ok && q.Len() > 0 {
			return price, nil
		}
		heap.Pop(prices)
	}
}

// Front returns the oldest order at the given price, or nil if the
// bucket is absent. Callers establish existence via BestPrice first.
func (b *Book) Front(side Side, price decimal.Decimal) *Order {
	levels, _ := b.sideOf(side)
	q, ok := levels[priceKey(price)]
	if !ok || q.Len() == 0 {
		return nil
	}
	return q.Front()
}

// Level returns the live bucket at the given price.
func (b *Book) Level(side Side, price decimal.Decimal) (*deque.Deque[*Order], bool) {
	levels, _ := b.sideOf(side)
	q, ok := levels[priceKey(price)]
	return q, ok
}

// Walk visits every occupied level on one side in undefined price
// order, oldest order first within each level.
func (b *Book) Walk(side Side, fn func(order *Order)) {
	levels, _ := b.sideOf(side)
	for _, q := range levels {
		for i := 0; i < q.Len(); i++ {
			fn(q.At(i))
		}
	}
}

// Levels visits each occupied price level on one side.
func (b *Book) Levels(side Side, fn func(price decimal.Decimal, bucket *deque.Deque[*Order])) {
	levels, _ := b.sideOf(side)
	for _, q := range levels {
		if q.Len() > 0 {
			fn(q.Front().Price, q)
		}
	}
}

// Size returns the number of resting orders across both sides.
func (b *Book) Size() int {
	n := 0
	for _, q := range b.bids {
		n += q.Len()
	}
	for _, q := range b.asks {
		n += q.Len()
	}
	return n
}
