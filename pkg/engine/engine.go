package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
	"github.com/dsarman/2016-wood-challenge/pkg/sequence"
	"github.com/dsarman/2016-wood-challenge/pkg/store"
)

const maxApplyRetries = 5

// Engine matches incoming orders against the book under price-time
// priority and keeps the durable store in lockstep with every change.
//
// mu serializes every mutator (Submit, Cancel, Login). This is the
// load-bearing invariant: the crossing test and the bucket invariants
// only hold if read-then-write is atomic with respect to other
// mutators. Submissions are processed to completion, one at a time.
type Engine struct {
	mu    sync.Mutex
	book  *book.Book
	users map[string]*User
	store store.Store
	seq   *sequence.Sequencer
	sink  Sink
	log   *zap.Logger

	newBackOff func() backoff.BackOff
}

// New loads the store snapshot, rebuilds the book and user indexes, and
// seeds the ID sequencer. Reconstruction emits no notifications and
// writes nothing back.
func New(ctx context.Context, st store.Store, sink Sink, log *zap.Logger) (*Engine, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	e := &Engine{
		book:  book.New(),
		users: make(map[string]*User),
		store: st,
		seq:   sequence.New(snap.LastSeq),
		sink:  sink,
		log:   log,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxApplyRetries)
		},
	}

	for _, u := range snap.Users {
		e.users[u.Username] = newUser(u.Username, u.PasswordHash)
	}
	for _, rec := range snap.Orders {
		o := rec.Order()
		u, ok := e.users[o.Owner]
		if !ok {
			return nil, fmt.Errorf("order %d references unknown user %q", o.ID, o.Owner)
		}
		e.book.Insert(o)
		u.Orders[o.ID] = o
	}

	log.Info("engine restored",
		zap.Int("users", len(snap.Users)),
		zap.Int("resting_orders", len(snap.Orders)),
		zap.Uint64("last_seq", snap.LastSeq))

	return e, nil
}

// Login authenticates a user, registering the username on first sight.
// A wrong password for an existing username is denied.
func (e *Engine) Login(ctx context.Context, username, password string) (LoginResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u, ok := e.users[username]; ok {
		if u.checkPassword(password) {
			return LoginAccepted, nil
		}
		return LoginDenied, nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return LoginDenied, fmt.Errorf("hash password: %w", err)
	}
	if err := e.applyDurable(ctx, store.Mutation{
		PutUsers: []store.UserRecord{{Username: username, PasswordHash: hash}},
	}); err != nil {
		return LoginDenied, err
	}
	e.users[username] = newUser(username, hash)
	e.log.Info("user registered", zap.String("username", username))
	return LoginRegistered, nil
}

// Submit admits a new limit order: it is persisted and acknowledged,
// crossed against the opposite side until exhausted or the book no
// longer crosses, and any remainder rests in the book.
func (e *Engine) Submit(ctx context.Context, username, action string, price decimal.Decimal, quantity int64) (*book.Order, error) {
	side, err := book.SideFromAction(action)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 || !price.IsPositive() {
		return nil, ErrInvalidOrder
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.users[username]
	if !ok {
		return nil, ErrUnknownUser
	}

	order := &book.Order{
		ID:        e.seq.Next(),
		Side:      side,
		Owner:     username,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: time.Now(),
	}

	if err := e.applyDurable(ctx, store.Mutation{
		PutOrders: []store.OrderRecord{store.RecordFromOrder(order)},
		Seq:       order.ID,
	}); err != nil {
		return nil, err
	}
	user.Orders[order.ID] = order
	e.sink.OrderAccepted(order)
	e.log.Info("order accepted",
		zap.Uint64("id", order.ID),
		zap.String("owner", username),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.Int64("quantity", quantity))

	if err := e.match(ctx, order); err != nil {
		// the order is durable already; rest it so memory and store agree
		e.book.Insert(order)
		return order, err
	}

	if order.Remaining > 0 {
		e.book.Insert(order)
		e.emitDepth(order.Side, order.Price)
	} else {
		delete(user.Orders, order.ID)
	}
	return order, nil
}

// match runs the crossing loop. The incoming order is kept out of the
// book while matching; only resting orders are removed through it.
func (e *Engine) match(ctx context.Context, order *book.Order) error {
	opposite := order.Side.Opposite()

	for order.Remaining > 0 {
		best, err := e.book.BestPrice(opposite)
		if err != nil {
			break // empty side terminates the loop
		}
		if !crosses(order.Side, order.Price, best) {
			break
		}

		resting := e.book.Front(opposite, best)
		if resting.Side == order.Side {
			panic("matching two orders of the same side")
		}

		matched := min(order.Remaining, resting.Remaining)
		order.Remaining -= matched
		resting.Remaining -= matched

		// both mutations commit as one logical step before any
		// notification for this match goes out
		m := store.Mutation{}
		if resting.Remaining == 0 {
			m.DelOrders = append(m.DelOrders, resting.ID)
		} else {
			m.PutOrders = append(m.PutOrders, store.RecordFromOrder(resting))
		}
		if order.Remaining == 0 {
			m.DelOrders = append(m.DelOrders, order.ID)
		} else {
			m.PutOrders = append(m.PutOrders, store.RecordFromOrder(order))
		}
		if err := e.applyDurable(ctx, m); err != nil {
			order.Remaining += matched
			resting.Remaining += matched
			return err
		}

		if resting.Remaining == 0 {
			if err := e.book.Remove(resting); err != nil {
				panic(fmt.Sprintf("resting order %d vanished mid-match: %v", resting.ID, err))
			}
			delete(e.users[resting.Owner].Orders, resting.ID)
		}

		trade := Trade{
			Price:        resting.Price,
			Quantity:     matched,
			Time:         time.Now(),
			TakerOrderID: order.ID,
			MakerOrderID: resting.ID,
			Taker:        order.Owner,
			Maker:        resting.Owner,
		}
		e.sink.Trade(trade)
		e.emitDepth(opposite, best)
		e.log.Info("orders matched",
			zap.Uint64("taker", order.ID),
			zap.Uint64("maker", resting.ID),
			zap.String("price", trade.Price.String()),
			zap.Int64("quantity", matched))
	}
	return nil
}

// Cancel removes a live order by ID through the owner's index. Unknown
// or already-filled IDs report ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, username string, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.users[username]
	if !ok {
		return ErrUnknownUser
	}
	order, ok := user.Orders[orderID]
	if !ok {
		return ErrNotFound
	}

	if err := e.applyDurable(ctx, store.Mutation{DelOrders: []uint64{orderID}}); err != nil {
		return err
	}
	if err := e.book.Remove(order); err != nil {
		panic(fmt.Sprintf("indexed order %d missing from book: %v", orderID, err))
	}
	delete(user.Orders, orderID)

	e.sink.OrderCanceled(order)
	e.emitDepth(order.Side, order.Price)
	e.log.Info("order canceled", zap.Uint64("id", orderID), zap.String("owner", username))
	return nil
}

// DepthSnapshot returns one summary per occupied level across both
// sides, taken under the engine lock so it never observes a
// partially-applied match.
func (e *Engine) DepthSnapshot() []book.Level {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []book.Level
	for _, side := range []book.Side{book.Bid, book.Ask} {
		e.book.Levels(side, func(price decimal.Decimal, bucket *deque.Deque[*book.Order]) {
			out = append(out, book.Summarize(side, price, bucket))
		})
	}
	return out
}

func (e *Engine) emitDepth(side book.Side, price decimal.Decimal) {
	if bucket, ok := e.book.Level(side, price); ok {
		e.sink.Depth(book.Summarize(side, price, bucket))
	} else {
		e.sink.Depth(book.EmptyLevel(side, price))
	}
}

// applyDurable commits one mutation, retrying with exponential backoff.
// On final failure the whole operation aborts; the in-memory book and
// the durable record must never diverge.
func (e *Engine) applyDurable(ctx context.Context, m store.Mutation) error {
	boff := backoff.WithContext(e.newBackOff(), ctx)
	err := backoff.Retry(func() error {
		if err := e.store.Apply(ctx, m); err != nil {
			e.log.Warn("durable apply failed, retrying", zap.Error(err))
			return err
		}
		return nil
	}, boff)
	if err != nil {
		return fmt.Errorf("durable apply: %w", err)
	}
	return nil
}

func crosses(side book.Side, limit, best decimal.Decimal) bool {
	if side == book.Bid {
		return best.LessThanOrEqual(limit)
	}
	return best.GreaterThanOrEqual(limit)
}
