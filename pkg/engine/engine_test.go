package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dsarman/2016-wood-challenge/pkg/book"
	"github.com/dsarman/2016-wood-challenge/pkg/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// recordingSink captures every notification in emission order.
type recordingSink struct {
	accepted []uint64
	canceled []uint64
	trades   []Trade
	depth    []book.Level
}

func (s *recordingSink) OrderAccepted(o *book.Order) { s.accepted = append(s.accepted, o.ID) }
func (s *recordingSink) OrderCanceled(o *book.Order) { s.canceled = append(s.canceled, o.ID) }
func (s *recordingSink) Trade(t Trade)               { s.trades = append(s.trades, t) }
func (s *recordingSink) Depth(lvl book.Level)        { s.depth = append(s.depth, lvl) }

func newTestEngine(t *testing.T) (*Engine, *recordingSink, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	sink := &recordingSink{}
	e, err := New(context.Background(), st, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, sink, st
}

func login(t *testing.T, e *Engine, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := e.Login(context.Background(), name, "secret"); err != nil {
			t.Fatalf("login %s: %v", name, err)
		}
	}
}

func submit(t *testing.T, e *Engine, user, action, price string, qty int64) *book.Order {
	t.Helper()
	o, err := e.Submit(context.Background(), user, action, d(price), qty)
	if err != nil {
		t.Fatalf("submit %s %s %s x%d: %v", user, action, price, qty, err)
	}
	return o
}

func TestFullFill(t *testing.T) {
	// Scenario A: equal price, equal quantity, both orders consumed.
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	ask := submit(t, e, "alice", "SELL", "10", 100)
	bid := submit(t, e, "bob", "BUY", "10", 100)

	if len(sink.trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(sink.trades))
	}
	tr := sink.trades[0]
	if tr.Quantity != 100 || !tr.Price.Equal(d("10")) {
		t.Errorf("unexpected trade: %+v", tr)
	}
	if tr.MakerOrderID != ask.ID || tr.TakerOrderID != bid.ID {
		t.Errorf("maker/taker swapped: %+v", tr)
	}
	if bid.Remaining != 0 || ask.Remaining != 0 {
		t.Errorf("both orders must be fully filled")
	}

	if err := e.Cancel(context.Background(), "alice", ask.ID); err != ErrNotFound {
		t.Errorf("filled orders must be purged from the owner index, got %v", err)
	}
	if depth := e.DepthSnapshot(); len(depth) != 0 {
		t.Errorf("book must be empty on both sides, got %+v", depth)
	}
}

func TestPartialFillRests(t *testing.T) {
	// Scenario B: the larger resting ask keeps its remainder.
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	ask := submit(t, e, "alice", "SELL", "10", 100)
	bid := submit(t, e, "bob", "BUY", "10", 60)

	if len(sink.trades) != 1 || sink.trades[0].Quantity != 60 {
		t.Fatalf("expected 1 trade of 60, got %+v", sink.trades)
	}
	if ask.Remaining != 40 {
		t.Errorf("expected ask remainder 40, got %d", ask.Remaining)
	}
	if bid.Remaining != 0 {
		t.Errorf("bid must be fully filled, got %d", bid.Remaining)
	}

	depth := e.DepthSnapshot()
	if len(depth) != 1 || depth[0].Side != book.Ask || depth[0].Quantity != 40 {
		t.Errorf("expected only ask 10 x40 resting, got %+v", depth)
	}
}

func TestNoTradeWhenNotCrossing(t *testing.T) {
	// Scenario C: both rest at their own prices.
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	submit(t, e, "bob", "BUY", "9", 50)
	submit(t, e, "alice", "SELL", "10", 50)

	if len(sink.trades) != 0 {
		t.Fatalf("expected no trade, got %+v", sink.trades)
	}
	if len(e.DepthSnapshot()) != 2 {
		t.Errorf("expected both orders resting, got %+v", e.DepthSnapshot())
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	// Scenario D: FIFO at equal price, the older ask fills first.
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob", "carol")

	first := submit(t, e, "alice", "SELL", "10", 30)
	second := submit(t, e, "bob", "SELL", "10", 20)
	submit(t, e, "carol", "BUY", "10", 40)

	if len(sink.trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(sink.trades))
	}
	if sink.trades[0].MakerOrderID != first.ID || sink.trades[0].Quantity != 30 {
		t.Errorf("first trade must consume the older ask: %+v", sink.trades[0])
	}
	if sink.trades[1].MakerOrderID != second.ID || sink.trades[1].Quantity != 10 {
		t.Errorf("second trade must take 10 from the newer ask: %+v", sink.trades[1])
	}
	if second.Remaining != 10 {
		t.Errorf("newer ask must rest with remaining 10, got %d", second.Remaining)
	}
}

func TestMultiLevelSweepStopsAtLimit(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	submit(t, e, "alice", "SELL", "10", 10)
	submit(t, e, "alice", "SELL", "11", 10)
	submit(t, e, "alice", "SELL", "12", 10)

	bid := submit(t, e, "bob", "BUY", "11", 30)

	if len(sink.trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(sink.trades))
	}
	if !sink.trades[0].Price.Equal(d("10")) || !sink.trades[1].Price.Equal(d("11")) {
		t.Errorf("must sweep from the best price: %+v", sink.trades)
	}
	if bid.Remaining != 10 {
		t.Errorf("remainder past the limit must rest, got %d", bid.Remaining)
	}
	assertNoCross(t, e)
}

func TestConservation(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	ask := submit(t, e, "alice", "SELL", "10", 70)
	bid := submit(t, e, "bob", "BUY", "10", 30)

	tr := sink.trades[0]
	if tr.Quantity != 30 {
		t.Fatalf("matched quantity must be min(70,30), got %d", tr.Quantity)
	}
	total := ask.Remaining + bid.Remaining
	if total != 70+30-2*30 {
		t.Errorf("sum of remainings must drop by 2x matched, got %d", total)
	}
}

func TestTradePriceFavorsRestingSide(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	submit(t, e, "alice", "SELL", "10", 50)
	submit(t, e, "bob", "BUY", "12", 50)

	if !sink.trades[0].Price.Equal(d("10")) {
		t.Errorf("execution price must be the resting order's price, got %v", sink.trades[0].Price)
	}
}

func TestCancel(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice")

	o := submit(t, e, "alice", "SELL", "11", 50)
	if err := e.Cancel(context.Background(), "alice", o.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(e.DepthSnapshot()) != 0 {
		t.Errorf("book must be empty after cancel")
	}
	if len(sink.canceled) != 1 || sink.canceled[0] != o.ID {
		t.Errorf("cancel must be acknowledged")
	}
	last := sink.depth[len(sink.depth)-1]
	if last.Quantity != 0 || !last.Price.Equal(d("11")) {
		t.Errorf("cancel of last order at level must clear depth, got %+v", last)
	}

	if err := e.Cancel(context.Background(), "alice", o.ID); err != ErrNotFound {
		t.Errorf("second cancel must report ErrNotFound, got %v", err)
	}
}

func TestCancelAfterFullFillReportsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	login(t, e, "alice", "bob")

	ask := submit(t, e, "alice", "SELL", "10", 100)
	submit(t, e, "bob", "BUY", "10", 100)

	if err := e.Cancel(context.Background(), "alice", ask.ID); err != ErrNotFound {
		t.Errorf("filled order's index entry must be gone, got %v", err)
	}
}

func TestInvalidSubmissions(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	login(t, e, "alice")

	if _, err := e.Submit(context.Background(), "alice", "HOLD", d("10"), 10); err != book.ErrInvalidSide {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := e.Submit(context.Background(), "alice", "BUY", d("10"), 0); err != ErrInvalidOrder {
		t.Errorf("expected ErrInvalidOrder for zero quantity, got %v", err)
	}
	if _, err := e.Submit(context.Background(), "alice", "BUY", d("-1"), 10); err != ErrInvalidOrder {
		t.Errorf("expected ErrInvalidOrder for negative price, got %v", err)
	}
	if _, err := e.Submit(context.Background(), "mallory", "BUY", d("10"), 10); err != ErrUnknownUser {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
	if len(sink.accepted) != 0 {
		t.Errorf("rejected submissions must not touch the book")
	}
}

func TestNonCrossingInsertsPreserveBook(t *testing.T) {
	e, _, _ := newTestEngine(t)
	login(t, e, "alice")

	for i := 0; i < 5; i++ {
		submit(t, e, "alice", "BUY", fmt.Sprintf("%d", 5+i), 10)
		submit(t, e, "alice", "SELL", fmt.Sprintf("%d", 20+i), 10)
	}

	depth := e.DepthSnapshot()
	if len(depth) != 10 {
		t.Fatalf("expected 10 occupied levels, got %d", len(depth))
	}
	assertNoCross(t, e)
}

func assertNoCross(t *testing.T, e *Engine) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	bestBid, errB := e.book.BestPrice(book.Bid)
	bestAsk, errA := e.book.BestPrice(book.Ask)
	if errB != nil || errA != nil {
		return
	}
	if !bestBid.LessThan(bestAsk) {
		t.Errorf("crossed book after matching pass: bid %v >= ask %v", bestBid, bestAsk)
	}
}

// failingStore fails every Apply after the first n successes.
type failingStore struct {
	*store.MemoryStore
	allow int
}

var errBroken = errors.New("disk on fire")

func (s *failingStore) Apply(ctx context.Context, m store.Mutation) error {
	if s.allow <= 0 {
		return errBroken
	}
	s.allow--
	return s.MemoryStore.Apply(ctx, m)
}

func TestDurabilityFailureAbortsSubmission(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), allow: 1} // one apply for the registration
	sink := &recordingSink{}
	e, err := New(context.Background(), st, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.newBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	login(t, e, "alice")

	_, err = e.Submit(context.Background(), "alice", "BUY", d("10"), 10)
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected the store failure to surface, got %v", err)
	}
	if len(sink.accepted) != 0 {
		t.Errorf("no acceptance may be emitted for an uncommitted order")
	}
	if len(e.DepthSnapshot()) != 0 {
		t.Errorf("book state must be unchanged after a durability failure")
	}
}

func TestDurabilityFailureMidMatchLeavesConsistentState(t *testing.T) {
	// registration + two inserts succeed, the match mutation does not
	st := &failingStore{MemoryStore: store.NewMemoryStore(), allow: 4}
	sink := &recordingSink{}
	e, err := New(context.Background(), st, sink, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.newBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	login(t, e, "alice", "bob")

	ask := submit(t, e, "alice", "SELL", "10", 100)
	_, err = e.Submit(context.Background(), "bob", "BUY", d("10"), 60)
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected the store failure to surface, got %v", err)
	}
	if len(sink.trades) != 0 {
		t.Errorf("no trade may be reported for an uncommitted match")
	}
	if ask.Remaining != 100 {
		t.Errorf("resting order must be rolled back, got remaining %d", ask.Remaining)
	}
}

func TestRestartRebuildsBook(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	e1, err := New(ctx, st, NopSink{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	login(t, e1, "alice", "bob")
	submit(t, e1, "alice", "SELL", "10", 30)
	submit(t, e1, "alice", "SELL", "10", 20)
	submit(t, e1, "bob", "BUY", "9", 50)

	e2, err := New(ctx, st, NopSink{}, zap.NewNop())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if e2.book.Size() != 3 {
		t.Fatalf("expected 3 resting orders after restart, got %d", e2.book.Size())
	}
	// time priority survives the restart
	front := e2.book.Front(book.Ask, d("10"))
	if front == nil || front.Quantity != 30 {
		t.Errorf("oldest ask must still be first, got %+v", front)
	}
	// sequencer does not reuse IDs
	o := submit(t, e2, "bob", "BUY", "1", 1)
	if o.ID <= 3 {
		t.Errorf("order ID reused after restart: %d", o.ID)
	}
	// login still works against reloaded credentials
	if res, _ := e2.Login(ctx, "alice", "secret"); res != LoginAccepted {
		t.Errorf("expected logged_in for restored user, got %v", res)
	}
	if res, _ := e2.Login(ctx, "alice", "wrong"); res != LoginDenied {
		t.Errorf("expected denied for wrong password, got %v", res)
	}
}

func BenchmarkSubmit(b *testing.B) {
	st := store.NewMemoryStore()
	e, err := New(context.Background(), st, NopSink{}, zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}
	if _, err := e.Login(context.Background(), "bench", "secret"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		action := "BUY"
		if i%2 == 0 {
			action = "SELL"
		}
		if _, err := e.Submit(context.Background(), "bench", action, d("100"), 10); err != nil {
			b.Fatal(err)
		}
	}
}
