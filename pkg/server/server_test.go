package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dsarman/2016-wood-challenge/pkg/engine"
	"github.com/dsarman/2016-wood-challenge/pkg/feed"
	"github.com/dsarman/2016-wood-challenge/pkg/store"
)

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(msg map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(line, &out); err != nil {
		c.t.Fatalf("decode %q: %v", line, err)
	}
	return out
}

func (c *testClient) login(username string) {
	c.t.Helper()
	c.send(map[string]any{"message": "login", "username": username, "password": "secret"})
	reply := c.recv()
	if reply["type"] != "login" || reply["action"] == "denied" {
		c.t.Fatalf("login failed: %v", reply)
	}
}

func startServer(t *testing.T) (addr string, hub *feed.Hub) {
	t.Helper()
	log := zap.NewNop()
	hub = feed.NewHub(log)
	sink := NewSink(hub)
	eng, err := engine.New(context.Background(), store.NewMemoryStore(), sink, log)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go New(eng, sink, log).Serve(ctx, ln)
	return ln.Addr().String(), hub
}

func TestLoginFlow(t *testing.T) {
	addr, _ := startServer(t)

	c1 := dial(t, addr)
	c1.send(map[string]any{"message": "login", "username": "alice", "password": "pw"})
	if reply := c1.recv(); reply["action"] != "registered" {
		t.Fatalf("first login must register, got %v", reply)
	}

	c2 := dial(t, addr)
	c2.send(map[string]any{"message": "login", "username": "alice", "password": "pw"})
	if reply := c2.recv(); reply["action"] != "logged_in" {
		t.Fatalf("second login must log in, got %v", reply)
	}

	c3 := dial(t, addr)
	c3.send(map[string]any{"message": "login", "username": "alice", "password": "wrong"})
	if reply := c3.recv(); reply["action"] != "denied" {
		t.Fatalf("wrong password must be denied, got %v", reply)
	}
	// denial closes the connection
	c3.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c3.r.ReadByte(); err == nil {
		t.Errorf("connection must be closed after denial")
	}
}

func TestOrderLifecycleOverWire(t *testing.T) {
	addr, _ := startServer(t)

	seller := dial(t, addr)
	seller.login("alice")
	buyer := dial(t, addr)
	buyer.login("bob")

	seller.send(map[string]any{"message": "createOrder", "side": "SELL", "price": "10", "quantity": 100})
	created := seller.recv()
	if created["type"] != "orderCreated" {
		t.Fatalf("expected orderCreated, got %v", created)
	}
	askID := created["id"].(float64)

	buyer.send(map[string]any{"message": "createOrder", "side": "BUY", "price": "10", "quantity": 60})
	if reply := buyer.recv(); reply["type"] != "orderCreated" {
		t.Fatalf("expected orderCreated first, got %v", reply)
	}
	trade := buyer.recv()
	if trade["type"] != "trade" || trade["quantity"].(float64) != 60 {
		t.Fatalf("expected trade of 60, got %v", trade)
	}
	// the resting side gets the same report
	if tr := seller.recv(); tr["type"] != "trade" || tr["quantity"].(float64) != 60 {
		t.Fatalf("maker must receive the trade, got %v", tr)
	}

	// remainder of 40 can still be canceled
	seller.send(map[string]any{"message": "cancelOrder", "orderId": askID})
	if reply := seller.recv(); reply["type"] != "orderCanceled" {
		t.Fatalf("expected orderCanceled, got %v", reply)
	}
	seller.send(map[string]any{"message": "cancelOrder", "orderId": askID})
	if reply := seller.recv(); reply["type"] != "error" || reply["reason"] != "notFound" {
		t.Fatalf("second cancel must report notFound, got %v", reply)
	}
}

func TestRejectionsOverWire(t *testing.T) {
	addr, _ := startServer(t)

	c := dial(t, addr)
	c.send(map[string]any{"message": "createOrder", "side": "BUY", "price": "10", "quantity": 1})
	if reply := c.recv(); reply["reason"] != "notLoggedIn" {
		t.Fatalf("orders before login must be rejected, got %v", reply)
	}

	c.login("alice")
	c.send(map[string]any{"message": "createOrder", "side": "HOLD", "price": "10", "quantity": 1})
	if reply := c.recv(); reply["reason"] != "invalidSide" {
		t.Fatalf("expected invalidSide, got %v", reply)
	}
	c.send(map[string]any{"message": "createOrder", "side": "BUY", "price": "10", "quantity": 0})
	if reply := c.recv(); reply["reason"] != "invalidOrder" {
		t.Fatalf("expected invalidOrder, got %v", reply)
	}
}

func TestMalformedMessageClosesConnection(t *testing.T) {
	addr, _ := startServer(t)

	c := dial(t, addr)
	if _, err := c.conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatal(err)
	}
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.r.ReadByte(); err == nil {
		t.Errorf("malformed message must close the connection")
	}
}

func TestPublicFeedSnapshotAndStream(t *testing.T) {
	addr, hub := startServer(t)

	c := dial(t, addr)
	c.login("alice")
	c.send(map[string]any{"message": "createOrder", "side": "SELL", "price": "11", "quantity": 5})
	c.recv() // orderCreated

	sub := hub.Attach(nil)
	defer hub.Detach(sub)
	c.send(map[string]any{"message": "createOrder", "side": "SELL", "price": "11", "quantity": 7})
	c.recv() // orderCreated

	select {
	case msg := <-sub.C():
		var ev map[string]any
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev["type"] != "orderbook" || ev["side"] != "ask" || ev["quantity"].(float64) != 12 {
			t.Fatalf("unexpected depth event: %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no depth event on the public feed")
	}
}
