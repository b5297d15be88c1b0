package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer upgrades every request and hands the server-side connection to
// the test over a channel.
type testServer struct {
	srv        *httptest.Server
	conns      chan *websocket.Conn
	identities chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns:      make(chan *websocket.Conn, 8),
		identities: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.identities <- r.URL.Query().Get("identity")
		ts.conns <- conn
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

type recordHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordHandler) HandleEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectAndDisconnect(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if identity := <-ts.identities; identity != "u-1" {
		t.Errorf("identity on the wire = %q, want u-1", identity)
	}

	m.Disconnect()
	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	m.Disconnect() // idempotent
}

func TestConnectSameIdentityIsNoop(t *testing.T) {
	ts := newTestServer(t)
	var dials atomic.Int32
	m := NewManager(Conf{
		URL:              ts.url(),
		DisableReconnect: true,
		Dial: func(ctx context.Context, rawURL, identity string) (*websocket.Conn, error) {
			dials.Add(1)
			return dial(ctx, rawURL, identity)
		},
	}, discardLogger())
	defer m.Disconnect()

	for i := 0; i < 3; i++ {
		if err := m.Connect(context.Background(), "u-1"); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestConnectSingleFlight(t *testing.T) {
	ts := newTestServer(t)
	var dials atomic.Int32
	m := NewManager(Conf{
		URL:              ts.url(),
		DisableReconnect: true,
		Dial: func(ctx context.Context, rawURL, identity string) (*websocket.Conn, error) {
			dials.Add(1)
			time.Sleep(50 * time.Millisecond) // widen the race window
			return dial(ctx, rawURL, identity)
		},
	}, discardLogger())
	defer m.Disconnect()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), "u-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("connect %d: %v", i, err)
		}
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestConnectDialFailure(t *testing.T) {
	m := NewManager(Conf{
		URL:              "ws://127.0.0.1:1/ws",
		DisableReconnect: true,
		Dial: func(context.Context, string, string) (*websocket.Conn, error) {
			return nil, errors.New("refused")
		},
	}, discardLogger())

	err := m.Connect(context.Background(), "u-1")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())

	err := m.Send(SendMessage{ConversationID: "c-1", LocalID: "tok-1", Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendDeliversFrame(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	if err := m.Send(SendMessage{ConversationID: "c-1", LocalID: "tok-1", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "send_message" {
		t.Fatalf("frame type = %q, want send_message", env.Type)
	}
}

func TestInboundEventsDispatched(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())
	defer m.Disconnect()
	handler := &recordHandler{}
	m.SetHandler(handler)

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	frame := []byte(`{"type":"new_message","data":{"id":"m-1","conversation_id":"c-1","sender_id":"u-2","text":"hi"}}`)
	if err := server.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	waitFor(t, func() bool { return handler.count() == 1 }, "event never dispatched")
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if _, ok := handler.events[0].(NewMessage); !ok {
		t.Fatalf("expected NewMessage, got %T", handler.events[0])
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())
	defer m.Disconnect()
	handler := &recordHandler{}
	m.SetHandler(handler)

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	if err := server.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown_kind","data":{}}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	frame := []byte(`{"type":"new_message","data":{"id":"m-1","conversation_id":"c-1","sender_id":"u-2","text":"still alive"}}`)
	if err := server.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	waitFor(t, func() bool { return handler.count() == 1 }, "valid frame lost after malformed ones")
	if got := m.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
}

func TestInboundPingAnswered(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(Conf{URL: ts.url(), DisableReconnect: true}, discardLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "pong" {
		t.Fatalf("reply type = %q, want pong", env.Type)
	}
}

func TestKeepaliveMissTriggersOneReconnect(t *testing.T) {
	ts := newTestServer(t)
	var dials atomic.Int32
	m := NewManager(Conf{
		URL:              ts.url(),
		PingPeriod:       20 * time.Millisecond,
		PongWait:         10 * time.Millisecond,
		ReconnectBackoff: 30 * time.Millisecond,
		Dial: func(ctx context.Context, rawURL, identity string) (*websocket.Conn, error) {
			// First dial succeeds; the reconnect attempt is refused so the
			// total settles and proves exactly one attempt was scheduled.
			if dials.Add(1) > 1 {
				return nil, errors.New("refused")
			}
			return dial(ctx, rawURL, identity)
		},
	}, discardLogger())
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	// The server never answers keepalive probes, so the liveness window is
	// missed and the session fails.
	waitFor(t, func() bool { return dials.Load() == 2 }, "reconnect never attempted")
	time.Sleep(100 * time.Millisecond)
	if got := dials.Load(); got != 2 {
		t.Fatalf("dials = %d, want exactly 2", got)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	ts := newTestServer(t)
	var dials atomic.Int32
	m := NewManager(Conf{
		URL:              ts.url(),
		PingPeriod:       20 * time.Millisecond,
		PongWait:         10 * time.Millisecond,
		ReconnectBackoff: 200 * time.Millisecond,
		Dial: func(ctx context.Context, rawURL, identity string) (*websocket.Conn, error) {
			dials.Add(1)
			return dial(ctx, rawURL, identity)
		},
	}, discardLogger())

	if err := m.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := ts.accept(t)
	defer server.Close()

	waitFor(t, func() bool { return m.State() == StateFailed }, "session never failed")
	m.Disconnect()

	time.Sleep(300 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 after disconnect", got)
	}
}
