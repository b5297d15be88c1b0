package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"ChatCore/internal/lib/sl"

	"github.com/gorilla/websocket"
)

const (
	defaultPingPeriod = 30 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultBackoff    = 5 * time.Second
	maxMessageSize    = 64 << 10
)

// ErrNotConnected is returned by Send when there is no live transport.
// Recoverable: callers re-issue after the manager reports Connected again.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionFailed wraps transport-level dial and stream failures.
var ErrConnectionFailed = errors.New("connection failed")

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conf configures a Manager. Zero values are normalized to defaults; Clock
// and Dial are injectable for tests.
type Conf struct {
	URL              string
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	ReconnectBackoff time.Duration
	DisableReconnect bool
	Clock            func() time.Time
	Dial             func(ctx context.Context, rawURL, identity string) (*websocket.Conn, error)
}

func (c *Conf) norm() {
	if c.PingPeriod <= 0 {
		c.PingPeriod = defaultPingPeriod
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultBackoff
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Dial == nil {
		c.Dial = dial
	}
}

func dial(ctx context.Context, rawURL, identity string) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// EventHandler consumes decoded inbound events. The manager invokes it on a
// single goroutine, in arrival order.
type EventHandler interface {
	HandleEvent(ev Event)
}

// session is one physical connection. A session is never reused across
// identities; user change or reconnect always dials fresh.
type session struct {
	identity string
	conn     *websocket.Conn
	stop     chan struct{}
	once     sync.Once
	lastSeen atomic.Int64 // unix nanos of the last liveness signal
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// Manager owns the transport connection lifecycle, keepalive and the bounded
// reconnect policy.
type Manager struct {
	conf    Conf
	log     *slog.Logger
	handler EventHandler
	onState func(State)

	mu        sync.Mutex
	wmu       sync.Mutex // serializes writes to the active socket
	state     State
	identity  string
	inflight  *attempt
	sess      *session
	reconnect *time.Timer
}

// attempt is an in-flight connect shared by concurrent callers.
type attempt struct {
	identity string
	done     chan struct{}
	err      error
}

func NewManager(conf Conf, log *slog.Logger) *Manager {
	conf.norm()
	return &Manager{
		conf:  conf,
		log:   log.With(sl.Module("ws.manager")),
		state: StateIdle,
	}
}

// SetHandler sets the consumer of decoded inbound events.
func (m *Manager) SetHandler(h EventHandler) {
	m.handler = h
}

// OnStateChange registers a callback for lifecycle transitions. Used by the
// presentation layer for its connection flag.
func (m *Manager) OnStateChange(fn func(State)) {
	m.onState = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onState != nil {
		go m.onState(s)
	}
}

// Connect establishes one logical connection for identity. Connecting while
// already connected under the same identity is a no-op; if another connect is
// in flight, the caller awaits that attempt instead of racing a second
// transport open.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("empty identity")
	}

	for {
		m.mu.Lock()
		if m.state == StateConnected && m.sess != nil && m.identity == identity {
			m.mu.Unlock()
			return nil
		}
		if a := m.inflight; a != nil {
			m.mu.Unlock()
			select {
			case <-a.done:
				if a.identity == identity {
					return a.err
				}
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Connected under a different identity: tear down first, never
		// mutate a live session in place.
		if s := m.sess; s != nil {
			m.sess = nil
			s.close()
		}
		if m.reconnect != nil {
			m.reconnect.Stop()
			m.reconnect = nil
		}

		a := &attempt{identity: identity, done: make(chan struct{})}
		m.inflight = a
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		conn, err := m.conf.Dial(ctx, m.conf.URL, identity)

		m.mu.Lock()
		m.inflight = nil
		if err != nil {
			m.setStateLocked(StateFailed)
			m.mu.Unlock()
			a.err = fmt.Errorf("%w: %s", ErrConnectionFailed, err)
			close(a.done)
			m.log.Warn("dial failed", slog.String("identity", identity), sl.Err(err))
			return a.err
		}

		s := &session{identity: identity, conn: conn, stop: make(chan struct{})}
		s.lastSeen.Store(m.conf.Clock().UnixNano())
		conn.SetReadLimit(maxMessageSize)

		m.sess = s
		m.identity = identity
		m.setStateLocked(StateConnected)
		m.mu.Unlock()
		close(a.done)

		go m.readPump(s)
		go m.keepalive(s)

		m.log.Info("connected", slog.String("identity", identity))
		return nil
	}
}

// Disconnect tears down the transport, cancels keepalive and any pending
// reconnect. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	s := m.sess
	m.sess = nil
	if s != nil {
		m.setStateLocked(StateDisconnecting)
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if s != nil {
		s.close()
		m.log.Info("disconnected", slog.String("identity", s.identity))
	}
}

// Send transmits an outbound event. Fails with ErrNotConnected unless the
// manager is in the Connected state; the caller surfaces a retryable error,
// it must never silently drop the data.
func (m *Manager) Send(out Outbound) error {
	m.mu.Lock()
	s := m.sess
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || s == nil {
		return ErrNotConnected
	}

	data, err := Encode(out)
	if err != nil {
		return err
	}

	m.wmu.Lock()
	defer m.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(m.conf.Clock().Add(m.conf.WriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		go m.fail(s)
		return fmt.Errorf("%w: write: %s", ErrConnectionFailed, err)
	}
	return nil
}

// readPump reads, decodes and dispatches inbound frames until the stream
// breaks. Malformed frames are logged and dropped without tearing down the
// connection.
func (m *Manager) readPump(s *session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				return // deliberate teardown
			default:
			}
			m.log.Warn("read error", slog.String("identity", s.identity), sl.Err(err))
			m.fail(s)
			return
		}

		ev, err := Decode(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			m.log.Warn("dropping malformed event", sl.Err(err), slog.String("sample", string(sample)))
			continue
		}

		switch ev.(type) {
		case Ping:
			// A probe is always answered, so the peer's own liveness
			// tracking stays satisfied.
			s.lastSeen.Store(m.conf.Clock().UnixNano())
			if err := m.Send(Pong{}); err != nil {
				m.log.Debug("pong reply failed", sl.Err(err))
			}
		case Pong:
			s.lastSeen.Store(m.conf.Clock().UnixNano())
		default:
			if m.handler != nil {
				m.handler.HandleEvent(ev)
			}
		}
	}
}

// keepalive probes the peer every ping period and fails the session when no
// liveness signal arrived within period+wait. The timer dies with the
// session; it never fires against a torn-down connection.
func (m *Manager) keepalive(s *session) {
	ticker := time.NewTicker(m.conf.PingPeriod)
	defer ticker.Stop()

	window := m.conf.PingPeriod + m.conf.PongWait
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastSeen.Load())
			if m.conf.Clock().Sub(last) > window {
				m.log.Warn("liveness window missed",
					slog.String("identity", s.identity),
					slog.Duration("window", window),
				)
				m.fail(s)
				return
			}
			if err := m.Send(Ping{}); err != nil {
				return
			}
		}
	}
}

// fail transitions a broken session to Failed and schedules exactly one
// reconnect attempt with the same identity. A session that is no longer
// current is only closed.
func (m *Manager) fail(s *session) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		s.close()
		return
	}
	m.sess = nil
	m.setStateLocked(StateFailed)

	scheduled := false
	if !m.conf.DisableReconnect && m.reconnect == nil {
		identity := s.identity
		m.reconnect = time.AfterFunc(m.conf.ReconnectBackoff, func() {
			m.mu.Lock()
			m.reconnect = nil
			m.mu.Unlock()
			if err := m.Connect(context.Background(), identity); err != nil {
				m.log.Warn("reconnect failed", slog.String("identity", identity), sl.Err(err))
			}
		})
		scheduled = true
	}
	m.mu.Unlock()

	s.close()
	m.log.Warn("connection failed",
		slog.String("identity", s.identity),
		slog.Bool("reconnect_scheduled", scheduled),
	)
}
