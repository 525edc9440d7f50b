// Package realtime owns the persistent bidirectional channel to the server:
// connect, authenticate, reconnect with backoff, and named event fan-in/out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1 << 20

	sendBuffer = 256
)

var (
	// ErrNotConnected is returned by Emit when no channel is live.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrUnauthorized marks a handshake the server rejected outright.
	// Reconnecting against a dead token is pointless; the session gate
	// decides when to try again.
	ErrUnauthorized = errors.New("realtime: handshake unauthorized")
)

// State of the logical connection. Exactly zero or one live channel exists
// per manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn is the subset of *websocket.Conn the manager drives. Tests inject a
// fake through Options.Dial.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// DialFunc opens a websocket to url with the handshake headers.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Handler receives the raw payload of one event occurrence.
type Handler func(data json.RawMessage)

type Options struct {
	URL              string
	ConnectTimeout   time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Dial             DialFunc
	Logger           *slog.Logger

	// TokenSource, when set, is consulted before every handshake so a
	// reconnect after a mid-session token refresh dials with the current
	// token instead of the one Connect was called with.
	TokenSource func() string
}

// Manager keeps at most one channel alive for the current token and
// reconnects on transport loss with capped backoff, unlimited attempts.
type Manager struct {
	opts Options
	dial DialFunc
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	send    chan []byte
	done    chan struct{}
	token   string
	gen     int
	lastErr error

	hmu      sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
}

func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dial := opts.Dial
	if dial == nil {
		dial = gorillaDial
	}
	return &Manager{
		opts:     opts,
		dial:     dial,
		log:      opts.Logger,
		state:    StateDisconnected,
		handlers: make(map[EventType]map[int]Handler),
	}
}

func gorillaDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}
	return conn, nil
}

// Connect opens the channel if one is not already active. Calling it while
// connected, connecting or reconnecting is a no-op, so exactly one
// handshake happens no matter how often the gate asks. A missing token only
// logs: the gate is responsible for not asking for a connection it cannot
// have.
func (m *Manager) Connect(token string) {
	if token == "" {
		m.log.Debug("connect skipped, no token")
		return
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		m.log.Debug("connect skipped, channel already active", "state", state.String())
		return
	}
	m.closeConnLocked()
	m.token = token
	m.lastErr = nil
	m.gen++
	gen := m.gen
	done := make(chan struct{})
	m.done = done
	m.state = StateConnecting
	m.mu.Unlock()

	go m.run(gen, done)
}

// Disconnect closes the channel, stops reconnection and clears the token.
// Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.closeConnLocked()
	m.token = ""
	m.state = StateDisconnected
	m.mu.Unlock()
	m.log.Info("realtime channel disconnected")
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a live channel exists right now.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Active reports whether the manager is holding or pursuing a channel. The
// gate treats connecting and reconnecting the same as connected: asking for
// another channel would violate the single-connection invariant.
func (m *Manager) Active() bool {
	return m.State() != StateDisconnected
}

// LastError returns the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// On registers fn for event and returns the function that detaches it.
// Consumers must detach on teardown so reconnects do not double-handle.
func (m *Manager) On(event EventType, fn Handler) (off func()) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	id := m.nextID
	m.nextID++
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.handlers[event][id] = fn
	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		delete(m.handlers[event], id)
	}
}

// Emit sends a named event over the channel. Best effort: ErrNotConnected
// when no channel is live, and a full send buffer drops the frame rather
// than blocking the caller.
func (m *Manager) Emit(event EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	frame, err := json.Marshal(Event{Type: event, Data: data})
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}

	m.mu.Lock()
	if m.state != StateConnected || m.send == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	send := m.send
	m.mu.Unlock()

	select {
	case send <- frame:
		return nil
	default:
		m.log.Warn("send buffer full, dropping frame", "event", event.String())
		return ErrNotConnected
	}
}

func (m *Manager) run(gen int, done chan struct{}) {
	delay := m.opts.ReconnectInitial
	for {
		connected, err := m.runOnce(gen, done)
		if m.stale(gen) {
			return
		}
		if err == nil {
			// torn down by Disconnect
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			m.mu.Lock()
			if gen == m.gen {
				m.lastErr = err
				m.state = StateDisconnected
			}
			m.mu.Unlock()
			m.log.Error("realtime handshake rejected, not retrying", "error", err)
			return
		}
		if connected {
			delay = m.opts.ReconnectInitial
		}
		m.mu.Lock()
		if gen == m.gen {
			m.lastErr = err
			m.state = StateReconnecting
		}
		m.mu.Unlock()
		m.log.Warn("realtime channel lost, reconnecting", "delay", delay, "error", err)

		select {
		case <-done:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.opts.ReconnectMax {
			delay = m.opts.ReconnectMax
		}
	}
}

// runOnce performs one handshake and, on success, pumps the connection
// until it drops or done closes. It reports whether a channel was ever
// established in this attempt.
func (m *Manager) runOnce(gen int, done chan struct{}) (bool, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if m.opts.TokenSource != nil {
		if fresh := m.opts.TokenSource(); fresh != "" {
			token = fresh
			m.mu.Lock()
			if gen == m.gen {
				m.token = fresh
			}
			m.mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, err := m.dial(ctx, m.opts.URL, header)
	cancel()
	if err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return false, nil
	}
	send := make(chan []byte, sendBuffer)
	m.conn = conn
	m.send = send
	m.state = StateConnected
	m.mu.Unlock()
	m.log.Info("realtime channel connected")

	errc := make(chan error, 2)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- m.readPump(conn)
	}()
	go func() {
		defer wg.Done()
		errc <- m.writePump(conn, send, stop)
	}()

	var runErr error
	select {
	case runErr = <-errc:
	case <-done:
	}
	close(stop)
	conn.Close()
	wg.Wait()

	m.mu.Lock()
	if gen == m.gen {
		m.conn = nil
		m.send = nil
	}
	m.mu.Unlock()
	return true, runErr
}

func (m *Manager) readPump(conn Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("read: %w", err)
			}
			return fmt.Errorf("closed: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.log.Warn("malformed frame dropped", "error", err)
			continue
		}
		if ev.Type == "" {
			continue
		}
		m.dispatch(&ev)
	}
}

func (m *Manager) writePump(conn Conn, send chan []byte, stop chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, nil)
			return nil
		}
	}
}

func (m *Manager) dispatch(ev *Event) {
	m.hmu.RLock()
	fns := make([]Handler, 0, len(m.handlers[ev.Type]))
	for _, fn := range m.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	m.hmu.RUnlock()

	for _, fn := range fns {
		fn(ev.Data)
	}
}

func (m *Manager) stale(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.gen
}

func (m *Manager) closeConnLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.send = nil
}
