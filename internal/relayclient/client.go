// Package relayclient maintains a single logical channel to the relay
// server on top of an unreliable WebSocket, and routes inbound completion
// events to the caller waiting on each session.
//
// The client reconnects with exponential backoff and delivers each session's
// completion at most once, through a buffered channel resolved by the frame
// dispatcher. A completion that arrives with nobody subscribed is logged and
// dropped; there is no redelivery.
package relayclient

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codecowboy/cowboy/internal/relay"
)

// Reconnection defaults, used when Config leaves them zero.
const (
	DefaultInitialBackoff   = 1 * time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultMaxAttempts      = 5
	DefaultHandshakeTimeout = 5 * time.Second
)

// ErrClosed is returned by Connect after the client has been closed.
var ErrClosed = errors.New("relay client is closed")

// state is the client's position in its connection lifecycle.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateReconnectScheduled
	stateGaveUp
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnectScheduled:
		return "reconnect-scheduled"
	case stateGaveUp:
		return "gave-up"
	default:
		return "disconnected"
	}
}

// CompletionEvent is the resolved outcome of a generation or refinement job.
type CompletionEvent struct {
	SessionID      string
	Success        bool
	Data           *relay.GenerationData
	Error          string
	ProcessingTime float64
}

// ProgressEvent is an intermediate status update for a running job.
type ProgressEvent struct {
	SessionID string
	Stage     string
	Message   string
}

// Subscription is a registration of interest in one session's next
// completion. C yields at most one event; the dispatcher removes the
// subscription before resolving it, so a second frame for the same session
// cannot resolve it twice. C is closed without a value when the
// subscription is superseded, unsubscribed, or the client shuts down.
type Subscription struct {
	SessionID string
	C         <-chan CompletionEvent

	ch         chan CompletionEvent
	onProgress func(ProgressEvent)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithProgress attaches a callback for progress frames carrying this
// subscription's session id.
func WithProgress(fn func(ProgressEvent)) SubscribeOption {
	return func(s *Subscription) {
		s.onProgress = fn
	}
}

// Config holds the relay client configuration.
type Config struct {
	// URL is the relay's WebSocket endpoint (e.g. "ws://127.0.0.1:8080/ws").
	URL string
	// InitialBackoff is the first reconnect delay (default 1s).
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling delay (default 30s).
	MaxBackoff time.Duration
	// MaxAttempts is the number of reconnects before giving up (default 5).
	MaxAttempts int
	// HandshakeTimeout bounds each dial attempt (default 5s).
	HandshakeTimeout time.Duration
	// Logger receives client events. If nil, logging is disabled.
	Logger *slog.Logger
}

// Status is a point-in-time snapshot of the client, used for advisory
// pre-flight checks. It does not gate delivery.
type Status struct {
	Connected         bool
	ReconnectAttempts int
	Subscribers       int
}

// Client is the relay client. Construct it with New and inject it where
// needed; it owns no global state.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    state
	attempts int
	subs     map[string]*Subscription
	timer    *time.Timer
	closed   bool
}

// New creates a relay client. No connection is made until Connect is called
// or a Subscribe triggers one.
func New(cfg Config) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[string]*Subscription),
	}
}

// Connect dials the relay, starting a fresh attempt cycle. On dial failure
// the error is returned and background reconnection begins from the initial
// delay.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.attempts = 0
	if c.state == stateConnected || c.state == stateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.state = stateConnecting
	c.mu.Unlock()

	return c.dial()
}

// Subscribe registers interest in the session's next completion, replacing
// any prior entry for the same id. If the client is idle or has given up
// reconnecting, a fresh connection cycle starts as a side effect. On a
// closed client the subscription comes back with its channel already
// closed, so waiters fail fast instead of blocking on an event that can
// never arrive.
func (c *Client) Subscribe(sessionID string, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		ch:        make(chan CompletionEvent, 1),
	}
	sub.C = sub.ch
	for _, opt := range opts {
		opt(sub)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if prior, ok := c.subs[sessionID]; ok {
		close(prior.ch)
	}
	c.subs[sessionID] = sub
	needConnect := c.state == stateDisconnected || c.state == stateGaveUp
	if needConnect {
		c.attempts = 0
		c.state = stateConnecting
	}
	c.mu.Unlock()

	if needConnect {
		go c.dial()
	}
	return sub
}

// Unsubscribe removes the session's subscription unconditionally and
// closes its channel, unblocking any waiter. Calling it for an id with no
// active subscription is a no-op.
func (c *Client) Unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[sessionID]; ok {
		close(sub.ch)
		delete(c.subs, sessionID)
	}
}

// Status returns a snapshot of the connection and registry.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:         c.state == stateConnected,
		ReconnectAttempts: c.attempts,
		Subscribers:       len(c.subs),
	}
}

// Close disconnects and clears all subscriptions. The client is terminal
// afterwards: no reconnection is attempted and Connect returns ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.state = stateDisconnected
	c.stopTimerLocked()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// dial performs one connection attempt. On failure the next attempt is
// scheduled with backoff; on success the read loop takes over.
func (c *Client) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.state = stateConnected
	c.attempts = 0
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Connected to relay", "url", c.cfg.URL)
	}

	go c.readLoop(conn)
	return nil
}

// scheduleReconnectLocked arms the next attempt, or gives up once the
// attempt budget is spent. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxAttempts {
		c.state = stateGaveUp
		if c.logger != nil {
			c.logger.Warn("Giving up on relay reconnection",
				"attempts", c.attempts, "url", c.cfg.URL)
		}
		return
	}

	c.attempts++
	delay := c.backoffDelay(c.attempts)
	c.state = stateReconnectScheduled
	if c.logger != nil {
		c.logger.Debug("Scheduling relay reconnect",
			"attempt", c.attempts, "delay", delay)
	}

	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || c.state != stateReconnectScheduled {
			c.mu.Unlock()
			return
		}
		c.state = stateConnecting
		c.mu.Unlock()
		c.dial()
	})
}

// backoffDelay returns the delay before the given attempt: the initial
// delay doubled per attempt, capped at the maximum.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if delay > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return delay
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// readLoop consumes frames from one connection until it drops, then hands
// control back to the reconnect machinery.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// handleDisconnect reacts to a dropped connection. A stale connection (one
// the client already replaced or closed) is ignored.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.logger != nil {
		c.logger.Warn("Relay connection lost", "error", err)
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// wireFrame is the superset of all server frame shapes.
type wireFrame struct {
	Type           string                `json:"type"`
	SessionID      string                `json:"sessionId"`
	Success        bool                  `json:"success"`
	Data           *relay.GenerationData `json:"data,omitempty"`
	Error          string                `json:"error,omitempty"`
	ProcessingTime float64               `json:"processingTime,omitempty"`
	Stage          string                `json:"stage,omitempty"`
	Message        string                `json:"message,omitempty"`
}

// dispatch routes one inbound frame. Unknown frame types are ignored.
func (c *Client) dispatch(data []byte) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		if c.logger != nil {
			c.logger.Warn("Invalid frame from relay", "error", err)
		}
		return
	}

	switch f.Type {
	case relay.FrameTypeConnection:
		if c.logger != nil {
			c.logger.Debug("Relay connection confirmed")
		}

	case relay.FrameTypeComplete:
		// Remove the subscription before resolving it: exactly-once per
		// subscription, even if a duplicate frame follows.
		c.mu.Lock()
		sub, ok := c.subs[f.SessionID]
		if ok {
			delete(c.subs, f.SessionID)
		}
		c.mu.Unlock()

		if !ok {
			if c.logger != nil {
				c.logger.Info("Dropping completion with no subscriber",
					"session_id", f.SessionID)
			}
			return
		}

		sub.ch <- CompletionEvent{
			SessionID:      f.SessionID,
			Success:        f.Success,
			Data:           f.Data,
			Error:          f.Error,
			ProcessingTime: f.ProcessingTime,
		}

	case relay.FrameTypeProgress:
		c.mu.Lock()
		var onProgress func(ProgressEvent)
		if sub, ok := c.subs[f.SessionID]; ok {
			onProgress = sub.onProgress
		}
		c.mu.Unlock()

		if onProgress != nil {
			onProgress(ProgressEvent{
				SessionID: f.SessionID,
				Stage:     f.Stage,
				Message:   f.Message,
			})
		}
	}
}
