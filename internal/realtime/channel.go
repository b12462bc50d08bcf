package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prperemyshlev/chatsync/internal/config"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State of the realtime channel
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange is delivered to state listeners. Err is set when a failure caused the change.
type StateChange struct {
	From State
	To   State
	Err  error
}

// CloseAuthRejected is the close code the backend sends when it revokes a token mid-connection
const CloseAuthRejected = 4401

const stateEvent domain.Event = "$state"

// Channel is the single logical realtime connection of an authenticated session.
// Handlers and state listeners run on one dispatcher goroutine, in delivery order.
type Channel struct {
	cfg     config.RealtimeConfig
	dialer  Dialer
	logger  *zap.Logger
	metrics *channelMetrics

	events   *Registry[json.RawMessage]
	states   *Registry[StateChange]
	dispatch *dispatcher
	connects singleflight.Group

	mu     sync.Mutex
	state  State
	token  string
	conn   Conn
	epoch  uint64
	cancel context.CancelFunc
	closed bool

	writeMu sync.Mutex

	transportsOpened atomic.Int64
}

// NewChannel creates a disconnected channel and starts its dispatcher
func NewChannel(cfg config.RealtimeConfig, dialer Dialer, meter metric.Meter, logger *zap.Logger) *Channel {
	backlog := cfg.InboxSize
	if backlog <= 0 {
		backlog = 256
	}
	return &Channel{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		metrics:  newChannelMetrics(meter, logger),
		events:   NewRegistry[json.RawMessage](),
		states:   NewRegistry[StateChange](),
		dispatch: newDispatcher(backlog, logger),
	}
}

// On registers a raw handler for event and returns its disposer
func (c *Channel) On(event domain.Event, fn func(json.RawMessage)) func() {
	return c.events.On(event, fn)
}

// OnEvent registers a typed handler. Payloads that fail to decode are logged and skipped.
func OnEvent[T any](c *Channel, event domain.Event, fn func(T)) func() {
	return c.On(event, func(raw json.RawMessage) {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.logger.Warn("Dropping undecodable event", zap.String("event", string(event)), zap.Error(err))
			return
		}
		fn(payload)
	})
}

// OnStateChange registers a state listener and returns its disposer
func (c *Channel) OnStateChange(fn func(StateChange)) func() {
	return c.states.On(stateEvent, fn)
}

// State returns the current state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransportsOpened returns how many transports were successfully opened since creation
func (c *Channel) TransportsOpened() int64 {
	return c.transportsOpened.Load()
}

// Connect opens the channel with token. It is a no-op when already connected (or
// reconnecting) with the same token, replaces the transport when the token differs,
// and coalesces concurrent calls so only one transport is dialed.
func (c *Channel) Connect(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrNotAuthenticated
	}
	if c.isCurrent(token) {
		return nil
	}

	_, err, _ := c.connects.Do(token, func() (any, error) {
		return nil, c.connect(ctx, token)
	})
	return err
}

func (c *Channel) isCurrent(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token == token && (c.state == Connected || c.state == Reconnecting)
}

func (c *Channel) connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.token == token && (c.state == Connected || c.state == Reconnecting) {
		c.mu.Unlock()
		return nil
	}

	prevState := c.state
	old, oldCancel := c.teardownLocked()
	c.epoch++
	epoch := c.epoch
	c.token = token
	c.state = Connecting
	lifetime, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.notify(prevState, Connecting, nil)
	c.mu.Unlock()

	closeConn(old, oldCancel)

	conn, err := c.dialer.Dial(ctx, c.cfg.URL, token)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("connect superseded: %w", domain.ErrSessionChanged)
	}

	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.state = Disconnected
			c.token = ""
			c.cancel = nil
			c.notify(Connecting, Disconnected, err)
			c.mu.Unlock()
			cancel()
			c.logger.Warn("Realtime handshake rejected", zap.Error(err))
			return err
		}

		c.state = Reconnecting
		c.notify(Connecting, Reconnecting, err)
		c.mu.Unlock()
		c.logger.Warn("Realtime connect failed, retrying in background", zap.Error(err))
		go c.reconnectLoop(lifetime, epoch, token)
		return err
	}

	c.installLocked(lifetime, conn, Connecting)
	c.mu.Unlock()

	c.logger.Info("Realtime channel connected")
	return nil
}

// installLocked makes conn the live transport and starts its loops. c.mu must be held.
// The Connected notification is queued before the read loop can deliver any event.
func (c *Channel) installLocked(lifetime context.Context, conn Conn, from State) {
	c.conn = conn
	c.state = Connected
	c.transportsOpened.Add(1)
	c.metrics.transportsOpened.Add(lifetime, 1)
	c.notify(from, Connected, nil)

	epoch := c.epoch
	done := make(chan struct{})
	go c.readLoop(lifetime, epoch, conn, done)
	go c.pingLoop(lifetime, conn, done)
}

// teardownLocked detaches the live transport. c.mu must be held.
func (c *Channel) teardownLocked() (Conn, context.CancelFunc) {
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.cancel = nil
	return conn, cancel
}

func closeConn(conn Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Disconnect closes the channel. It is idempotent and valid in every state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	prev := c.state
	c.epoch++
	conn, cancel := c.teardownLocked()
	c.token = ""
	c.state = Disconnected
	if prev != Disconnected {
		c.notify(prev, Disconnected, nil)
	}
	c.mu.Unlock()

	closeConn(conn, cancel)
	if prev != Disconnected {
		c.logger.Info("Realtime channel disconnected")
	}
}

// Emit sends an outbound event on the live transport
func (c *Channel) Emit(ctx context.Context, event domain.Event, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if conn == nil || !connected {
		return fmt.Errorf("emit %s: %w", event, domain.ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout.Duration)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w: %v", event, domain.ErrNetwork, err)
	}
	return nil
}

// Flush waits until every event and state change delivered so far has been handled
func (c *Channel) Flush(ctx context.Context) error {
	return c.dispatch.flush(ctx)
}

// Close disconnects and stops the dispatcher. The channel cannot be reused.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.dispatch.flush(ctx)
	c.dispatch.close()
}

// notify queues a state change for listeners. Callers hold c.mu so changes queue in order.
func (c *Channel) notify(from, to State, err error) {
	change := StateChange{From: from, To: to, Err: err}
	c.dispatch.enqueue(func() {
		for _, fn := range c.states.Handlers(stateEvent) {
			c.dispatch.call(func() { fn(change) })
		}
	})
}

func (c *Channel) deliver(env Envelope) {
	c.dispatch.enqueue(func() {
		for _, fn := range c.events.Handlers(env.Type) {
			c.dispatch.call(func() { fn(env.Payload) })
		}
	})
}

func (c *Channel) readLoop(ctx context.Context, epoch uint64, conn Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(ctx, epoch, conn, err)
			return
		}

		env, err := Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		c.metrics.eventsReceived.Add(ctx, 1)
		c.deliver(env)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn Conn, done <-chan struct{}) {
	interval := c.cfg.PingInterval.Duration
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout.Duration)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Keepalive ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// handleDrop reacts to a transport that stopped reading
func (c *Channel) handleDrop(ctx context.Context, epoch uint64, conn Conn, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	token := c.token

	if websocket.IsCloseError(cause, CloseAuthRejected, websocket.ClosePolicyViolation) {
		cancel := c.cancel
		c.cancel = nil
		c.token = ""
		c.state = Disconnected
		c.epoch++
		c.notify(Connected, Disconnected, fmt.Errorf("server closed channel: %w", domain.ErrUnauthorized))
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		_ = conn.Close()
		c.logger.Warn("Realtime session rejected by server", zap.Error(cause))
		return
	}

	c.state = Reconnecting
	c.notify(Connected, Reconnecting, cause)
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("Realtime transport dropped", zap.Error(cause))
	go c.reconnectLoop(ctx, epoch, token)
}

func (c *Channel) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectInitial.Duration > 0 {
		b.InitialInterval = c.cfg.ReconnectInitial.Duration
	}
	if c.cfg.ReconnectMax.Duration > 0 {
		b.MaxInterval = c.cfg.ReconnectMax.Duration
	}
	b.MaxElapsedTime = c.cfg.ReconnectMaxElapsed.Duration
	b.Reset()
	return backoff.WithContext(b, ctx)
}

var errSuperseded = errors.New("reconnect superseded")

func (c *Channel) reconnectLoop(ctx context.Context, epoch uint64, token string) {
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		c.metrics.reconnects.Add(ctx, 1)
		conn, err := c.dialer.Dial(ctx, c.cfg.URL, token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("Reconnect attempt failed", zap.Error(err))
			return err
		}

		c.mu.Lock()
		if c.epoch != epoch || c.state != Reconnecting {
			c.mu.Unlock()
			_ = conn.Close()
			return backoff.Permanent(errSuperseded)
		}
		c.installLocked(ctx, conn, Reconnecting)
		c.mu.Unlock()
		return nil
	}

	err := backoff.Retry(attempt, c.newBackOff(ctx))
	if err == nil {
		c.logger.Info("Realtime channel reconnected")
		return
	}
	if errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) {
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel = nil
	c.token = ""
	c.state = Disconnected
	c.epoch++
	c.notify(Reconnecting, Disconnected, err)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Warn("Realtime channel gave up reconnecting", zap.Error(err))
}
