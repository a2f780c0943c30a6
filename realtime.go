package buzzsway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// ChannelEnvelope is the wire format for all channel events.
type ChannelEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Channel event names. The client produces add-user and send-private-msg;
// the server pushes online-users and receive-private-msg.
const (
	EventAddUser           = "add-user"
	EventSendPrivateMsg    = "send-private-msg"
	EventOnlineUsers       = "online-users"
	EventReceivePrivateMsg = "receive-private-msg"
)

// ErrNotConnected is returned by Emit when no connection is open.
var ErrNotConnected = errors.New("channel not connected")

// ============================================================================
// Configuration
// ============================================================================

// ChannelConfig configures a realtime channel.
type ChannelConfig struct {
	URL string

	// AutoReconnect re-dials with exponential backoff after an unexpected
	// drop. Off by default: a failed connection is surfaced only by the
	// absence of presence and message updates.
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	Logger *zap.Logger
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ChannelState represents the connection state.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
	StateReconnecting ChannelState = "reconnecting"
)

// ============================================================================
// Event dispatcher
// ============================================================================

// ChannelHandler is the callback type for wire events.
type ChannelHandler func(event string, payload json.RawMessage)

type handlerEntry struct {
	id int
	fn ChannelHandler
}

type channelDispatcher struct {
	mu             sync.RWMutex
	nextID         int
	events         map[string][]handlerEntry
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newChannelDispatcher() *channelDispatcher {
	return &channelDispatcher{events: make(map[string][]handlerEntry)}
}

// on registers a handler and returns its detach func. Consumers must
// detach on teardown so a reconnect does not duplicate handling.
func (d *channelDispatcher) on(event string, h ChannelHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.events[event] = append(d.events[event], handlerEntry{id: id, fn: h})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.events[event]
		for i, e := range entries {
			if e.id == id {
				d.events[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// dispatch invokes handlers synchronously so events are applied in
// receipt order. Panics in user callbacks are swallowed.
func (d *channelDispatcher) dispatch(env ChannelEnvelope) {
	d.mu.RLock()
	entries := append([]handlerEntry(nil), d.events[env.Event]...)
	d.mu.RUnlock()

	for _, e := range entries {
		func() {
			defer func() { _ = recover() }()
			e.fn(env.Event, env.Payload)
		}()
	}
}

func (d *channelDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *channelDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *channelDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Channel
// ============================================================================

// Channel is the single realtime connection bound to a session. It owns
// the websocket lifecycle; PresenceTracker and ConversationStore attach
// independent listeners via the registration funcs and detach on their
// own teardown.
type Channel struct {
	cfg    *ChannelConfig
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ChannelState
	session  *Session
	cancelFn context.CancelFunc

	dispatcher *channelDispatcher
	recon      *reconnector
}

// NewChannel creates a channel. Call Connect to establish it.
func NewChannel(config *ChannelConfig) *Channel {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Channel{
		cfg:        &cfg,
		logger:     cfg.Logger,
		state:      StateDisconnected,
		dispatcher: newChannelDispatcher(),
		recon:      newReconnector(&cfg),
	}
}

// On registers a handler for a wire event and returns its detach func.
func (ch *Channel) On(event string, h ChannelHandler) func() {
	return ch.dispatcher.on(event, h)
}

// OnConnected registers a handler for the connected meta-event.
func (ch *Channel) OnConnected(h func()) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onConnected = append(ch.dispatcher.onConnected, h)
	ch.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ch *Channel) OnDisconnected(h func(reason string)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onDisconnected = append(ch.dispatcher.onDisconnected, h)
	ch.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ch *Channel) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ch.dispatcher.mu.Lock()
	ch.dispatcher.onReconnecting = append(ch.dispatcher.onReconnecting, h)
	ch.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Session returns the session the channel is currently bound to, or nil.
func (ch *Channel) Session() *Session {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.session
}

// Connect establishes the channel for the given session, replacing any
// previous connection — at most one is ever open. Call it again whenever
// the session's username changes; a nil session (or empty username)
// tears the channel down instead.
func (ch *Channel) Connect(ctx context.Context, session *Session) error {
	if session == nil || session.Username == "" {
		return ch.Disconnect()
	}

	ch.mu.Lock()
	prev := ch.conn
	ch.conn = nil
	if ch.cancelFn != nil {
		ch.cancelFn()
		ch.cancelFn = nil
	}
	s := *session
	ch.session = &s
	ch.state = StateConnecting
	ch.mu.Unlock()

	if prev != nil {
		_ = prev.Close(websocket.StatusNormalClosure, "reconnect")
	}

	return ch.dial(ctx)
}

func (ch *Channel) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, ch.cfg.URL, nil)
	if err != nil {
		ch.mu.Lock()
		ch.state = StateDisconnected
		ch.mu.Unlock()
		return fmt.Errorf("channel dial: %w", err)
	}

	// Connection lifetime is managed by Disconnect, not the dial context.
	connCtx, cancel := context.WithCancel(context.Background())

	ch.mu.Lock()
	ch.conn = conn
	ch.cancelFn = cancel
	ch.state = StateConnected
	username := ch.session.Username
	ch.mu.Unlock()
	ch.recon.markConnected()

	// Announce presence so the server includes this client in its roster.
	if err := writeEnvelope(ctx, conn, EventAddUser, username); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "announce failed")
		ch.mu.Lock()
		if ch.conn == conn {
			ch.conn = nil
			ch.cancelFn = nil
			ch.state = StateDisconnected
		}
		ch.mu.Unlock()
		return fmt.Errorf("announce user: %w", err)
	}

	ch.dispatcher.emitConnected()
	go ch.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the channel. It is idempotent.
func (ch *Channel) Disconnect() error {
	ch.mu.Lock()
	conn := ch.conn
	ch.conn = nil
	if ch.cancelFn != nil {
		ch.cancelFn()
		ch.cancelFn = nil
	}
	ch.state = StateDisconnected
	ch.session = nil
	ch.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	ch.dispatcher.emitDisconnected("client disconnect")
	return err
}

// Emit sends an event over the channel.
func (ch *Channel) Emit(ctx context.Context, event string, payload interface{}) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return writeEnvelope(ctx, conn, event, payload)
}

// SendPrivateMessage emits a send-private-msg event. The server persists
// the message and echoes it to both participants, sender included; the
// local view picks the message up from that echo like any other push.
func (ch *Channel) SendPrivateMessage(ctx context.Context, msg Message) error {
	return ch.Emit(ctx, EventSendPrivateMsg, msg)
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // replaced or intentionally closed
			}

			ch.mu.Lock()
			if ch.conn == conn {
				ch.conn = nil
				ch.state = StateDisconnected
			}
			session := ch.session
			ch.mu.Unlock()

			ch.logger.Debug("channel dropped", zap.Error(err))
			ch.dispatcher.emitDisconnected(err.Error())

			if ch.cfg.AutoReconnect && session != nil && ch.recon.shouldReconnect() {
				ch.scheduleReconnect(session)
			}
			return
		}

		var env ChannelEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		// Synchronous dispatch: receipt order is application order.
		ch.dispatcher.dispatch(env)
	}
}

func (ch *Channel) scheduleReconnect(session *Session) {
	delay := ch.recon.nextDelay()
	ch.mu.Lock()
	ch.state = StateReconnecting
	ch.mu.Unlock()

	ch.dispatcher.emitReconnecting(ch.recon.attempt, delay)
	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := ch.Connect(ctx, session); err != nil {
		if ch.cfg.AutoReconnect && ch.recon.shouldReconnect() {
			ch.scheduleReconnect(session)
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(ChannelEnvelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
