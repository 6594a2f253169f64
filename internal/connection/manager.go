package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
)

// Manager owns one physical connection to the notification server. It runs
// the connection state machine, reconnects with exponential backoff, sends
// heartbeats while connected, queues outbound messages while disconnected and
// dispatches inbound messages to subscribers by type.
//
// Manager is safe for concurrent use. State lives behind a single mutex and
// callbacks (state listeners and subscribers) are delivered one at a time,
// in emission order, outside that mutex; a call that triggers callbacks
// returns only after they have run. The replay to a newly registered state
// listener runs on the registering goroutine. Callbacks may call back into
// the Manager but must not block on another goroutine that does.
type Manager struct {
	cfg      ManagerConfig
	auth     AuthProvider
	dialer   Dialer
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	mu sync.Mutex

	state       State
	transport   Transport
	connGen     uint64 // bumped per dial; events from older transports are ignored
	opened      bool
	intentional bool
	attempts    int
	authFailed  bool // current transport reported ErrUnauthorized
	authRetried bool // the current dial follows a token refresh

	queue []queuedMessage

	reconnectTimer *clock.Timer
	reconnectSeq   uint64
	heartbeatTimer *clock.Timer
	heartbeatSeq   uint64
	pongTimer      *clock.Timer
	pongSeq        uint64

	refreshCancel context.CancelFunc
	refreshSeq    uint64

	subscribers *registry
	listeners   handlerList[StateHandler]

	pending  []func()
	draining bool
	drainer  uint64 // goroutine delivering pending
	emitted  bool   // the current lock holder queued a delivery

	stopLogout func()
	closeOnce  sync.Once
}

type queuedMessage struct {
	msgType string
	data    []byte
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for reconnect and heartbeat timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager creates a Connection Manager in StateDisconnected. If auth
// implements LogoutNotifier, the manager disconnects when the session ends.
func NewManager(cfg ManagerConfig, auth AuthProvider, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg.withDefaults(),
		auth:        auth,
		dialer:      dialer,
		clock:       clock.New(),
		logger:      slog.Default(),
		observer:    nopObserver{},
		state:       StateDisconnected,
		subscribers: newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")

	if n, ok := auth.(LogoutNotifier); ok {
		m.stopLogout = n.OnLogout(func() {
			m.logger.Info("session ended, disconnecting")
			m.Disconnect()
		})
	}

	return m
}

// Connect opens a connection unless one is already open or in progress.
// Without an access token it logs and returns; the caller is expected to
// retry after authenticating. An explicit Connect starts a fresh reconnect
// budget.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()

	if m.transport != nil || m.refreshCancel != nil {
		m.logger.Debug("connect ignored, connection open or in progress", "state", m.state)
		return
	}
	m.attempts = 0
	m.authRetried = false
	m.connectLocked()
}

// Disconnect closes the connection, stops all timers, cancels any in-flight
// token refresh and discards queued messages. The manager stays
// disconnected until Connect is called.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()

	m.intentional = true
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	m.cancelRefreshLocked()

	if t := m.transport; t != nil {
		m.releaseTransportLocked()
		if err := t.Close(CloseNormal, "client disconnect"); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
	}

	if n := len(m.queue); n > 0 {
		m.logger.Info("discarding queued messages", "count", n)
		m.queue = nil
	}

	m.setStateLocked(StateDisconnected)
}

// Close disconnects and stops listening for logout. The Manager can still
// be reconnected with Connect.
func (m *Manager) Close() {
	m.Disconnect()
	m.closeOnce.Do(func() {
		if m.stopLogout != nil {
			m.stopLogout()
		}
	})
}

// Send transmits msg if the connection is open, otherwise appends it to the
// outbound queue for delivery on the next successful open. Only encoding
// failures are returned.
func (m *Manager) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	q := queuedMessage{msgType: msg.Type, data: data}

	m.mu.Lock()
	defer m.unlock()

	if m.isOpenLocked() {
		if err := m.writeLocked(q); err == nil {
			return nil
		}
	}
	m.enqueueLocked(q)
	return nil
}

// On registers h for inbound messages of eventType. Use ChannelMessage to
// receive every message. The returned function removes this registration only.
func (m *Manager) On(eventType string, h Handler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.subscribers.add(eventType, h)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.subscribers.remove(eventType, id)
			m.mu.Unlock()
		})
	}
}

// OnConnectionStateChange registers h for state transitions. h is called
// with the current state on the caller's goroutine before this returns;
// transitions that race with that first call are delivered after it.
func (m *Manager) OnConnectionStateChange(h StateHandler) (unsubscribe func()) {
	l := &stateListener{m: m, h: h}

	m.mu.Lock()
	id := m.listeners.add(l.deliver)
	current := m.state
	m.unlock()

	l.replay(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.listeners.remove(id)
			m.mu.Unlock()
		})
	}
}

// IsConnected reports whether the physical connection is open right now.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpenLocked()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the number of reconnects scheduled since the
// last successful open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// QueueLen returns the number of queued outbound messages.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// connectLocked dials a new transport.
func (m *Manager) connectLocked() {
	token := m.auth.AccessToken()
	if token == "" {
		m.logger.Warn("no access token, connect aborted")
		return
	}

	url, err := BuildURL(m.cfg.BaseURL, m.cfg.Path, token)
	if err != nil {
		m.logger.Error("cannot build socket url", "error", err)
		m.setStateLocked(StateError)
		return
	}

	m.intentional = false
	m.authFailed = false
	m.stopReconnectLocked()

	m.connGen++
	m.setStateLocked(StateConnecting)
	m.logger.Info("connecting", "url", redactURL(url), "attempt", m.attempts)
	m.transport = m.dialer.Dial(url, &connHandler{m: m, gen: m.connGen})
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.connGen || m.transport == nil {
		return
	}

	m.opened = true
	m.attempts = 0
	m.authRetried = false
	m.setStateLocked(StateConnected)
	m.flushLocked()
	m.startHeartbeatLocked()
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.connGen || m.transport == nil {
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		m.observer.MessageDropped("malformed")
		return
	}

	if msg.Type == TypePong {
		m.stopPongTimerLocked()
		return
	}

	m.observer.MessageReceived(msg.Type)
	handlers := m.subscribers.handlers(msg.Type)
	if len(handlers) == 0 {
		return
	}
	m.emitLocked(func() {
		for _, h := range handlers {
			m.callHandler(h, msg)
		}
	})
}

func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.connGen || m.transport == nil {
		return
	}

	if errors.Is(err, ErrUnauthorized) {
		m.authFailed = true
	}
	m.logger.Warn("connection error", "error", err)
	m.setStateLocked(StateError)
}

// handleClose classifies the close cause: normal closure disconnects,
// auth failure refreshes the token and retries, other application codes are
// fatal and everything else reconnects with backoff.
func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.connGen || m.transport == nil {
		return
	}

	authFailed := m.authFailed
	m.releaseTransportLocked()
	m.stopHeartbeatLocked()

	logger := m.logger.With("code", code, "reason", reason)

	switch {
	case m.intentional:
		m.setStateLocked(StateDisconnected)
	case code == CloseNormal:
		logger.Info("connection closed normally")
		m.setStateLocked(StateDisconnected)
	case code == CloseAuthFailed || authFailed:
		logger.Warn("authentication rejected")
		m.refreshLocked()
	case code >= closeAppRangeStart && code <= closeAppRangeEnd:
		logger.Error("connection closed with application error")
		m.setStateLocked(StateError)
	default:
		logger.Warn("connection lost")
		m.authRetried = false
		m.scheduleReconnectLocked()
	}
}

// refreshLocked starts one asynchronous token refresh. An auth failure on
// the connection dialed right after a refresh is fatal.
func (m *Manager) refreshLocked() {
	if m.authRetried {
		m.logger.Error("authentication rejected after token refresh, giving up")
		m.setStateLocked(StateError)
		return
	}

	m.setStateLocked(StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	m.refreshSeq++
	m.refreshCancel = cancel
	go m.refresh(ctx, cancel, m.refreshSeq)
}

func (m *Manager) refresh(ctx context.Context, cancel context.CancelFunc, seq uint64) {
	defer cancel()

	_, err := m.auth.RefreshToken(ctx)

	m.mu.Lock()
	defer m.unlock()

	if seq != m.refreshSeq || m.intentional {
		m.logger.Debug("token refresh finished after disconnect, ignoring")
		return
	}
	m.refreshCancel = nil

	if err != nil {
		m.logger.Error("token refresh failed", "error", err)
		m.setStateLocked(StateError)
		return
	}

	m.logger.Info("token refreshed, reconnecting")
	m.attempts = 0
	m.authRetried = true
	m.connectLocked()
}

func (m *Manager) cancelRefreshLocked() {
	if m.refreshCancel != nil {
		m.refreshCancel()
		m.refreshCancel = nil
	}
	m.refreshSeq++
}

// scheduleReconnectLocked arms the reconnect timer, or gives up with
// StateError once the attempt ceiling is reached.
func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempts)
		m.setStateLocked(StateError)
		return
	}

	delay := m.cfg.backoff(m.attempts)
	m.attempts++
	m.setStateLocked(StateDisconnected)

	m.stopReconnectLocked()
	seq := m.reconnectSeq
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.onReconnectTimer(seq) })

	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)
	m.observer.ReconnectScheduled(m.attempts, delay)
}

func (m *Manager) onReconnectTimer(seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if seq != m.reconnectSeq || m.reconnectTimer == nil || m.intentional {
		return
	}
	m.reconnectTimer = nil
	if m.transport != nil {
		return
	}
	m.connectLocked()
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	seq := m.heartbeatSeq
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(seq) })
}

func (m *Manager) onHeartbeat(seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if seq != m.heartbeatSeq || m.state != StateConnected {
		return
	}

	if m.isOpenLocked() {
		if err := m.writeLocked(queuedMessage{msgType: TypePing, data: pingFrame}); err != nil {
			m.logger.Debug("failed to send ping", "error", err)
		} else if m.cfg.PongTimeout > 0 && m.pongTimer == nil {
			pongSeq := m.pongSeq
			m.pongTimer = m.clock.AfterFunc(m.cfg.PongTimeout, func() { m.onPongTimeout(pongSeq) })
		}
	}

	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.onHeartbeat(seq) })
}

// onPongTimeout drops a connection whose peer stopped answering pings and
// reconnects with backoff.
func (m *Manager) onPongTimeout(seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if seq != m.pongSeq || m.pongTimer == nil || m.transport == nil {
		return
	}
	m.pongTimer = nil

	m.logger.Warn("no pong received, connection stale", "timeout", m.cfg.PongTimeout)
	t := m.transport
	m.releaseTransportLocked()
	m.stopHeartbeatLocked()
	if err := t.Close(CloseGoingAway, "heartbeat timeout"); err != nil {
		m.logger.Debug("close stale transport", "error", err)
	}
	m.scheduleReconnectLocked()
}

func (m *Manager) stopPongTimerLocked() {
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	m.pongSeq++
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	m.heartbeatSeq++
	m.stopPongTimerLocked()
}

// releaseTransportLocked forgets the current transport so its remaining
// events are ignored.
func (m *Manager) releaseTransportLocked() {
	m.transport = nil
	m.opened = false
	m.authFailed = false
	m.connGen++
}

func (m *Manager) isOpenLocked() bool {
	return m.transport != nil && m.opened && m.transport.IsOpen()
}

func (m *Manager) writeLocked(q queuedMessage) error {
	if err := m.transport.Send(q.data); err != nil {
		m.logger.Warn("send failed", "type", q.msgType, "error", err)
		return err
	}
	m.observer.MessageSent(q.msgType)
	return nil
}

func (m *Manager) enqueueLocked(q queuedMessage) {
	if m.cfg.MaxQueueSize > 0 && len(m.queue) >= m.cfg.MaxQueueSize {
		dropped := m.queue[0]
		m.queue = m.queue[1:]
		m.logger.Warn("outbound queue full, dropping oldest message",
			"type", dropped.msgType,
			"limit", m.cfg.MaxQueueSize,
		)
		m.observer.MessageDropped("queue_full")
	}
	m.queue = append(m.queue, q)
}

// flushLocked transmits queued messages in FIFO order. On a send failure
// the remaining messages stay queued for the next open.
func (m *Manager) flushLocked() {
	if len(m.queue) == 0 {
		return
	}
	m.logger.Debug("flushing outbound queue", "count", len(m.queue))
	for len(m.queue) > 0 {
		if err := m.writeLocked(m.queue[0]); err != nil {
			return
		}
		m.queue[0] = queuedMessage{}
		m.queue = m.queue[1:]
	}
	m.queue = nil
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	if prev == StateConnected {
		m.stopHeartbeatLocked()
	}
	m.logger.Debug("state changed", "from", prev, "to", s)
	m.observer.StateChanged(prev, s)

	listeners := m.listeners.snapshot()
	if len(listeners) == 0 {
		return
	}
	m.emitLocked(func() {
		for _, h := range listeners {
			m.callState(h, s)
		}
	})
}

// emitLocked queues a callback delivery for when the lock is released.
func (m *Manager) emitLocked(fn func()) {
	m.pending = append(m.pending, fn)
	m.emitted = true
}

// unlock releases mu and delivers pending callbacks in emission order. Only
// one goroutine delivers at a time. A caller that emitted while another
// goroutine is delivering blocks until its own callbacks have run; a
// callback that re-enters the Manager does not, its emissions run after it
// returns.
func (m *Manager) unlock() {
	emitted := m.emitted
	m.emitted = false
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}

	gid := goroutineID()
	if m.draining {
		if !emitted || m.drainer == gid {
			m.mu.Unlock()
			return
		}
		done := make(chan struct{})
		m.pending = append(m.pending, func() { close(done) })
		m.mu.Unlock()
		<-done
		return
	}

	m.draining = true
	m.drainer = gid
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		m.mu.Lock()
	}
	m.draining = false
	m.drainer = 0
	m.mu.Unlock()
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine 42 [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// stateListener holds back transitions until the listener has seen the
// state current at registration.
type stateListener struct {
	m *Manager
	h StateHandler

	mu       sync.Mutex
	replayed bool
	backlog  []State
}

func (l *stateListener) deliver(s State) {
	l.mu.Lock()
	if !l.replayed {
		l.backlog = append(l.backlog, s)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.m.callState(l.h, s)
}

func (l *stateListener) replay(current State) {
	l.m.callState(l.h, current)
	for {
		l.mu.Lock()
		if len(l.backlog) == 0 {
			l.replayed = true
			l.mu.Unlock()
			return
		}
		backlog := l.backlog
		l.backlog = nil
		l.mu.Unlock()
		for _, s := range backlog {
			l.m.callState(l.h, s)
		}
	}
}

func (m *Manager) callHandler(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

func (m *Manager) callState(h StateHandler, s State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state listener panicked", "state", s, "panic", r)
		}
	}()
	h(s)
}

var pingFrame = []byte(`{"type":"ping"}`)

// connHandler binds transport events to the dial generation that created them.
type connHandler struct {
	m   *Manager
	gen uint64
}

func (h *connHandler) OnOpen()                         { h.m.handleOpen(h.gen) }
func (h *connHandler) OnMessage(data []byte)           { h.m.handleMessage(h.gen, data) }
func (h *connHandler) OnError(err error)               { h.m.handleError(h.gen, err) }
func (h *connHandler) OnClose(code int, reason string) { h.m.handleClose(h.gen, code, reason) }
