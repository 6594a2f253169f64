package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/realtime-notify/internal/connection"
	"github.com/rickgao/realtime-notify/internal/model"
)

// Source delivers inbound messages by type. *connection.Manager implements it.
type Source interface {
	On(eventType string, h connection.Handler) (unsubscribe func())
}

// Router turns inbound socket messages into notifications for the Writer.
type Router interface {
	// Start subscribes to every message type on the source.
	Start(ctx context.Context) error

	// Stop unsubscribes and closes the output buffer.
	Stop(ctx context.Context) error

	// Buffer returns the output buffer for the writer to consume.
	Buffer() *Buffer[model.Notification]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	BufferSize  int         // Initial output buffer capacity
	BufferLimit int         // Max buffered notifications before the oldest is evicted (0 = unbounded)
	IgnoreTypes []string    // Message types that are not archived
	Clock       clock.Clock // Receive timestamps; defaults to the wall clock
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BufferSize:  1000,
		BufferLimit: 10000,
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	MessagesIgnored  int64
	MessagesEvicted  int64
	Buffer           BufferStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger
	clock  clock.Clock
	ignore map[string]struct{}

	source Source
	out    *Buffer[model.Notification]

	mu          sync.Mutex
	unsubscribe func()

	received atomic.Int64
	routed   atomic.Int64
	ignored  atomic.Int64
	evicted  atomic.Int64
}

// NewRouter creates a new Message Router reading from source.
func NewRouter(cfg RouterConfig, source Source, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	ignore := make(map[string]struct{}, len(cfg.IgnoreTypes))
	for _, t := range cfg.IgnoreTypes {
		ignore[t] = struct{}{}
	}

	return &router{
		cfg:    cfg,
		logger: logger.With("component", "router"),
		clock:  clk,
		ignore: ignore,
		source: source,
		out:    NewBuffer[model.Notification](cfg.BufferSize, cfg.BufferLimit),
	}
}

// Start subscribes to the source's catch-all channel.
func (r *router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		return nil
	}
	r.unsubscribe = r.source.On(connection.ChannelMessage, r.route)

	r.logger.Info("message router started",
		"buffer_size", r.cfg.BufferSize,
		"buffer_limit", r.cfg.BufferLimit,
		"ignored_types", len(r.ignore),
	)
	return nil
}

// Stop unsubscribes from the source and closes the output buffer so the
// writer can drain what is left.
func (r *router) Stop(ctx context.Context) error {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.out.Close()

	r.logger.Info("message router stopped", "pending", r.out.Len())
	return nil
}

// Buffer returns the output buffer.
func (r *router) Buffer() *Buffer[model.Notification] {
	return r.out
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		MessagesIgnored:  r.ignored.Load(),
		MessagesEvicted:  r.evicted.Load(),
		Buffer:           r.out.Stats(),
	}
}

// route converts and buffers a single message. It runs on the manager's
// delivery goroutine and must not block.
func (r *router) route(msg connection.Message) {
	r.received.Add(1)

	if _, skip := r.ignore[msg.Type]; skip {
		r.ignored.Add(1)
		return
	}

	n := model.NewNotification(msg.Type, msg.Payload, r.clock.Now())
	ok, evicted := r.out.Push(n)
	if !ok {
		r.logger.Debug("router stopped, dropping message", "type", msg.Type)
		return
	}
	if evicted {
		r.evicted.Add(1)
		r.logger.Warn("output buffer full, evicted oldest notification", "limit", r.cfg.BufferLimit)
	}
	r.routed.Add(1)
}
