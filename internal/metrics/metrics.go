package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/realtime-notify/internal/connection"
)

const namespace = "notifier"

var allStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateError,
}

// Collector owns a private registry and implements connection.Observer.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	state            *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	reconnects       prometheus.Counter
	reconnectDelay   prometheus.Histogram
	reconnectAttempt prometheus.Gauge
	received         *prometheus.CounterVec
	sent             *prometheus.CounterVec
	dropped          *prometheus.CounterVec
}

var _ connection.Observer = (*Collector)(nil)

// NewCollector creates a collector with its metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "State transitions by target state",
		}, []string{"to"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt",
			Buckets:   []float64{0.5, 1, 2.5, 5, 7.5, 11.25, 17, 25, 30},
		}),
		reconnectAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempt",
			Help:      "Attempt number of the most recently scheduled reconnect",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages dispatched, by type",
		}, []string{"type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Outbound messages written, by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Messages discarded, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		c.state,
		c.transitions,
		c.reconnects,
		c.reconnectDelay,
		c.reconnectAttempt,
		c.received,
		c.sent,
		c.dropped,
	)

	c.setState(connection.StateDisconnected)

	c.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry: registry,
	})
	return c
}

// Handler returns the HTTP handler for the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return c.handler
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (c *Collector) GaugeFunc(subsystem, name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a counter sampled from fn at scrape time.
func (c *Collector) CounterFunc(subsystem, name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) StateChanged(from, to connection.State) {
	c.setState(to)
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) ReconnectScheduled(attempt int, delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
	c.reconnectAttempt.Set(float64(attempt))
}

func (c *Collector) MessageReceived(msgType string) {
	c.received.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageSent(msgType string) {
	c.sent.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) setState(active connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == active {
			v = 1
		}
		c.state.WithLabelValues(s.String()).Set(v)
	}
}
