// Package metrics exposes the notifier's Prometheus metrics.
//
// Key metrics:
//   - Connection state and reconnect scheduling
//   - Inbound message rates by type, drops by reason
//   - Router buffer and writer throughput (registered as gauge funcs)
package metrics
