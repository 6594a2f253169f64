package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/realtime-notify/internal/connection"
)

func TestCollector_StateGauge(t *testing.T) {
	c := NewCollector()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("DISCONNECTED")))

	c.StateChanged(connection.StateDisconnected, connection.StateConnecting)
	c.StateChanged(connection.StateConnecting, connection.StateConnected)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("CONNECTED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("CONNECTING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("DISCONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("CONNECTED")))
}

func TestCollector_Reconnects(t *testing.T) {
	c := NewCollector()

	c.ReconnectScheduled(1, 5*time.Second)
	c.ReconnectScheduled(2, 7500*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnectAttempt))
	assert.Equal(t, 1, testutil.CollectAndCount(c.reconnectDelay))
}

func TestCollector_Messages(t *testing.T) {
	c := NewCollector()

	c.MessageReceived("notification")
	c.MessageReceived("notification")
	c.MessageReceived("unread_count")
	c.MessageSent("mark_read")
	c.MessageDropped("queue_full")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.received.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.received.WithLabelValues("unread_count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sent.WithLabelValues("mark_read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("queue_full")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.GaugeFunc("router", "buffer_len", "Items waiting in the router buffer", func() float64 { return 7 })
	c.CounterFunc("writer", "inserts_total", "Rows inserted", func() float64 { return 3 })
	c.MessageReceived("notification")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, `notifier_messages_received_total{type="notification"} 1`), text)
	assert.True(t, strings.Contains(text, "notifier_router_buffer_len 7"), text)
	assert.True(t, strings.Contains(text, "notifier_writer_inserts_total 3"), text)
	assert.True(t, strings.Contains(text, `notifier_connection_state{state="DISCONNECTED"} 1`), text)
}
