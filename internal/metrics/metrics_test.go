package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tj/assert"
)

func TestMetrics_Recording(t *testing.T) {
	m := New()

	m.EventReceived("send_message", "ok")
	m.EventReceived("send_message", "ok")
	m.EventReceived("bogus", "rejected")
	m.MessagePersisted("direct")
	m.PersistFailed("group")
	m.Delivered("new_message", 3)
	m.Delivered("new_message", 0)
	m.DeliveryFailed("new_message")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetOnlineUsers(7)
	m.CallOutcome("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("send_message", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("bogus", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPersisted.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues("group")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("new_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("new_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OnlineUsers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("timeout")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.EventReceived("x", "ok")
	m.MessagePersisted("direct")
	m.PersistFailed("direct")
	m.Delivered("x", 1)
	m.DeliveryFailed("x")
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetOnlineUsers(1)
	m.CallOutcome("placed")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.CallOutcome("placed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Calls.WithLabelValues("placed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessagePersisted("group")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	assert.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `buddyhub_messages_persisted_total{kind="group"} 1`))
}
