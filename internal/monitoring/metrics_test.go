package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg, reg)
}

func TestMetrics_Record(t *testing.T) {
	m := newTestMetrics()

	m.RecordInboxCreated()
	m.RecordInboxCreated()
	m.RecordMessageReceived("routed", 2048)
	m.RecordMessageReceived("orphan", 0)
	m.RecordMessageRejected("parse_error")
	m.RecordPurge(3, 5)
	m.UpdateStoreGauges(7, 11)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InboxesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("routed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("orphan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesRejected.WithLabelValues("parse_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InboxesExpired))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.OrphansPurged))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.InboxesActive))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.MessagesTotal))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInboxCreated()
		m.RecordMessageReceived("routed", 10)
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.RecordEnrichment("ok")
		m.UpdateWebSocketClients(1)
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := newTestMetrics()
	m.RecordHTTPRequest("GET", "/api/v1/inboxes", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "testinbox_http_requests_total")
}
