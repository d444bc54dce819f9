package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Registry())

	m.RecordIngest("ok")
	m.RecordIngest("ok")
	m.RecordIngest("degraded")
	m.RecordMigration("WORKING", "SHORT_TERM")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierMigrationsTotal.WithLabelValues("WORKING", "SHORT_TERM")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest("ok")
		m.RecordSearch("hybrid", time.Millisecond, 3)
		m.RecordConsolidation("ok", time.Second)
		m.SetQueueDepth(4)
	})
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordSearch("sparse_only", 10*time.Millisecond, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `memory_search_total{mode="sparse_only"} 1`)
}
