package monitoring

import (
	"io"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_UptimeComputedOnScrape(t *testing.T) {
	m := NewMetrics()

	body := scrape(t, m)
	assert.Contains(t, body, "hotpin_uptime_seconds")
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordWSMessage("in", "ping")
	assert.Contains(t, scrape(t, a), `hotpin_ws_messages_total{direction="in",type="ping"} 1`)
	assert.NotContains(t, scrape(t, b), `type="ping"`)
}

func TestMetrics_NoBackgroundGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		NewMetrics()
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+1)
}
