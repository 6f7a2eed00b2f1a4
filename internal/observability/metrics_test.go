package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	t.Run("launch outcomes are counted per label", func(t *testing.T) {
		before := testutil.ToFloat64(metricLaunches.WithLabelValues("reused"))
		RecordLaunch("reused")
		RecordLaunch("reused")
		assert.Equal(t, before+2, testutil.ToFloat64(metricLaunches.WithLabelValues("reused")))
	})

	t.Run("running gauge tracks the latest value", func(t *testing.T) {
		SetRunningBrowsers(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(metricRunningBrowsers))
		SetRunningBrowsers(0)
		assert.Equal(t, float64(0), testutil.ToFloat64(metricRunningBrowsers))
	})

	t.Run("command and session counters", func(t *testing.T) {
		before := testutil.ToFloat64(metricCommands.WithLabelValues("timeout"))
		RecordCommand("timeout")
		assert.Equal(t, before+1, testutil.ToFloat64(metricCommands.WithLabelValues("timeout")))

		beforeSession := testutil.ToFloat64(metricSessions.WithLabelValues("failed"))
		RecordSessionStatus("failed")
		assert.Equal(t, beforeSession+1, testutil.ToFloat64(metricSessions.WithLabelValues("failed")))
	})
}

func TestMetricsHandler(t *testing.T) {
	RecordReadyWait(750 * time.Millisecond)
	RecordLaunch("started")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "cdpfleet_browser_launches_total")
	assert.Contains(t, string(body), "cdpfleet_browser_ready_seconds_bucket")
}
