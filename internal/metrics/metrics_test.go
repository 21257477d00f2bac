package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordDispatch("r1", 1)
	m.RecordDispatch("r1", 2)
	m.RecordAttempt("r1", 1, 2*time.Second, 0.25)
	m.RecordRetry()
	m.RecordShardFailure("retry_exhausted")
	m.RecordTestResult("pass")
	m.RecordTestResult("pass")
	m.RecordHealth("r1", 0.75)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.shardsDispatched.WithLabelValues("r1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runnerLoad.WithLabelValues("r1")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.runCost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardFailures.WithLabelValues("retry_exhausted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.testResults.WithLabelValues("pass")))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.runnerHealth.WithLabelValues("r1")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDispatch("r1", 1)
		m.RecordAttempt("r1", 0, time.Second, 1)
		m.RecordRetry()
		m.RecordShardFailure("x")
		m.RecordTestResult("fail")
		m.RecordHealth("r1", 1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordRetry()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tss_shard_retries_total 1")
}

func TestServer_StartShutdown(t *testing.T) {
	m := New()
	m.RecordRetry()

	srv, err := m.Start("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "tss_shard_retries_total 1")

	require.NoError(t, srv.Shutdown(context.Background()))
	_, err = http.Get("http://" + srv.Addr() + "/metrics")
	assert.Error(t, err)
}
