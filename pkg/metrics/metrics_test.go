package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRunMetrics(reg)

	at := time.Unix(1706745600, 0)
	m.ObserveRun("Success", 3*time.Second, at)
	m.ObserveRun("RuntimeError", time.Second, at.Add(time.Hour))
	m.ObserveFetch(3, 250, "")
	m.ObserveFetch(1, 100, "missing_pagination")
	m.ObserveSkipped(2)
	m.ObserveNotification("success", true)
	m.ObserveNotification("success", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("Success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("RuntimeError")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Pages))
	assert.Equal(t, 350.0, testutil.ToFloat64(m.Records))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SkippedUnits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedStops.WithLabelValues("missing_pagination")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("success", "failed")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestRunMetricsNilSafe(t *testing.T) {
	var m *RunMetrics
	assert.NotPanics(t, func() {
		m.ObserveRun("Success", time.Second, time.Now())
		m.ObserveFetch(1, 1, "x")
		m.ObserveSkipped(1)
		m.ObserveNotification("failure", false)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	sm := NewServerMetrics(reg, "export_service")
	sm.Requests.WithLabelValues("run", "200").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "helloasso_export_export_service_http_requests_total")
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	NewRunMetrics(reg).ObserveRun("Success", time.Second, time.Now())

	require.NoError(t, Push(context.Background(), srv.URL, "helloasso_export", reg))
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/helloasso_export"), gotPath)
}
