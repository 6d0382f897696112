package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/pkg/idempotency"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
)

type fakeRunner struct {
	requests []export.Request
	result   export.Result
	started  chan struct{}
	block    chan struct{}
}

func (f *fakeRunner) RunWith(_ context.Context, req export.Request) export.Result {
	f.requests = append(f.requests, req)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.result
}

type fakeHistory struct {
	byKey   map[string]runlog.Entry
	recent  []runlog.Entry
	findErr error
	pingErr error
	// hiddenFor makes the first lookups miss, as if the entry was recorded
	// between two of them.
	hiddenFor int
	lookups   int
}

func (f *fakeHistory) FindSuccessful(_ context.Context, key string) (runlog.Entry, error) {
	f.lookups++
	if f.findErr != nil {
		return runlog.Entry{}, f.findErr
	}
	if f.lookups <= f.hiddenFor {
		return runlog.Entry{}, runlog.ErrNotFound
	}
	e, ok := f.byKey[key]
	if !ok {
		return runlog.Entry{}, runlog.ErrNotFound
	}
	return e, nil
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]runlog.Entry, error) {
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeHistory) Ping(context.Context) error { return f.pingErr }

func newTestServer(r runner, h runHistory) *server {
	reg := prometheus.NewRegistry()
	return &server{exporter: r, runs: h, metrics: metrics.NewServerMetrics(reg, "export_service"), gatherer: reg}
}

var okResult = export.Result{StatusCode: 200, Status: export.StatusSuccess, RunID: "r1", PeriodFrom: "2024-01-01", PeriodTo: "2024-01-31", TotalItemsProcessed: 2}

func TestRunTriggersExport(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	s := newTestServer(fr, nil)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got export.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, okResult, got)
	require.Len(t, fr.requests, 1)
	assert.Nil(t, fr.requests[0].Window)
}

func TestRunWithWindowBody(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	s := newTestServer(fr, nil)

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"from":"2023-11-01","to":"2023-11-30"}`))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fr.requests, 1)
	require.NotNil(t, fr.requests[0].Window)
	assert.Equal(t, "2023-11-30", fr.requests[0].Window.ToDate())
}

func TestRunRejectsBadWindow(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	s := newTestServer(fr, nil)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"from":"2023-12-01","to":"2023-11-30"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fr.requests)
}

func TestRunFailureStatusPropagates(t *testing.T) {
	fr := &fakeRunner{result: export.Result{StatusCode: 500, Status: export.StatusRuntimeError, ErrorKind: export.KindUpstreamAuth}}
	s := newTestServer(fr, nil)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "UpstreamAuthError")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("run", "500")))
}

func TestRunReplaysSuccessfulIdempotencyKey(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	stored := []byte(`{"status_code":200,"status":"Success","run_id":"earlier","total_items_processed":7,"notified":true}`)
	h := &fakeHistory{byKey: map[string]runlog.Entry{"jan-2024": {RunID: "earlier", Result: stored}}}
	s := newTestServer(fr, h)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(idempotency.Header, "jan-2024")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(idempotency.ReplayHeader))
	assert.JSONEq(t, string(stored), rec.Body.String())
	assert.Empty(t, fr.requests, "no new run")
}

func TestRunUnknownKeyRunsAndForwardsKey(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	s := newTestServer(fr, &fakeHistory{byKey: map[string]runlog.Entry{}})

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(idempotency.Header, "feb-2024")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(idempotency.ReplayHeader))
	require.Len(t, fr.requests, 1)
	assert.Equal(t, "feb-2024", fr.requests[0].IdempotencyKey)
}

func TestRunReplaysKeyRecordedWhileWaitingForLock(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	stored := []byte(`{"status_code":200,"status":"Success","run_id":"first"}`)
	h := &fakeHistory{byKey: map[string]runlog.Entry{"mar-2024": {RunID: "first", Result: stored}}, hiddenFor: 1}
	s := newTestServer(fr, h)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(idempotency.Header, "mar-2024")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(idempotency.ReplayHeader))
	assert.JSONEq(t, string(stored), rec.Body.String())
	assert.Empty(t, fr.requests, "no second export")
	assert.Equal(t, 2, h.lookups)
}

func TestRunLogUnavailable(t *testing.T) {
	fr := &fakeRunner{result: okResult}
	s := newTestServer(fr, &fakeHistory{findErr: errors.New("conn refused")})

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(idempotency.Header, "k")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, fr.requests)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	fr := &fakeRunner{result: okResult, started: make(chan struct{}), block: make(chan struct{})}
	s := newTestServer(fr, nil)
	h := s.routes()

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
		done <- rec.Code
	}()

	select {
	case <-fr.started:
	case <-time.After(time.Second):
		t.Fatal("first run did not start")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(fr.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestRunsListing(t *testing.T) {
	h := &fakeHistory{recent: []runlog.Entry{{RunID: "a", Status: "Success"}, {RunID: "b", Status: "RuntimeError"}}}
	s := newTestServer(&fakeRunner{}, h)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runlog.Entry `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "a", body.Runs[0].RunID)

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsWithoutDatabase(t *testing.T) {
	s := newTestServer(&fakeRunner{}, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := &fakeHistory{}
	s := newTestServer(&fakeRunner{}, h)
	routes := s.routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.pingErr = errors.New("down")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `helloasso_export_export_service_http_requests_total{handler="health",status="503"} 1`)
}
