package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/pkg/idempotency"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
)

func TestIdempotencyKey(t *testing.T) {
	now := time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "helloasso-export-2024-01-01-2024-01-31", idempotencyKey("period", now))
	assert.Empty(t, idempotencyKey("none", now))
	a, b := idempotencyKey("random", now), idempotencyKey("random", now)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestTriggerSendsKeyAndReadsReplay(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run", r.URL.Path)
		gotKey = r.Header.Get(idempotency.Header)
		w.Header().Set(idempotency.ReplayHeader, "true")
		_, _ = w.Write([]byte(`{"status_code":200,"status":"Success","period_from":"2024-01-01","period_to":"2024-01-31","total_items_processed":4,"presigned_url":"https://x","notified":true}`))
	}))
	defer srv.Close()

	res, replayed, err := newClient(srv.URL).trigger("k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", gotKey)
	assert.True(t, replayed)
	assert.Equal(t, 4, res.TotalItemsProcessed)
	assert.Equal(t, "Success 2024-01-01..2024-01-31 items=4 (replayed)", summarize(res, replayed))
}

func TestTriggerFailedRunIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status_code":500,"status":"RuntimeError","error_kind":"UpstreamAuthError","error":"401","notified":true}`))
	}))
	defer srv.Close()

	res := actionCmd(newClient(srv.URL), "run", "")().(actionResult)
	assert.True(t, res.failed)
	assert.Contains(t, res.status, "kind=UpstreamAuthError")
}

func TestTriggerNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "an export is already running", http.StatusConflict)
	}))
	defer srv.Close()

	_, _, err := newClient(srv.URL).trigger("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestRunsAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"runs":[{"run_id":"a","status":"Success","period_from":"2024-01-01","period_to":"2024-01-31","items":3,"pages":1,"result":{},"started_at":"2024-02-01T06:00:00Z","finished_at":"2024-02-01T06:00:05Z"}]}`))
	}))
	defer srv.Close()

	res := actionCmd(newClient(srv.URL), "runs", "")().(actionResult)
	assert.False(t, res.failed)
	assert.Equal(t, "1 recent run(s)", res.status)
	assert.Contains(t, res.details, "2024-02-01 06:00")
	assert.Contains(t, res.details, "items=3")
}

func TestFormatRunsShowsErrors(t *testing.T) {
	out := formatRuns([]runlog.Entry{{Status: "RuntimeError", Error: "boom"}})
	assert.Contains(t, out, `error="boom"`)
	assert.False(t, strings.HasSuffix(out, "\n"))
}

func TestModelNavigationAndResult(t *testing.T) {
	m := initialModel(newClient("http://localhost:0"))

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	assert.Equal(t, 1, m.selectedAct)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = next.(model)
	assert.Equal(t, 1, m.selectedKey)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	assert.True(t, m.busy)
	assert.NotNil(t, cmd)

	next, _ = m.Update(actionResult{status: "Health: ok"})
	m = next.(model)
	assert.False(t, m.busy)
	assert.Contains(t, m.View(), "Status: Health: ok")
}

func TestSummarizeFailure(t *testing.T) {
	s := summarize(export.Result{Status: export.StatusConfigError, Error: "missing S3_BUCKET_NAME"}, false)
	assert.Contains(t, s, "ConfigError")
	assert.Contains(t, s, "(run failed)")
}
