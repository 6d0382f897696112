package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/pkg/idempotency"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
)

type runner interface {
	RunWith(ctx context.Context, req export.Request) export.Result
}

// runHistory is implemented by *runlog.Store.
type runHistory interface {
	FindSuccessful(ctx context.Context, idempotencyKey string) (runlog.Entry, error)
	Recent(ctx context.Context, limit int) ([]runlog.Entry, error)
	Ping(ctx context.Context) error
}

type server struct {
	exporter runner
	runs     runHistory // nil without a database
	metrics  *metrics.ServerMetrics
	gatherer prometheus.Gatherer

	// One export at a time; a second trigger gets 409.
	running sync.Mutex
}

type runRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/run", s.instrument("run", s.handleRun))
	r.Get("/runs", s.instrument("runs", s.handleRuns))
	r.Get("/health", s.instrument("health", s.handleHealth))
	r.Handle("/metrics", metrics.Handler(s.gatherer))
	return r
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	key, err := idempotency.Key(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	req := export.Request{IdempotencyKey: key}
	if r.ContentLength != 0 {
		var body runRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if body.From != "" || body.To != "" {
			win, err := export.ParseWindow(body.From, body.To)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			req.Window = &win
		}
	}

	if s.replayed(w, r, key) {
		return
	}

	if !s.running.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "an export is already running"})
		return
	}
	defer s.running.Unlock()

	// The run holding the lock may have recorded this key since the first look.
	if s.replayed(w, r, key) {
		return
	}

	// A dropped client connection does not abort the export.
	res := s.exporter.RunWith(context.WithoutCancel(r.Context()), req)
	writeJSON(w, res.StatusCode, res)
}

// replayed answers with the stored result of an earlier successful run with
// the same key. It reports whether the response has been written.
func (s *server) replayed(w http.ResponseWriter, r *http.Request, key string) bool {
	if key == "" || s.runs == nil {
		return false
	}
	prev, err := s.runs.FindSuccessful(r.Context(), key)
	switch {
	case err == nil:
		logging.Log(logging.Fields{Service: service, RunID: prev.RunID, Step: "run", Status: "replayed", Message: key})
		w.Header().Set(idempotency.ReplayHeader, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(prev.Result)
		return true
	case errors.Is(err, runlog.ErrNotFound):
		return false
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "run log unavailable"})
		return true
	}
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run log disabled"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.runs != nil {
		if err := s.runs.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(name, strconv.Itoa(status)).Inc()
		s.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
