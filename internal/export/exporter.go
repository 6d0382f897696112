// Package export runs one monthly payments export: fetch, flatten, encode,
// store and notify.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/arnaduga/notif-hello-asso/internal/export/csvenc"
	"github.com/arnaduga/notif-hello-asso/internal/export/flatten"
	"github.com/arnaduga/notif-hello-asso/pkg/helloasso"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/metrics"
	"github.com/arnaduga/notif-hello-asso/pkg/notify"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
	"github.com/arnaduga/notif-hello-asso/pkg/storage"
)

type TokenFetcher interface {
	Token(ctx context.Context) (string, error)
}

type PagedFetcher interface {
	FetchAll(ctx context.Context, token string, from, to time.Time) (helloasso.FetchResult, error)
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Location names the bucket or directory in operator messages.
	Location() string
}

// RunRecorder keeps the history of runs. Implemented by *runlog.Store.
type RunRecorder interface {
	Record(ctx context.Context, e runlog.Entry) error
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const (
	// Notification and run log writes outlive a cancelled run.
	afterRunTimeout = 15 * time.Second
	defaultPageSize = helloasso.DefaultPageSize
)

type Options struct {
	Environment            string
	PresignTTL             time.Duration
	SuccessSubjectTemplate string
	ErrorSubjectTemplate   string
	Encoder                csvenc.Encoder
	// PageSize is the upstream page size; a run returning exactly that many
	// records gets a possible-truncation warning.
	PageSize int
	Service  string
}

type Deps struct {
	Tokens   TokenFetcher
	Pages    PagedFetcher
	Store    ObjectStore
	Notifier notify.Notifier     // optional
	Recorder RunRecorder         // optional
	Metrics  *metrics.RunMetrics // optional
	Now      func() time.Time
	NewRunID func() string
}

type Exporter struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Exporter {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Service == "" {
		opts.Service = "export"
	}
	if opts.Encoder.Delimiter == 0 {
		opts.Encoder = csvenc.Default
	}
	return &Exporter{deps: deps, opts: opts}
}

// Request customizes one run. The zero value exports the previous month.
type Request struct {
	Window         *Window
	IdempotencyKey string
}

// run is the state a single execution accumulates.
type run struct {
	id        string
	key       string
	started   time.Time
	window    Window
	pages     int
	items     int
	warnings  int
	objectKey string
}

// Run exports the previous calendar month.
func (e *Exporter) Run(ctx context.Context) Result {
	return e.RunWith(ctx, Request{})
}

// RunWith executes one export. It never panics on upstream data and always
// returns a Result; failures after configuration trigger a failure
// notification and leave no artifact behind.
func (e *Exporter) RunWith(ctx context.Context, req Request) Result {
	r := &run{id: e.deps.NewRunID(), key: req.IdempotencyKey, started: e.deps.Now()}
	ctx = logging.WithRunID(ctx, r.id)
	if req.Window != nil {
		r.window = *req.Window
	} else {
		r.window = PreviousMonth(r.started)
	}
	e.log(r, logging.Fields{Step: "run", Status: "start",
		Message: fmt.Sprintf("period %s to %s", r.window.FromDate(), r.window.ToDate())})

	token, err := e.deps.Tokens.Token(ctx)
	if err != nil {
		return e.fail(ctx, r, &StageError{Kind: KindUpstreamAuth, Err: err})
	}

	fetched, err := e.deps.Pages.FetchAll(ctx, token, r.window.From, r.window.To)
	if err != nil {
		return e.fail(ctx, r, &StageError{Kind: KindUpstreamPagination, Page: pageOf(err), Err: err})
	}
	r.pages = fetched.Pages
	r.items = len(fetched.Items)
	degraded := ""
	if fetched.Stop.Degraded() {
		degraded = string(fetched.Stop)
	}
	e.deps.Metrics.ObserveFetch(fetched.Pages, len(fetched.Items), degraded)
	if r.items == 0 {
		e.log(r, logging.Fields{Step: "fetch", Status: "empty", Level: logging.LevelWarn,
			Message: "no payment retrieved for the period"})
	}

	rows, warnings := flatten.Records(fetched.Items)
	r.warnings = len(warnings)
	for _, w := range warnings {
		e.log(r, logging.Fields{Step: "flatten", Status: "malformed", Level: logging.LevelWarn, Message: w.String()})
	}
	e.deps.Metrics.ObserveSkipped(len(warnings))

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = row.Cells()
	}
	blob, err := e.opts.Encoder.Encode(flatten.Header, cells)
	if err != nil {
		return e.fail(ctx, r, &StageError{Kind: KindEncode, Page: r.pages, Err: err})
	}
	body := make([]byte, 0, len(utf8BOM)+len(blob))
	body = append(append(body, utf8BOM...), blob...)

	r.objectKey = storage.ObjectKey(e.opts.Environment, r.started)
	// Presigning is local, so doing it first means a failure leaves nothing behind.
	url, err := e.deps.Store.PresignGet(ctx, r.objectKey, e.opts.PresignTTL)
	if err != nil {
		return e.fail(ctx, r, &StageError{Kind: KindSink, Page: r.pages, Err: fmt.Errorf("presign %s: %w", r.objectKey, err)})
	}
	if err := e.deps.Store.Put(ctx, r.objectKey, body, storage.ContentTypeCSV); err != nil {
		return e.fail(ctx, r, &StageError{Kind: KindSink, Page: r.pages, Err: fmt.Errorf("put %s: %w", r.objectKey, err)})
	}
	expiresAt := e.deps.Now().UTC().Add(e.opts.PresignTTL)
	e.log(r, logging.Fields{Step: "store", Status: "ok", Items: len(rows), Message: r.objectKey})

	res := Result{
		StatusCode: http.StatusOK,
		Status:     StatusSuccess,
		Message: fmt.Sprintf("Processing complete for period %s to %s. Results saved as CSV to %s.",
			r.window.FromDate(), r.window.ToDate(), e.deps.Store.Location()),
		RunID:               r.id,
		PeriodFrom:          r.window.FromDate(),
		PeriodTo:            r.window.ToDate(),
		TotalItemsProcessed: r.items,
		PresignedURL:        url,
		ExpiresAt:           expiresAt.Format(time.RFC3339),
		ObjectKey:           r.objectKey,
		Warnings:            r.warnings,
	}

	msg := notify.Message{
		RunID:   r.id,
		Kind:    notify.KindSuccess,
		Subject: Subject(e.opts.SuccessSubjectTemplate, res.PeriodFrom, res.PeriodTo, e.opts.Environment),
		Body: successBody{
			environment: e.opts.Environment,
			window:      r.window,
			count:       r.items,
			pageSize:    e.opts.PageSize,
			url:         url,
			expiresAt:   expiresAt,
			location:    e.deps.Store.Location(),
		}.String(),
		Attributes: map[string]any{
			"environment":   e.opts.Environment,
			"period_from":   res.PeriodFrom,
			"period_to":     res.PeriodTo,
			"total_items":   r.items,
			"presigned_url": url,
			"expires_at":    res.ExpiresAt,
			"object_key":    r.objectKey,
		},
	}
	res.Notified = e.notify(ctx, r, msg)
	return e.finish(ctx, r, res)
}

func (e *Exporter) fail(ctx context.Context, r *run, serr *StageError) Result {
	e.log(r, logging.Fields{Step: "run", Status: string(serr.Kind), Level: logging.LevelError,
		Page: serr.Page, Error: serr.Err.Error()})

	res := Result{
		StatusCode: http.StatusInternalServerError,
		Status:     StatusRuntimeError,
		Message:    "Internal Server Error",
		RunID:      r.id,
		PeriodFrom: r.window.FromDate(),
		PeriodTo:   r.window.ToDate(),
		ErrorKind:  serr.Kind,
		Error:      serr.Err.Error(),
	}
	pageAttr := any("N/A")
	if serr.Page > 0 {
		pageAttr = serr.Page
	}
	msg := notify.Message{
		RunID:   r.id,
		Kind:    notify.KindFailure,
		Subject: Subject(e.opts.ErrorSubjectTemplate, res.PeriodFrom, res.PeriodTo, e.opts.Environment),
		Body:    failureBody{from: res.PeriodFrom, to: res.PeriodTo, page: serr.Page, err: serr.Err}.String(),
		Attributes: map[string]any{
			"environment": e.opts.Environment,
			"period_from": res.PeriodFrom,
			"period_to":   res.PeriodTo,
			"page":        pageAttr,
			"error_kind":  string(serr.Kind),
			"error":       serr.Err.Error(),
		},
	}
	res.Notified = e.notify(ctx, r, msg)
	r.objectKey = ""
	return e.finish(ctx, r, res)
}

// notify reports delivery instead of failing the run.
func (e *Exporter) notify(ctx context.Context, r *run, msg notify.Message) bool {
	if e.deps.Notifier == nil {
		e.log(r, logging.Fields{Step: "notify", Status: "skipped", Level: logging.LevelWarn,
			Message: "no notification channel configured"})
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterRunTimeout)
	defer cancel()

	err := e.deps.Notifier.Notify(ctx, msg)
	e.deps.Metrics.ObserveNotification(string(msg.Kind), err == nil)
	if err != nil {
		e.log(r, logging.Fields{Step: "notify", Status: "error", Level: logging.LevelError, Error: err.Error()})
		return false
	}
	e.log(r, logging.Fields{Step: "notify", Status: "ok", Message: string(msg.Kind)})
	return true
}

func (e *Exporter) finish(ctx context.Context, r *run, res Result) Result {
	finished := e.deps.Now()
	e.deps.Metrics.ObserveRun(string(res.Status), finished.Sub(r.started), finished)
	e.log(r, logging.Fields{Step: "run", Status: string(res.Status), Items: res.TotalItemsProcessed,
		DurationMS: finished.Sub(r.started).Milliseconds()})

	if e.deps.Recorder == nil {
		return res
	}
	raw, err := json.Marshal(res)
	if err != nil {
		e.log(r, logging.Fields{Step: "runlog", Status: "encode_error", Level: logging.LevelWarn, Error: err.Error()})
		return res
	}
	entry := runlog.Entry{
		RunID:          r.id,
		IdempotencyKey: r.key,
		Environment:    e.opts.Environment,
		PeriodFrom:     r.window.FromDate(),
		PeriodTo:       r.window.ToDate(),
		Status:         string(res.Status),
		Items:          r.items,
		Pages:          r.pages,
		ObjectKey:      r.objectKey,
		Error:          res.Error,
		Result:         raw,
		StartedAt:      r.started.UTC(),
		FinishedAt:     finished.UTC(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterRunTimeout)
	defer cancel()
	if err := e.deps.Recorder.Record(ctx, entry); err != nil {
		status := "error"
		if errors.Is(err, runlog.ErrDuplicate) {
			status = "duplicate"
		}
		e.log(r, logging.Fields{Step: "runlog", Status: status, Level: logging.LevelWarn, Error: err.Error()})
	}
	return res
}

func (e *Exporter) log(r *run, f logging.Fields) {
	f.Service = e.opts.Service
	f.RunID = r.id
	logging.Log(f)
}
