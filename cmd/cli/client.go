package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/arnaduga/notif-hello-asso/internal/export"
	"github.com/arnaduga/notif-hello-asso/pkg/idempotency"
	"github.com/arnaduga/notif-hello-asso/pkg/runlog"
)

// An export pages through a whole month, so the trigger gets a long budget.
const (
	runTimeout   = 10 * time.Minute
	queryTimeout = 5 * time.Second
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

// idempotencyKey derives the header value for a policy. "period" keys are
// stable for the month a run started now would export.
func idempotencyKey(policy string, now time.Time) string {
	switch policy {
	case "period":
		w := export.PreviousMonth(now)
		return fmt.Sprintf("helloasso-export-%s-%s", w.FromDate(), w.ToDate())
	case "random":
		return uuid.NewString()
	default:
		return ""
	}
}

// trigger starts a run. Non-2xx answers still carry a Result and are not
// transport errors.
func (c *client) trigger(key string) (export.Result, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", nil)
	if err != nil {
		return export.Result{}, false, err
	}
	if key != "" {
		req.Header.Set(idempotency.Header, key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return export.Result{}, false, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var res export.Result
	if err := json.Unmarshal(body, &res); err != nil || res.Status == "" {
		return export.Result{}, false, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, resp.Header.Get(idempotency.ReplayHeader) == "true", nil
}

func (c *client) health() (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON("/health", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *client) recentRuns(limit int) ([]runlog.Entry, error) {
	var out struct {
		Runs []runlog.Entry `json:"runs"`
	}
	if err := c.getJSON(fmt.Sprintf("/runs?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *client) getJSON(path string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, v)
}

func summarize(res export.Result, replayed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s..%s items=%d", res.Status, res.PeriodFrom, res.PeriodTo, res.TotalItemsProcessed)
	if res.ErrorKind != "" {
		fmt.Fprintf(&b, " kind=%s", res.ErrorKind)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, " error=%q", res.Error)
	}
	if !res.OK() {
		b.WriteString(" (run failed)")
	}
	if replayed {
		b.WriteString(" (replayed)")
	}
	return b.String()
}

func formatRuns(runs []runlog.Entry) string {
	b := &strings.Builder{}
	for _, r := range runs {
		fmt.Fprintf(b, " %s  %-12s %s..%s items=%d pages=%d",
			r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.PeriodFrom, r.PeriodTo, r.Items, r.Pages)
		if r.Error != "" {
			fmt.Fprintf(b, " error=%q", r.Error)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
