package helloasso

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/arnaduga/notif-hello-asso/pkg/logging"
)

const dateLayout = "2006-01-02"

// StopReason tells why FetchAll stopped requesting pages.
type StopReason string

const (
	StopLastPage       StopReason = "last_page"
	StopNoData         StopReason = "missing_data"
	StopNoPagination   StopReason = "missing_pagination"
	StopNoContinuation StopReason = "missing_continuation_token"
	StopMaxPages       StopReason = "max_pages"
)

// Degraded reports whether pagination ended on malformed or inconsistent
// upstream metadata rather than on the last page.
func (r StopReason) Degraded() bool {
	return r != StopLastPage
}

// FetchResult is every record of a date range, in upstream order.
type FetchResult struct {
	Items []json.RawMessage
	// Pages is the number of pages received.
	Pages int
	Stop  StopReason
}

type pageEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination json.RawMessage `json:"pagination"`
}

// pagination holds the only metadata the walk reads. Other keys of the
// upstream block are ignored whatever their type.
type pagination struct {
	PageIndex         int
	TotalPages        int
	ContinuationToken string
}

// FetchAll pages through the payments of [from, to] following continuation
// tokens. Transport, status and body-decoding failures abort with an
// *UpstreamError and no items. Missing data or pagination metadata ends the
// walk early without error; the reason is in FetchResult.Stop.
func (c *Client) FetchAll(ctx context.Context, token string, from, to time.Time) (FetchResult, error) {
	base := url.Values{}
	base.Set("pageSize", strconv.Itoa(c.pageSize))
	if !from.IsZero() {
		base.Set("from", from.Format(dateLayout))
	}
	if !to.IsZero() {
		base.Set("to", to.Format(dateLayout))
	}
	base.Set("withCount", "true")

	runID := logging.RunID(ctx)
	res := FetchResult{}
	continuation := ""

	for page := 1; ; page++ {
		if page > c.maxPages {
			c.logStop(runID, page-1, len(res.Items), StopMaxPages, fmt.Sprintf("page cap %d reached", c.maxPages))
			res.Stop = StopMaxPages
			return res, nil
		}

		params := cloneValues(base)
		if continuation != "" {
			params.Set("continuationToken", continuation)
		}

		env, err := c.fetchPage(ctx, token, params, page)
		if err != nil {
			return FetchResult{}, err
		}
		res.Pages = page

		items, ok := env.items()
		if !ok {
			c.logStop(runID, page, len(res.Items), StopNoData, "'data' missing or not a list")
			res.Stop = StopNoData
			return res, nil
		}
		res.Items = append(res.Items, items...)
		logging.Log(logging.Fields{Service: c.service, RunID: runID, Step: "fetch_page", Status: "ok", Page: page, Items: len(items)})

		pg, ok := env.pagination()
		if !ok {
			c.logStop(runID, page, len(res.Items), StopNoPagination, "'pagination' missing or malformed")
			res.Stop = StopNoPagination
			return res, nil
		}

		if pg.PageIndex >= pg.TotalPages {
			logging.Log(logging.Fields{
				Service: c.service, RunID: runID, Step: "pagination", Status: string(StopLastPage),
				Page: page, Items: len(res.Items),
				Message: fmt.Sprintf("pageIndex %d >= totalPages %d", pg.PageIndex, pg.TotalPages),
			})
			res.Stop = StopLastPage
			return res, nil
		}
		if pg.ContinuationToken == "" {
			c.logStop(runID, page, len(res.Items), StopNoContinuation,
				fmt.Sprintf("pageIndex %d < totalPages %d but no continuationToken", pg.PageIndex, pg.TotalPages))
			res.Stop = StopNoContinuation
			return res, nil
		}
		continuation = pg.ContinuationToken
	}
}

func (c *Client) fetchPage(ctx context.Context, token string, params url.Values, page int) (*pageEnvelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &UpstreamError{Op: OpPayments, Page: page, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	target := c.apiURL
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Op: OpPayments, Page: page, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	if ct := params.Get("continuationToken"); ct != "" {
		logging.Log(logging.Fields{Service: c.service, RunID: logging.RunID(ctx), Step: "fetch_page", Status: "request", Page: page, Message: "continuationToken " + truncate(ct, 10) + "..."})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: OpPayments, Page: page, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: OpPayments, Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: OpPayments, Page: page, StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &UpstreamError{Op: OpPayments, Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}
	return &env, nil
}

func (e *pageEnvelope) items() ([]json.RawMessage, bool) {
	if isNull(e.Data) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(e.Data, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (e *pageEnvelope) pagination() (*pagination, bool) {
	if isNull(e.Pagination) {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Pagination, &fields); err != nil {
		return nil, false
	}
	index, ok := wholeNumber(fields["pageIndex"])
	if !ok {
		return nil, false
	}
	total, ok := wholeNumber(fields["totalPages"])
	if !ok {
		return nil, false
	}
	pg := &pagination{PageIndex: index, TotalPages: total}
	// A token that is not a string counts as absent.
	_ = json.Unmarshal(fields["continuationToken"], &pg.ContinuationToken)
	return pg, true
}

// wholeNumber accepts a JSON number with no fractional part, so 2 and 2.0
// both read as 2.
func wholeNumber(raw json.RawMessage) (int, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func (c *Client) logStop(runID string, page, total int, reason StopReason, msg string) {
	logging.Log(logging.Fields{
		Service: c.service,
		RunID:   runID,
		Step:    "pagination",
		Status:  string(reason),
		Level:   logging.LevelWarn,
		Page:    page,
		Items:   total,
		Message: msg,
	})
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
