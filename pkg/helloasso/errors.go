package helloasso

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by NewClient when an endpoint or credential is missing.
	ErrNotConfigured = errors.New("helloasso: client not configured")

	// ErrEmptyToken is returned when the token endpoint answers without access_token.
	ErrEmptyToken = errors.New("helloasso: token response has no access_token")
)

const (
	OpToken    = "token"
	OpPayments = "payments"
)

// UpstreamError is a failed exchange with the HelloAsso API: transport error,
// non-2xx status or unreadable body.
type UpstreamError struct {
	Op         string
	Page       int // 0 for the token endpoint
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := "helloasso " + e.Op
	if e.Page > 0 {
		msg += fmt.Sprintf(" page %d", e.Page)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

const maxErrorBody = 500

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
