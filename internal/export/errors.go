package export

import (
	"errors"
	"fmt"

	"github.com/arnaduga/notif-hello-asso/internal/config"
	"github.com/arnaduga/notif-hello-asso/pkg/helloasso"
)

// Kind is the failure class reported in logs and notifications.
type Kind string

const (
	KindConfig             Kind = "ConfigError"
	KindUpstreamAuth       Kind = "UpstreamAuthError"
	KindUpstreamPagination Kind = "UpstreamPaginationError"
	KindEncode             Kind = "EncodeError"
	KindSink               Kind = "SinkError"
	KindUnknown            Kind = "RuntimeError"
)

// StageError is a run failure tagged with its class and the last page reached
// (0 when no page was received).
type StageError struct {
	Kind Kind
	Page int
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its failure class.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return stage.Kind
	}
	var cerr *config.Error
	if errors.As(err, &cerr) {
		return KindConfig
	}
	if errors.Is(err, helloasso.ErrEmptyToken) {
		return KindUpstreamAuth
	}
	var up *helloasso.UpstreamError
	if errors.As(err, &up) {
		if up.Op == helloasso.OpToken {
			return KindUpstreamAuth
		}
		return KindUpstreamPagination
	}
	return KindUnknown
}

// pageOf returns the page an upstream failure happened on, if known.
func pageOf(err error) int {
	var up *helloasso.UpstreamError
	if errors.As(err, &up) {
		return up.Page
	}
	return 0
}
