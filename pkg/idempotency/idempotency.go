// Package idempotency reads the client-chosen key that makes a run trigger
// safe to retry.
package idempotency

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
)

const (
	Header = "Idempotency-Key"
	// ReplayHeader is set on responses served from a previous run.
	ReplayHeader = "Idempotent-Replay"

	maxKeyLen = 200
)

var ErrInvalidKey = errors.New("idempotency key must be at most 200 printable characters")

// Key returns the trimmed header value; an empty key means none was sent.
func Key(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(Header))
	if len(key) > maxKeyLen {
		return "", ErrInvalidKey
	}
	for _, c := range key {
		if !unicode.IsPrint(c) {
			return "", ErrInvalidKey
		}
	}
	return key, nil
}
