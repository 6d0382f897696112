// Package notify delivers operator messages about export runs.
package notify

import (
	"context"
	"errors"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

type Message struct {
	RunID   string `json:"run_id"`
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Attributes carry the structured run summary for machine consumers.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Channel names. They double as outbox topics, so a pending message is
// redelivered on the channel that missed it and nowhere else.
const (
	ChannelSNS   = "sns"
	ChannelKafka = "kafka"
)

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Fanout sends to every channel and reports all failures together.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
