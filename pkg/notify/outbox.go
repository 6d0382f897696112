package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arnaduga/notif-hello-asso/pkg/logging"
	"github.com/arnaduga/notif-hello-asso/pkg/outbox"
)

// OutboxStore is implemented by *outbox.Store.
type OutboxStore interface {
	Insert(ctx context.Context, eventID, topic, key string, payload any) (int64, error)
	MarkSent(ctx context.Context, id int64) error
	FetchPending(ctx context.Context, limit int) ([]outbox.Record, error)
}

type outboxed struct {
	channel string
	next    Notifier
	store   OutboxStore
	service string
}

// WithOutbox records every message for one channel before handing it to next
// and marks it sent once next succeeds. Messages whose delivery failed stay
// pending for Resend. Wrap each channel separately: one row tracks one channel.
func WithOutbox(channel string, next Notifier, store OutboxStore, service string) Notifier {
	return &outboxed{channel: channel, next: next, store: store, service: service}
}

func (o *outboxed) Notify(ctx context.Context, msg Message) error {
	id, err := o.store.Insert(ctx, uuid.NewString(), o.channel, msg.RunID, msg)
	if err != nil {
		// Delivery still goes ahead; only the replay record is lost.
		logging.Log(logging.Fields{Service: o.service, RunID: msg.RunID, Step: "outbox_insert", Status: "error", Level: logging.LevelWarn, Error: err.Error()})
		return o.next.Notify(ctx, msg)
	}
	if err := o.next.Notify(ctx, msg); err != nil {
		return err
	}
	if err := o.store.MarkSent(ctx, id); err != nil {
		logging.Log(logging.Fields{Service: o.service, RunID: msg.RunID, Step: "outbox_mark_sent", Status: "error", Level: logging.LevelWarn, Error: err.Error()})
	}
	return nil
}

// Resend delivers up to limit pending messages, each on the channel it was
// recorded for, and returns how many went out. A failed delivery stays pending
// and does not hold back the others.
func Resend(ctx context.Context, store OutboxStore, channels map[string]Notifier, limit int) (int, error) {
	pending, err := store.FetchPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch pending notifications: %w", err)
	}
	sent := 0
	var errs []error
	for _, rec := range pending {
		next, ok := channels[rec.Topic]
		if !ok {
			logging.Log(logging.Fields{Service: "notify", RunID: rec.Key, Step: "outbox_resend", Status: "channel_disabled", Level: logging.LevelWarn, Message: rec.Topic})
			continue
		}
		var msg Message
		if err := json.Unmarshal(rec.Payload, &msg); err != nil {
			logging.Log(logging.Fields{Service: "notify", RunID: rec.Key, Step: "outbox_resend", Status: "decode_error", Level: logging.LevelWarn, Error: err.Error()})
			continue
		}
		if err := next.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("resend %s on %s: %w", rec.EventID, rec.Topic, err))
			continue
		}
		if err := store.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("mark %s sent: %w", rec.EventID, err)
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
