package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arnaduga/notif-hello-asso/pkg/contracts"
	"github.com/arnaduga/notif-hello-asso/pkg/kafka"
	"github.com/arnaduga/notif-hello-asso/pkg/logging"
)

// Kafka publishes each message as a contracts.Event keyed by run id.
type Kafka struct {
	writer      kafka.MessageWriter
	environment string
	service     string
}

func NewKafka(writer kafka.MessageWriter, environment, service string) *Kafka {
	return &Kafka{writer: writer, environment: environment, service: service}
}

func (k *Kafka) Notify(ctx context.Context, msg Message) error {
	evtType := contracts.EventExportSucceeded
	if msg.Kind == KindFailure {
		evtType = contracts.EventExportFailed
	}
	payload := map[string]any{
		"subject": msg.Subject,
		"body":    msg.Body,
	}
	for key, v := range msg.Attributes {
		payload[key] = v
	}
	evt := contracts.Event{
		EventID:     uuid.NewString(),
		RunID:       msg.RunID,
		Environment: k.environment,
		CreatedAt:   time.Now().UTC(),
		Type:        evtType,
		Payload:     payload,
	}
	if err := kafka.PublishJSON(ctx, k.writer, msg.RunID, evt); err != nil {
		return fmt.Errorf("kafka publish %s: %w", evtType, err)
	}
	logging.Log(logging.Fields{Service: k.service, RunID: msg.RunID, Step: "notify_kafka", Status: "published", Message: evt.EventID})
	return nil
}
