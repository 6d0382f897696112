package logging

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type Fields struct {
	Service    string `json:"service"`
	RunID      string `json:"run_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	Level      string `json:"level,omitempty"`
	Page       int    `json:"page,omitempty"`
	Items      int    `json:"items,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

func Log(fields Fields) {
	level := fields.Level
	if level == "" {
		level = LevelInfo
	}
	payload := map[string]any{
		"service":   fields.Service,
		"level":     level,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if fields.RunID != "" {
		payload["run_id"] = fields.RunID
	}
	if fields.Step != "" {
		payload["step"] = fields.Step
	}
	if fields.Status != "" {
		payload["status"] = fields.Status
	}
	if fields.Page != 0 {
		payload["page"] = fields.Page
	}
	if fields.Items != 0 {
		payload["items"] = fields.Items
	}
	if fields.DurationMS != 0 {
		payload["duration_ms"] = fields.DurationMS
	}
	if fields.Message != "" {
		payload["message"] = fields.Message
	}
	if fields.Error != "" {
		payload["error"] = fields.Error
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

type runIDKey struct{}

// WithRunID attaches the run identifier used by components that log on behalf of a run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
