package contracts

import "time"

// Event is the message published on the export events topic.
type Event struct {
	EventID     string         `json:"event_id"`
	RunID       string         `json:"run_id"`
	Environment string         `json:"environment"`
	CreatedAt   time.Time      `json:"created_at"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
}

const (
	EventExportSucceeded = "export.succeeded"
	EventExportFailed    = "export.failed"
)
