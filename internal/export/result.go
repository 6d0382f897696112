package export

import "net/http"

type Status string

const (
	StatusSuccess      Status = "Success"
	StatusConfigError  Status = "ConfigError"
	StatusRuntimeError Status = "RuntimeError"
)

// Result is what a run reports to its caller. StatusCode follows HTTP.
type Result struct {
	StatusCode          int    `json:"status_code"`
	Status              Status `json:"status"`
	Message             string `json:"message"`
	RunID               string `json:"run_id,omitempty"`
	PeriodFrom          string `json:"period_from,omitempty"`
	PeriodTo            string `json:"period_to,omitempty"`
	TotalItemsProcessed int    `json:"total_items_processed"`
	PresignedURL        string `json:"presigned_url,omitempty"`
	ExpiresAt           string `json:"expires_at,omitempty"`
	ObjectKey           string `json:"object_key,omitempty"`
	Warnings            int    `json:"warnings,omitempty"`
	Notified            bool   `json:"notified"`
	ErrorKind           Kind   `json:"error_kind,omitempty"`
	Error               string `json:"error,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// ConfigFailure is the result of a run that could not be configured. Nothing
// was fetched and nobody was notified.
func ConfigFailure(err error) Result {
	return Result{
		StatusCode: http.StatusInternalServerError,
		Status:     StatusConfigError,
		Message:    "Configuration Error: " + err.Error(),
		ErrorKind:  KindConfig,
		Error:      err.Error(),
	}
}
