package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskValidatePass maps pending flat-file rows and advances clean
	// documents to Validated.
	TaskValidatePass = "einvois:validate_pass"
	// TaskSubmitPass transmits Validated documents to the authority.
	TaskSubmitPass = "einvois:submit_pass"
	// TaskPollPass queries validation outcomes for Submitted documents.
	TaskPollPass = "einvois:poll_pass"
	// TaskInboundSync reconciles the inbound mirror against the authority
	// feed.
	TaskInboundSync = "einvois:inbound_sync"
)

// PassPayload bounds how many documents one pass touches.
type PassPayload struct {
	Limit int `json:"limit"`
}

// DefaultPassLimit is applied when a task carries no explicit limit.
const DefaultPassLimit = 100

// NewPassTask constructs a task for one of the pipeline passes.
func NewPassTask(taskType string, payload PassPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decodePassPayload(t *asynq.Task) PassPayload {
	var payload PassPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Limit <= 0 {
		payload.Limit = DefaultPassLimit
	}
	return payload
}
