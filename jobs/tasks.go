package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionPurge flips long-expired user_sessions audit rows
	// inactive. Resolution never depends on it; it keeps the audit table
	// honest.
	TaskSessionPurge = "session:purge"
)

// SessionPurgePayload describes a purge run.
type SessionPurgePayload struct {
	// GraceHours keeps rows active for this long past expiry before the
	// purge touches them.
	GraceHours int `json:"grace_hours"`
}

// NewSessionPurgeTask constructs an Asynq task.
func NewSessionPurgeTask(graceHours int) (*asynq.Task, error) {
	data, err := json.Marshal(SessionPurgePayload{GraceHours: graceHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionPurge, data), nil
}
