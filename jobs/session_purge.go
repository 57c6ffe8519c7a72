package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/warden-auth/warden/internal/jobs"
	"github.com/warden-auth/warden/internal/session"
)

// SessionPurgeJob deactivates audit rows for sessions whose expiry passed
// more than the grace window ago.
type SessionPurgeJob struct {
	repo    session.Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSessionPurgeJob constructs the job. metrics may be nil.
func NewSessionPurgeJob(repo session.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionPurgeJob {
	return &SessionPurgeJob{repo: repo, logger: logger, metrics: metrics}
}

// Handle processes TaskSessionPurge tasks.
func (j *SessionPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskSessionPurge)

	var payload SessionPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceHours < 0 {
		return asynq.SkipRetry
	}

	cutoff := time.Now().UTC().Add(-time.Duration(payload.GraceHours) * time.Hour)
	purged, err := j.repo.PurgeExpired(ctx, cutoff)
	if err != nil {
		return tracker.End(err)
	}
	j.metrics.AddPurged(TaskSessionPurge, purged)
	if j.logger != nil {
		j.logger.Info("session purge complete",
			slog.Int64("rows", purged),
			slog.Time("cutoff", cutoff))
	}
	return tracker.End(nil)
}
