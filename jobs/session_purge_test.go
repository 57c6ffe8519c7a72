package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/warden-auth/warden/internal/session"
)

type stubSessionRepo struct {
	purged  int64
	err     error
	cutoffs []time.Time
}

func (r *stubSessionRepo) CreateSession(ctx context.Context, sess session.Session) error {
	return nil
}

func (r *stubSessionRepo) DeactivateSession(ctx context.Context, token string) error {
	return nil
}

func (r *stubSessionRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, before)
	return r.purged, r.err
}

func TestSessionPurgeJobHandle(t *testing.T) {
	repo := &stubSessionRepo{purged: 7}
	job := NewSessionPurgeJob(repo, slog.Default(), nil)

	task, err := NewSessionPurgeTask(24)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, repo.cutoffs, 1)
	require.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), repo.cutoffs[0], time.Minute)
}

func TestSessionPurgeJobPropagatesRepoError(t *testing.T) {
	repo := &stubSessionRepo{err: errors.New("pg down")}
	job := NewSessionPurgeJob(repo, slog.Default(), nil)

	task, err := NewSessionPurgeTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestSessionPurgeJobSkipsBadPayload(t *testing.T) {
	job := NewSessionPurgeJob(&stubSessionRepo{}, slog.Default(), nil)

	bad := asynq.NewTask(TaskSessionPurge, []byte("{not json"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	negative := asynq.NewTask(TaskSessionPurge, []byte(`{"grace_hours":-1}`))
	require.ErrorIs(t, job.Handle(context.Background(), negative), asynq.SkipRetry)
}
