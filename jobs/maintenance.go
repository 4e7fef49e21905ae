package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyCleaner is the idempotency store surface the cleanup needs.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob expires processed idempotency keys. Keys only
// need to outlive the retry window of the clients that sent them.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store KeyCleaner, retention time.Duration, logger *slog.Logger) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := j.Store.Cleanup(ctx, j.Retention); err != nil {
		return err
	}
	j.log().Info("idempotency keys cleaned",
		slog.Duration("retention", j.Retention))
	return nil
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
