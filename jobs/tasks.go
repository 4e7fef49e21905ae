package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLedgerIntegrity recomputes the trial balance and escalates
	// internal-consistency failures.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskCostingScan looks for on-hand inventory without cost basis.
	TaskCostingScan = "costing:uncosted_scan"
	// TaskFXGapScan checks watched currency pairs for missing rates.
	TaskFXGapScan = "fx:gap_scan"
	// TaskIdempotencyCleanup expires old idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ScanPayload carries scheduling metadata shared by the scan tasks.
type ScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs the ledger integrity task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewCostingScanTask constructs the uncosted-inventory scan task.
func NewCostingScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCostingScan, body, asynq.Queue(QueueDefault)), nil
}

// NewFXGapScanTask constructs the FX gap scan task.
func NewFXGapScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFXGapScan, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
