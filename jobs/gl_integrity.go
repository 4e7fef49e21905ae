package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/shared"
)

// TrialBalancer is the ledger surface the integrity check needs.
type TrialBalancer interface {
	TrialBalance(ctx context.Context, asOf time.Time) (ledger.TrialBalance, error)
}

// LedgerIntegrityJob recomputes the trial balance and escalates when
// the books fail to balance, which means stored lines are corrupt.
type LedgerIntegrityJob struct {
	Ledger TrialBalancer
	Logger *slog.Logger
	clock  func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity check handler.
func NewLedgerIntegrityJob(ledgerService TrialBalancer, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Ledger: ledgerService,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := j.clock()
	report, err := j.Ledger.TrialBalance(ctx, asOf)
	if err != nil {
		if errors.Is(err, shared.ErrInternalConsistency) {
			// Corrupt books: retrying will not help, a human must look.
			j.log().Error("ledger integrity check FAILED",
				slog.String("as_of", asOf.Format("2006-01-02")),
				slog.Any("error", err))
			return asynq.SkipRetry
		}
		return err
	}
	j.log().Info("ledger integrity check passed",
		slog.String("as_of", asOf.Format("2006-01-02")),
		slog.Int("accounts", len(report.Rows)),
		slog.String("total_debits", report.TotalDebits.String()))
	return nil
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
