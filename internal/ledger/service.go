package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error)
	ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error)
	AccountActivity(ctx context.Context, asOf time.Time) ([]TrialBalanceRow, error)
}

// TxRepository exposes the mutations used inside a posting transaction.
type TxRepository interface {
	AccountsByID(ctx context.Context, ids []int64) (map[int64]Account, error)
	NextEntryNumber(ctx context.Context) (int64, error)
	InsertJournalEntry(ctx context.Context, input PostingInput, number int64, postedAt time.Time) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error
	LinkSource(ctx context.Context, module string, sourceID uuid.UUID, entryID int64) error
	GetJournalForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	UpdateJournalStatus(ctx context.Context, entryID int64, status EntryStatus) error
	InsertAccount(ctx context.Context, input AccountInput) (Account, error)
	UpdateAccount(ctx context.Context, id int64, name string, active bool) (Account, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the chart of accounts and journal entry lifecycle.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService builds Service. Audit, logger and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post validates and atomically posts a balanced journal entry,
// assigning the next entry number. Nothing persists on failure.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		s.metrics.ObserveJournalPosting(false)
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			ids = append(ids, line.AccountID)
		}
		accounts, err := tx.AccountsByID(ctx, ids)
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			acc, ok := accounts[line.AccountID]
			if !ok {
				return fmt.Errorf("%w (id %d)", ErrAccountNotFound, line.AccountID)
			}
			if !acc.Active {
				return fmt.Errorf("%w (%s)", ErrAccountInactive, acc.Code)
			}
		}
		number, err := tx.NextEntryNumber(ctx)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, input, number, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, inserted.ID); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	s.metrics.ObserveJournalPosting(err == nil)
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.PostedBy, "journal.post", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": input.SourceModule,
		"source_id":     input.SourceID.String(),
	})
	return entry, nil
}

// Void marks a posted entry void. Lines are kept; balance queries as
// of any date now exclude the entry.
func (s *Service) Void(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, ErrEntryNotFound
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusPosted {
			return fmt.Errorf("%w: cannot void %s entry", ErrInvalidStatus, current.Status)
		}
		if err := tx.UpdateJournalStatus(ctx, current.ID, EntryStatusVoid); err != nil {
			return err
		}
		entry = current
		entry.Status = EntryStatusVoid
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.ActorID, "journal.void", entry.ID, map[string]any{"reason": input.Reason})
	return entry, nil
}

// Reverse posts a new offsetting entry for a posted entry. The
// original is never mutated.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, ErrEntryNotFound
	}
	original, lines, err := s.repo.GetJournalWithLines(ctx, input.EntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.Status != EntryStatusPosted {
		return JournalEntry{}, fmt.Errorf("%w: cannot reverse %s entry", ErrInvalidStatus, original.Status)
	}
	date := original.Date
	if input.TargetDate != nil {
		date = *input.TargetDate
	}
	posting := PostingInput{
		Date:         date,
		Currency:     original.Currency,
		SourceModule: original.SourceModule + ":REVERSAL",
		SourceID:     uuid.New(),
		Memo:         defaultReversalMemo(input.Memo, original.Number),
		PostedBy:     input.ActorID,
		Lines:        reverseLines(lines),
	}
	reversal, err := s.Post(ctx, posting)
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, input.ActorID, "journal.reverse", input.EntryID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
	})
	return reversal, nil
}

// TrialBalance aggregates posted, non-void lines dated on or before
// asOf. The report fails with ErrOutOfBalance when its own totals
// diverge, which means the stored lines are corrupt.
func (s *Service) TrialBalance(ctx context.Context, asOf time.Time) (TrialBalance, error) {
	rows, err := s.repo.AccountActivity(ctx, asOf)
	if err != nil {
		return TrialBalance{}, err
	}
	report := TrialBalance{AsOf: asOf, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero}
	for _, row := range rows {
		net := row.DebitTotal.Sub(row.CreditTotal)
		if net.IsZero() {
			continue
		}
		if net.IsPositive() {
			row.Side = SideDebit
			row.Balance = net
			report.TotalDebits = report.TotalDebits.Add(net)
		} else {
			row.Side = SideCredit
			row.Balance = net.Neg()
			report.TotalCredits = report.TotalCredits.Add(net.Neg())
		}
		report.Rows = append(report.Rows, row)
	}
	if !report.TotalDebits.Equal(report.TotalCredits) {
		s.metrics.ObserveConsistencyError()
		if s.logger != nil {
			s.logger.Error("trial balance totals diverge",
				slog.String("as_of", asOf.Format("2006-01-02")),
				slog.String("debits", report.TotalDebits.String()),
				slog.String("credits", report.TotalCredits.String()))
		}
		return TrialBalance{}, fmt.Errorf("%w: debits %s, credits %s as of %s",
			ErrOutOfBalance, report.TotalDebits, report.TotalCredits, asOf.Format("2006-01-02"))
	}
	return report, nil
}

// CreateAccount adds a chart-of-accounts entry.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	if err := input.Validate(); err != nil {
		return Account{}, err
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertAccount(ctx, input)
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	return account, err
}

// UpdateAccount edits the mutable fields of an account: name and
// active flag. Everything else is frozen once the account is in use.
func (s *Service) UpdateAccount(ctx context.Context, id int64, name string, active bool) (Account, error) {
	if name == "" {
		return Account{}, fmt.Errorf("ledger: account name required: %w", shared.ErrValidation)
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdateAccount(ctx, id, name, active)
		if err != nil {
			return err
		}
		account = updated
		return nil
	})
	return account, err
}

// ListAccounts lists the chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error) {
	return s.repo.ListAccounts(ctx, includeInactive)
}

// GetEntry loads an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, lines, err := s.repo.GetJournalWithLines(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}

func defaultReversalMemo(memo string, number int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}
