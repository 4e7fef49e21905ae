package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/shared"
)

// AccountType enumerates the chart-of-accounts classifications.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// BalanceSide is the normal balance side of an account.
type BalanceSide string

const (
	SideDebit  BalanceSide = "DEBIT"
	SideCredit BalanceSide = "CREDIT"
)

// Account is a chart-of-accounts entry. Once referenced by a posted
// line only Name and Active may change.
type Account struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	NormalSide BalanceSide
	ParentID   *int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntryStatus enumerates journal entry lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoid   EntryStatus = "VOID"
)

// JournalEntry captures posting metadata. Posted entries are
// immutable; corrections happen via Void or Reverse.
type JournalEntry struct {
	ID           int64
	Number       int64
	Date         time.Time
	Currency     string
	Status       EntryStatus
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	Lines        []JournalLine
}

// JournalLine carries a debit or credit amount for one account.
// Exactly one side is non-zero.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// TrialBalanceRow is one account's net position as of a date. Balance
// is a positive magnitude on the named side; zero-net accounts are
// omitted from the report.
type TrialBalanceRow struct {
	AccountID   int64
	Code        string
	Name        string
	Type        AccountType
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
	Side        BalanceSide
	Balance     decimal.Decimal
}

// TrialBalance is the as-of report with grand totals. TotalDebits and
// TotalCredits match exactly for consistent books.
type TrialBalance struct {
	AsOf         time.Time
	Rows         []TrialBalanceRow
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

var (
	// ErrUnbalanced indicates sum(debit) != sum(credit).
	ErrUnbalanced = fmt.Errorf("ledger: journal lines must balance: %w", shared.ErrValidation)
	// ErrEmptyEntry indicates an entry with no lines.
	ErrEmptyEntry = fmt.Errorf("ledger: journal entry has no lines: %w", shared.ErrValidation)
	// ErrAccountNotFound indicates a missing account reference.
	ErrAccountNotFound = fmt.Errorf("ledger: account %w", shared.ErrNotFound)
	// ErrAccountInactive indicates posting to a deactivated account.
	ErrAccountInactive = fmt.Errorf("ledger: account inactive: %w", shared.ErrValidation)
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = fmt.Errorf("ledger: journal entry %w", shared.ErrNotFound)
	// ErrInvalidStatus indicates an illegal entry status change.
	ErrInvalidStatus = fmt.Errorf("ledger: %w", shared.ErrInvalidState)
	// ErrSourceAlreadyLinked indicates the source document was posted before.
	ErrSourceAlreadyLinked = fmt.Errorf("ledger: source already posted: %w", shared.ErrValidation)
	// ErrOutOfBalance indicates the computed trial balance does not
	// balance, meaning stored lines are corrupt.
	ErrOutOfBalance = fmt.Errorf("ledger: trial balance totals diverge: %w", shared.ErrInternalConsistency)
	// ErrDuplicateCode indicates an account code collision.
	ErrDuplicateCode = fmt.Errorf("ledger: account code already exists: %w", shared.ErrValidation)
)
