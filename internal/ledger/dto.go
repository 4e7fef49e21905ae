package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/shared"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// PostingInput groups fields required to post a journal entry.
type PostingInput struct {
	Date         time.Time
	Currency     string
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	Lines        []PostingLineInput
}

// Validate ensures the entry is structurally sound and balances
// exactly. A line must have exactly one positive side, so any balanced
// entry has at least two lines.
func (in PostingInput) Validate() error {
	if len(in.Lines) == 0 {
		return ErrEmptyEntry
	}
	if in.Date.IsZero() {
		return fmt.Errorf("ledger: entry date required: %w", shared.ErrValidation)
	}
	if in.SourceModule == "" || in.SourceID == uuid.Nil {
		return fmt.Errorf("ledger: source reference required: %w", shared.ErrValidation)
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w (line %d)", ErrAccountNotFound, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount: %w", idx, shared.ErrValidation)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d must set exactly one of debit or credit: %w", idx, shared.ErrValidation)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalanced, debit, credit)
	}
	return nil
}

// VoidInput wraps parameters for voiding an entry.
type VoidInput struct {
	EntryID int64
	ActorID int64
	Reason  string
}

// ReverseInput wraps parameters for posting an offsetting entry.
type ReverseInput struct {
	EntryID    int64
	ActorID    int64
	Memo       string
	TargetDate *time.Time
}

// AccountInput describes a new chart-of-accounts entry.
type AccountInput struct {
	Code       string
	Name       string
	Type       AccountType
	NormalSide BalanceSide
	ParentID   *int64
}

// Validate checks account fields.
func (in AccountInput) Validate() error {
	if in.Code == "" || in.Name == "" {
		return fmt.Errorf("ledger: account code and name required: %w", shared.ErrValidation)
	}
	switch in.Type {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
	default:
		return fmt.Errorf("ledger: unknown account type %q: %w", in.Type, shared.ErrValidation)
	}
	switch in.NormalSide {
	case SideDebit, SideCredit:
	default:
		return fmt.Errorf("ledger: unknown normal side %q: %w", in.NormalSide, shared.ErrValidation)
	}
	return nil
}
