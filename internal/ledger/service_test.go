package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/shared"
)

type memLedgerRepo struct {
	accounts    map[int64]Account
	entries     map[int64]JournalEntry
	lines       map[int64][]JournalLine
	sources     map[string]int64
	nextEntryID int64
	nextNumber  int64
	nextAccID   int64
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{
		accounts: make(map[int64]Account),
		entries:  make(map[int64]JournalEntry),
		lines:    make(map[int64][]JournalLine),
		sources:  make(map[string]int64),
	}
}

func (r *memLedgerRepo) addAccount(id int64, code string, accType AccountType, side BalanceSide, active bool) {
	r.accounts[id] = Account{ID: id, Code: code, Name: code, Type: accType, NormalSide: side, Active: active}
	if id > r.nextAccID {
		r.nextAccID = id
	}
}

type memSnapshot struct {
	accounts    map[int64]Account
	entries     map[int64]JournalEntry
	lines       map[int64][]JournalLine
	sources     map[string]int64
	nextEntryID int64
	nextNumber  int64
	nextAccID   int64
}

func (r *memLedgerRepo) snapshot() memSnapshot {
	snap := memSnapshot{
		accounts:    make(map[int64]Account, len(r.accounts)),
		entries:     make(map[int64]JournalEntry, len(r.entries)),
		lines:       make(map[int64][]JournalLine, len(r.lines)),
		sources:     make(map[string]int64, len(r.sources)),
		nextEntryID: r.nextEntryID,
		nextNumber:  r.nextNumber,
		nextAccID:   r.nextAccID,
	}
	for k, v := range r.accounts {
		snap.accounts[k] = v
	}
	for k, v := range r.entries {
		snap.entries[k] = v
	}
	for k, v := range r.lines {
		snap.lines[k] = append([]JournalLine(nil), v...)
	}
	for k, v := range r.sources {
		snap.sources[k] = v
	}
	return snap
}

func (r *memLedgerRepo) restore(snap memSnapshot) {
	r.accounts = snap.accounts
	r.entries = snap.entries
	r.lines = snap.lines
	r.sources = snap.sources
	r.nextEntryID = snap.nextEntryID
	r.nextNumber = snap.nextNumber
	r.nextAccID = snap.nextAccID
}

func (r *memLedgerRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	snap := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memLedgerRepo) AccountsByID(_ context.Context, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if acc, ok := r.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

func (r *memLedgerRepo) NextEntryNumber(_ context.Context) (int64, error) {
	r.nextNumber++
	return r.nextNumber, nil
}

func (r *memLedgerRepo) InsertJournalEntry(_ context.Context, input PostingInput, number int64, postedAt time.Time) (JournalEntry, error) {
	r.nextEntryID++
	entry := JournalEntry{
		ID:           r.nextEntryID,
		Number:       number,
		Date:         input.Date,
		Currency:     input.Currency,
		Status:       EntryStatusPosted,
		SourceModule: input.SourceModule,
		SourceID:     input.SourceID,
		Memo:         input.Memo,
		PostedBy:     input.PostedBy,
		PostedAt:     postedAt,
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

func (r *memLedgerRepo) InsertJournalLines(_ context.Context, entryID int64, lines []PostingLineInput) error {
	for idx, in := range lines {
		r.lines[entryID] = append(r.lines[entryID], JournalLine{
			ID:        entryID*100 + int64(idx),
			EntryID:   entryID,
			AccountID: in.AccountID,
			Debit:     in.Debit,
			Credit:    in.Credit,
			Memo:      in.Memo,
		})
	}
	return nil
}

func (r *memLedgerRepo) LinkSource(_ context.Context, module string, sourceID uuid.UUID, entryID int64) error {
	key := module + "/" + sourceID.String()
	if _, exists := r.sources[key]; exists {
		return ErrSourceAlreadyLinked
	}
	r.sources[key] = entryID
	return nil
}

func (r *memLedgerRepo) GetJournalForUpdate(_ context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := r.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (r *memLedgerRepo) UpdateJournalStatus(_ context.Context, entryID int64, status EntryStatus) error {
	entry, ok := r.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = status
	r.entries[entryID] = entry
	return nil
}

func (r *memLedgerRepo) InsertAccount(_ context.Context, input AccountInput) (Account, error) {
	for _, acc := range r.accounts {
		if acc.Code == input.Code {
			return Account{}, ErrDuplicateCode
		}
	}
	r.nextAccID++
	acc := Account{
		ID:         r.nextAccID,
		Code:       input.Code,
		Name:       input.Name,
		Type:       input.Type,
		NormalSide: input.NormalSide,
		ParentID:   input.ParentID,
		Active:     true,
	}
	r.accounts[acc.ID] = acc
	return acc, nil
}

func (r *memLedgerRepo) UpdateAccount(_ context.Context, id int64, name string, active bool) (Account, error) {
	acc, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	acc.Name = name
	acc.Active = active
	r.accounts[id] = acc
	return acc, nil
}

func (r *memLedgerRepo) GetJournalWithLines(_ context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, ok := r.entries[entryID]
	if !ok {
		return JournalEntry{}, nil, ErrEntryNotFound
	}
	return entry, append([]JournalLine(nil), r.lines[entryID]...), nil
}

func (r *memLedgerRepo) ListAccounts(_ context.Context, includeInactive bool) ([]Account, error) {
	out := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		if !acc.Active && !includeInactive {
			continue
		}
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memLedgerRepo) AccountActivity(_ context.Context, asOf time.Time) ([]TrialBalanceRow, error) {
	totals := make(map[int64]*TrialBalanceRow)
	for _, entry := range r.entries {
		if entry.Status != EntryStatusPosted || entry.Date.After(asOf) {
			continue
		}
		for _, line := range r.lines[entry.ID] {
			acc, ok := r.accounts[line.AccountID]
			if !ok || !acc.Active {
				continue
			}
			row, seen := totals[line.AccountID]
			if !seen {
				row = &TrialBalanceRow{
					AccountID:   acc.ID,
					Code:        acc.Code,
					Name:        acc.Name,
					Type:        acc.Type,
					DebitTotal:  decimal.Zero,
					CreditTotal: decimal.Zero,
				}
				totals[line.AccountID] = row
			}
			row.DebitTotal = row.DebitTotal.Add(line.Debit)
			row.CreditTotal = row.CreditTotal.Add(line.Credit)
		}
	}
	out := make([]TrialBalanceRow, 0, len(totals))
	for _, row := range totals {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seededRepo() *memLedgerRepo {
	repo := newMemLedgerRepo()
	repo.addAccount(1, "10.100", AccountTypeAsset, SideDebit, true)
	repo.addAccount(2, "40.100", AccountTypeRevenue, SideCredit, true)
	repo.addAccount(3, "10.200", AccountTypeAsset, SideDebit, true)
	repo.addAccount(4, "20.100", AccountTypeLiability, SideCredit, false)
	return repo
}

func balancedInput(t *testing.T, date time.Time) PostingInput {
	t.Helper()
	return PostingInput{
		Date:         date,
		Currency:     "USD",
		SourceModule: "billing",
		SourceID:     uuid.New(),
		Memo:         "invoice 42",
		PostedBy:     7,
		Lines: []PostingLineInput{
			{AccountID: 1, Debit: amount(t, "120.50")},
			{AccountID: 2, Credit: amount(t, "120.50")},
		},
	}
}

func entryDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPostBalancedEntry(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Len(t, repo.lines[entry.ID], 2)

	second, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 2)))
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Number)
}

func TestPostUnbalancedEntryPersistsNothing(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)

	input := balancedInput(t, entryDate(2026, 3, 1))
	input.Lines[1].Credit = amount(t, "120.49")

	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.entries)
	require.Empty(t, repo.sources)
	require.Zero(t, repo.nextNumber)
}

func TestPostUnknownAccountRollsBack(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)

	input := balancedInput(t, entryDate(2026, 3, 1))
	input.Lines[0].AccountID = 99

	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.Empty(t, repo.entries)
	require.Zero(t, repo.nextNumber)
}

func TestPostInactiveAccountRejected(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)

	input := balancedInput(t, entryDate(2026, 3, 1))
	input.Lines[0].AccountID = 4

	_, err := svc.Post(context.Background(), input)
	require.ErrorIs(t, err, ErrAccountInactive)
	require.Empty(t, repo.entries)
}

func TestPostDuplicateSourceRejected(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := balancedInput(t, entryDate(2026, 3, 1))
	_, err := svc.Post(ctx, input)
	require.NoError(t, err)

	input.Date = entryDate(2026, 3, 2)
	_, err = svc.Post(ctx, input)
	require.ErrorIs(t, err, ErrSourceAlreadyLinked)
	require.Len(t, repo.entries, 1)
}

func TestVoidExcludesEntryFromTrialBalance(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)

	before, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, before.Rows, 2)

	voided, err := svc.Void(ctx, VoidInput{EntryID: entry.ID, ActorID: 7, Reason: "fat finger"})
	require.NoError(t, err)
	require.Equal(t, EntryStatusVoid, voided.Status)

	after, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.NoError(t, err)
	require.Empty(t, after.Rows)

	// Lines are kept for the audit trail.
	require.Len(t, repo.lines[entry.ID], 2)
}

func TestVoidRequiresPostedStatus(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)
	_, err = svc.Void(ctx, VoidInput{EntryID: entry.ID})
	require.NoError(t, err)

	_, err = svc.Void(ctx, VoidInput{EntryID: entry.ID})
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Void(ctx, VoidInput{EntryID: 999})
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReversePostsOffsettingEntry(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	original, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, ReverseInput{EntryID: original.ID, ActorID: 7})
	require.NoError(t, err)
	require.NotEqual(t, original.ID, reversal.ID)
	require.Equal(t, "billing:REVERSAL", reversal.SourceModule)
	require.Equal(t, fmt.Sprintf("Reversal of JE %d", original.Number), reversal.Memo)

	// The original is untouched; the pair nets every account to zero.
	stored := repo.entries[original.ID]
	require.Equal(t, EntryStatusPosted, stored.Status)

	lines := repo.lines[reversal.ID]
	require.Len(t, lines, 2)
	require.True(t, lines[0].Credit.Equal(amount(t, "120.50")))
	require.True(t, lines[1].Debit.Equal(amount(t, "120.50")))

	tb, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.NoError(t, err)
	require.Empty(t, tb.Rows)
}

func TestReverseRequiresPostedStatus(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)
	_, err = svc.Void(ctx, VoidInput{EntryID: entry.ID})
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, ReverseInput{EntryID: entry.ID})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTrialBalanceAsOfDateFilter(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)

	later := balancedInput(t, entryDate(2026, 4, 15))
	later.Lines = []PostingLineInput{
		{AccountID: 3, Debit: amount(t, "80")},
		{AccountID: 2, Credit: amount(t, "80")},
	}
	_, err = svc.Post(ctx, later)
	require.NoError(t, err)

	march, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, march.Rows, 2)
	require.True(t, march.TotalDebits.Equal(amount(t, "120.50")))
	require.True(t, march.TotalCredits.Equal(amount(t, "120.50")))

	april, err := svc.TrialBalance(ctx, entryDate(2026, 4, 30))
	require.NoError(t, err)
	require.Len(t, april.Rows, 3)
	require.True(t, april.TotalDebits.Equal(amount(t, "200.50")))
	require.True(t, april.TotalCredits.Equal(amount(t, "200.50")))
}

func TestTrialBalanceSides(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Post(ctx, balancedInput(t, entryDate(2026, 3, 1)))
	require.NoError(t, err)

	tb, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.NoError(t, err)
	require.Len(t, tb.Rows, 2)

	byCode := make(map[string]TrialBalanceRow)
	for _, row := range tb.Rows {
		byCode[row.Code] = row
	}
	require.Equal(t, SideDebit, byCode["10.100"].Side)
	require.True(t, byCode["10.100"].Balance.Equal(amount(t, "120.50")))
	require.Equal(t, SideCredit, byCode["40.100"].Side)
	require.True(t, byCode["40.100"].Balance.Equal(amount(t, "120.50")))
}

func TestTrialBalanceDetectsCorruptLines(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	// A lone one-sided line cannot come in through Post; plant it to
	// simulate storage corruption.
	repo.entries[50] = JournalEntry{ID: 50, Number: 50, Date: entryDate(2026, 3, 1), Status: EntryStatusPosted}
	repo.lines[50] = []JournalLine{{ID: 5000, EntryID: 50, AccountID: 1, Debit: amount(t, "10")}}

	_, err := svc.TrialBalance(ctx, entryDate(2026, 3, 31))
	require.ErrorIs(t, err, ErrOutOfBalance)
	require.ErrorIs(t, err, shared.ErrInternalConsistency)
}

func TestCreateAndUpdateAccount(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateAccount(ctx, AccountInput{
		Code:       "50.100",
		Name:       "Freight",
		Type:       AccountTypeExpense,
		NormalSide: SideDebit,
	})
	require.NoError(t, err)
	require.True(t, created.Active)

	_, err = svc.CreateAccount(ctx, AccountInput{
		Code:       "50.100",
		Name:       "Freight again",
		Type:       AccountTypeExpense,
		NormalSide: SideDebit,
	})
	require.ErrorIs(t, err, ErrDuplicateCode)

	updated, err := svc.UpdateAccount(ctx, created.ID, "Freight In", false)
	require.NoError(t, err)
	require.Equal(t, "Freight In", updated.Name)
	require.False(t, updated.Active)

	_, err = svc.UpdateAccount(ctx, created.ID, "", true)
	require.ErrorIs(t, err, shared.ErrValidation)

	active, err := svc.ListAccounts(ctx, false)
	require.NoError(t, err)
	all, err := svc.ListAccounts(ctx, true)
	require.NoError(t, err)
	require.Greater(t, len(all), len(active))
}
