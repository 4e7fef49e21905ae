package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction,
// joining a transaction already carried in ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, &txRepository{conn: db.Conn(ctx, r.pool)})
	})
}

type txRepository struct {
	conn db.Querier
}

func (r *txRepository) AccountsByID(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, code, name, account_type, normal_side, parent_id, active, created_at, updated_at
FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[int64]Account, len(ids))
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.ID, &acc.Code, &acc.Name, &acc.Type, &acc.NormalSide, &acc.ParentID, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		accounts[acc.ID] = acc
	}
	return accounts, rows.Err()
}

func (r *txRepository) NextEntryNumber(ctx context.Context) (int64, error) {
	var number int64
	err := r.conn.QueryRow(ctx, `SELECT nextval('journal_entry_number_seq')`).Scan(&number)
	return number, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, input PostingInput, number int64, postedAt time.Time) (JournalEntry, error) {
	entry := JournalEntry{
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
	err := r.conn.QueryRow(ctx, `INSERT INTO journal_entries (entry_number, entry_date, currency, status, source_module, source_id, memo, posted_by, posted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		number, input.Date, input.Currency, string(EntryStatusPosted), input.SourceModule, input.SourceID, input.Memo, input.PostedBy, postedAt).Scan(&entry.ID)
	return entry, err
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error {
	for _, line := range lines {
		if _, err := r.conn.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Debit, line.Credit, line.Memo); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, sourceID uuid.UUID, entryID int64) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO journal_sources (source_module, source_id, entry_id) VALUES ($1,$2,$3)`,
		module, sourceID, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w (%s %s)", ErrSourceAlreadyLinked, module, sourceID)
		}
		return err
	}
	return nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := r.conn.QueryRow(ctx, `SELECT id, entry_number, entry_date, currency, status, source_module, source_id, memo, posted_by, posted_at
FROM journal_entries WHERE id=$1 FOR UPDATE`, entryID).
		Scan(&entry.ID, &entry.Number, &entry.Date, &entry.Currency, &entry.Status, &entry.SourceModule, &entry.SourceID, &entry.Memo, &entry.PostedBy, &entry.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("%w (id %d)", ErrEntryNotFound, entryID)
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) UpdateJournalStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	tag, err := r.conn.Exec(ctx, `UPDATE journal_entries SET status=$2 WHERE id=$1`, entryID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w (id %d)", ErrEntryNotFound, entryID)
	}
	return nil
}

func (r *txRepository) InsertAccount(ctx context.Context, input AccountInput) (Account, error) {
	account := Account{
		Code:       input.Code,
		Name:       input.Name,
		Type:       input.Type,
		NormalSide: input.NormalSide,
		ParentID:   input.ParentID,
		Active:     true,
	}
	err := r.conn.QueryRow(ctx, `INSERT INTO accounts (code, name, account_type, normal_side, parent_id, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		input.Code, input.Name, string(input.Type), string(input.NormalSide), input.ParentID).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, fmt.Errorf("%w (%s)", ErrDuplicateCode, input.Code)
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, id int64, name string, active bool) (Account, error) {
	var account Account
	err := r.conn.QueryRow(ctx, `UPDATE accounts SET name=$2, active=$3, updated_at=NOW() WHERE id=$1
RETURNING id, code, name, account_type, normal_side, parent_id, active, created_at, updated_at`, id, name, active).
		Scan(&account.ID, &account.Code, &account.Name, &account.Type, &account.NormalSide, &account.ParentID, &account.Active, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w (id %d)", ErrAccountNotFound, id)
		}
		return Account{}, err
	}
	return account, nil
}

// GetJournalWithLines loads an entry and its lines.
func (r *Repository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	conn := db.Conn(ctx, r.pool)
	var entry JournalEntry
	err := conn.QueryRow(ctx, `SELECT id, entry_number, entry_date, currency, status, source_module, source_id, memo, posted_by, posted_at
FROM journal_entries WHERE id=$1`, entryID).
		Scan(&entry.ID, &entry.Number, &entry.Date, &entry.Currency, &entry.Status, &entry.SourceModule, &entry.SourceID, &entry.Memo, &entry.PostedBy, &entry.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, nil, fmt.Errorf("%w (id %d)", ErrEntryNotFound, entryID)
		}
		return JournalEntry{}, nil, err
	}
	rows, err := conn.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, memo FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.Memo); err != nil {
			return JournalEntry{}, nil, err
		}
		lines = append(lines, line)
	}
	return entry, lines, rows.Err()
}

// ListAccounts lists the chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, account_type, normal_side, parent_id, active, created_at, updated_at
FROM accounts WHERE active OR $1 ORDER BY code`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.ID, &acc.Code, &acc.Name, &acc.Type, &acc.NormalSide, &acc.ParentID, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// AccountActivity sums debits and credits per active account across
// posted, non-void lines whose entry date is on or before asOf.
func (r *Repository) AccountActivity(ctx context.Context, asOf time.Time) ([]TrialBalanceRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.account_type,
  COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id
WHERE a.active AND e.status = 'POSTED' AND e.entry_date <= $1
GROUP BY a.id, a.code, a.name, a.account_type
ORDER BY a.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.Code, &row.Name, &row.Type, &row.DebitTotal, &row.CreditTotal); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
