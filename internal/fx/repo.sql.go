package fx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository persists rate observations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertObservations writes a batch of observations. Re-ingesting the
// same (from, to, date) overwrites the prior value.
func (r *Repository) UpsertObservations(ctx context.Context, observations []Observation) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		for _, obs := range observations {
			if _, err := conn.Exec(ctx, `INSERT INTO fx_rates (from_currency, to_currency, effective_date, rate, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (from_currency, to_currency, effective_date) DO UPDATE SET rate=EXCLUDED.rate, updated_at=NOW()`,
				obs.FromCurrency, obs.ToCurrency, obs.EffectiveDate, obs.Rate); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the most recent observation for the pair with
// effective_date <= onDate.
func (r *Repository) Latest(ctx context.Context, from, to string, onDate time.Time) (Observation, error) {
	var obs Observation
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT from_currency, to_currency, effective_date, rate
FROM fx_rates
WHERE from_currency=$1 AND to_currency=$2 AND effective_date <= $3
ORDER BY effective_date DESC
LIMIT 1`, from, to, onDate).Scan(&obs.FromCurrency, &obs.ToCurrency, &obs.EffectiveDate, &obs.Rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Observation{}, ErrNoRateAvailable
		}
		return Observation{}, err
	}
	return obs, nil
}

// MissingDates lists dates in [from, to] with no observation for the
// pair. Used by the gap scan job.
func (r *Repository) MissingDates(ctx context.Context, fromCcy, toCcy string, since, until time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT d::date FROM generate_series($3::date, $4::date, interval '1 day') AS g(d)
WHERE NOT EXISTS (
  SELECT 1 FROM fx_rates WHERE from_currency=$1 AND to_currency=$2 AND effective_date = d::date
)
ORDER BY d`, fromCcy, toCcy, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		missing = append(missing, d)
	}
	return missing, rows.Err()
}
