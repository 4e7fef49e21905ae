package fx

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/shared"
)

// Observation is a directional rate quote effective from a given date:
// 1 unit of FromCurrency buys Rate units of ToCurrency.
type Observation struct {
	FromCurrency  string    `validate:"required,len=3,uppercase"`
	ToCurrency    string    `validate:"required,len=3,uppercase,nefield=FromCurrency"`
	EffectiveDate time.Time `validate:"required"`
	Rate          decimal.Decimal
}

var (
	// ErrNoRateAvailable indicates no observation at or before the
	// requested date for the pair or its inverse.
	ErrNoRateAvailable = fmt.Errorf("fx: no applicable rate: %w", shared.ErrNotFound)
	// ErrInvalidRate indicates a zero or negative rate.
	ErrInvalidRate = fmt.Errorf("fx: rate must be positive: %w", shared.ErrValidation)
)

// DateOnly truncates a timestamp to its UTC calendar date. Rates are
// effective per day; intraday re-ingest overwrites the day's value.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
