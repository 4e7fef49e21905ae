package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/observability"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	UpsertObservations(ctx context.Context, observations []Observation) error
	Latest(ctx context.Context, from, to string, onDate time.Time) (Observation, error)
}

// Service answers historical currency conversions and ingests rates.
type Service struct {
	repo     RepositoryPort
	cache    *RateCache
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService builds Service. Cache, logger and metrics are optional.
func NewService(repo RepositoryPort, cache *RateCache, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Ingest upserts a batch of observations. Re-ingesting a date
// overwrites that date's rate; conversions already performed are not
// recomputed, only future lookups see the new value.
func (s *Service) Ingest(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}
	normalised := make([]Observation, 0, len(observations))
	for idx, obs := range observations {
		if err := s.validate.Struct(obs); err != nil {
			return fmt.Errorf("fx: observation %d: %w", idx, err)
		}
		if !obs.Rate.IsPositive() {
			return fmt.Errorf("observation %d (%s/%s): %w", idx, obs.FromCurrency, obs.ToCurrency, ErrInvalidRate)
		}
		obs.EffectiveDate = DateOnly(obs.EffectiveDate)
		normalised = append(normalised, obs)
	}
	if err := s.repo.UpsertObservations(ctx, normalised); err != nil {
		return err
	}
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("fx cache bump failed", slog.Any("error", err))
	}
	return nil
}

// Rate resolves the applicable rate for converting from -> to on a
// date: the latest direct observation with effective_date <= onDate,
// falling back to the inverted inverse pair.
func (s *Service) Rate(ctx context.Context, from, to string, onDate time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	onDate = DateOnly(onDate)

	if rate, ok := s.cache.Get(ctx, from, to, onDate); ok {
		return rate, nil
	}

	obs, err := s.repo.Latest(ctx, from, to, onDate)
	if err == nil {
		s.cache.Set(ctx, from, to, onDate, obs.Rate)
		return obs.Rate, nil
	}
	if !errors.Is(err, ErrNoRateAvailable) {
		return decimal.Zero, err
	}

	inverse, err := s.repo.Latest(ctx, to, from, onDate)
	if err != nil {
		if errors.Is(err, ErrNoRateAvailable) {
			return decimal.Zero, fmt.Errorf("%w: %s/%s on %s", ErrNoRateAvailable, from, to, onDate.Format("2006-01-02"))
		}
		return decimal.Zero, err
	}
	if !inverse.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: inverse %s/%s is not positive", ErrInvalidRate, to, from)
	}
	rate := decimal.NewFromInt(1).DivRound(inverse.Rate, 16)
	s.cache.Set(ctx, from, to, onDate, rate)
	return rate, nil
}

// Convert converts an amount into the target currency using the rate
// in effect on the given date, rounded half-to-even at the target
// currency's minor-unit precision.
func (s *Service) Convert(ctx context.Context, amount money.Money, toCurrency string, onDate time.Time) (money.Money, error) {
	if amount.Currency() == toCurrency {
		return amount, nil
	}
	rate, err := s.Rate(ctx, amount.Currency(), toCurrency, onDate)
	if err != nil {
		s.metrics.ObserveConversion(false)
		return money.Money{}, err
	}
	converted := money.New(amount.Amount().Mul(rate), toCurrency).RoundToMinorUnit()
	s.metrics.ObserveConversion(true)
	return converted, nil
}
