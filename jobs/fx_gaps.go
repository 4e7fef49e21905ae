package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// RateGapFinder is the rate table surface the gap scan needs.
type RateGapFinder interface {
	MissingDates(ctx context.Context, fromCcy, toCcy string, since, until time.Time) ([]time.Time, error)
}

// FXGapScanJob checks watched currency pairs for dates with no rate
// observation over a trailing window. Gaps make historical conversions
// fall back further than intended or fail outright.
type FXGapScanJob struct {
	Rates      RateGapFinder
	Pairs      []string
	WindowDays int
	Logger     *slog.Logger
	clock      func() time.Time
}

// NewFXGapScanJob initialises the gap scan handler. Pairs are given as
// "FROM/TO" strings.
func NewFXGapScanJob(rates RateGapFinder, pairs []string, windowDays int, logger *slog.Logger) *FXGapScanJob {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &FXGapScanJob{
		Rates:      rates,
		Pairs:      pairs,
		WindowDays: windowDays,
		Logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the gap scan.
func (j *FXGapScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Rates == nil {
		return errors.New("fx gap scan: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	until := j.clock()
	since := until.AddDate(0, 0, -j.WindowDays)
	logger := j.log()
	for _, pair := range j.Pairs {
		from, to, ok := strings.Cut(pair, "/")
		if !ok {
			logger.Warn("fx gap scan: bad pair", slog.String("pair", pair))
			continue
		}
		missing, err := j.Rates.MissingDates(ctx, from, to, since, until)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			continue
		}
		logger.Warn("fx rate gaps detected",
			slog.String("pair", pair),
			slog.Int("missing_days", len(missing)),
			slog.String("first_gap", missing[0].Format("2006-01-02")))
	}
	return nil
}

func (j *FXGapScanJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
