package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian/internal/costing"
)

// CostingScanner is the cost engine surface the scan needs.
type CostingScanner interface {
	UncostedProducts(ctx context.Context) ([]costing.UncostedProduct, error)
	AvailableQuantity(ctx context.Context, productID, locationID int64) (int64, error)
}

// CostingScanJob finds product/locations carrying physical quantity
// without a usable cost basis. The condition is reported, not blocked:
// the quantity became positive through a path the receipt policy
// allows, and someone needs to backfill the cost.
type CostingScanJob struct {
	Costing CostingScanner
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewCostingScanJob initialises the scan handler.
func NewCostingScanJob(costingService CostingScanner, logger *slog.Logger) *CostingScanJob {
	return &CostingScanJob{
		Costing: costingService,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *CostingScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Costing == nil {
		return errors.New("costing scan: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	findings, err := j.Costing.UncostedProducts(ctx)
	if err != nil {
		return err
	}
	logger := j.log()
	if len(findings) == 0 {
		logger.Info("costing scan clean")
		return nil
	}

	// Re-check each finding against the authoritative layer sum; the
	// cached counter the query starts from is derived and may drift.
	var mu sync.Mutex
	drifted := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, finding := range findings {
		finding := finding
		g.Go(func() error {
			authoritative, err := j.Costing.AvailableQuantity(gctx, finding.ProductID, finding.LocationID)
			if err != nil {
				return err
			}
			logger.Warn("uncosted inventory detected",
				slog.Int64("product_id", finding.ProductID),
				slog.Int64("location_id", finding.LocationID),
				slog.Int64("cached_quantity", finding.CachedQuantity),
				slog.Int64("layer_quantity", authoritative),
				slog.Int64("zero_cost_layers", finding.ZeroCostLayers))
			if authoritative != finding.CachedQuantity {
				mu.Lock()
				drifted++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Warn("costing scan finished",
		slog.Int("findings", len(findings)),
		slog.Int("counter_drift", drifted))
	return nil
}

func (j *CostingScanJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
