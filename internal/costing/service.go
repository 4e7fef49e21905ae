package costing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	AvailableQuantity(ctx context.Context, productID, locationID int64) (int64, error)
	UncostedProducts(ctx context.Context) ([]UncostedProduct, error)
}

// TxRepository exposes the mutations used inside a costing transaction.
type TxRepository interface {
	NextLayerSeq(ctx context.Context, productID, locationID int64) (int64, error)
	InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error)
	LayersForUpdate(ctx context.Context, productID, locationID int64) ([]CostLayer, error)
	UpdateLayerRemaining(ctx context.Context, layerID, remaining int64) error
	AdjustCachedQuantity(ctx context.Context, productID, locationID, delta int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups policy settings.
type ServiceConfig struct {
	ZeroCostPolicy ZeroCostPolicy
}

// Service owns cost layer lifecycle: receipts append layers, outbound
// movements deplete them strictly oldest-first.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
	policy  ZeroCostPolicy
	now     func() time.Time
}

// NewService builds Service. Audit, logger and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	policy := cfg.ZeroCostPolicy
	if policy == "" {
		policy = ZeroCostWarn
	}
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics, policy: policy, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Receive appends a new layer with remaining = received = quantity. A
// unit cost <= 0 with positive quantity is governed by the zero-cost
// policy: blocked outright, or accepted flagged and logged.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (CostLayer, error) {
	if input.ProductID == 0 || input.LocationID == 0 {
		return CostLayer{}, fmt.Errorf("costing: product and location required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return CostLayer{}, ErrInvalidQuantity
	}
	zeroCost := !input.UnitCost.IsPositive()
	if zeroCost {
		if s.policy == ZeroCostBlock {
			return CostLayer{}, fmt.Errorf("%w (product %d, unit cost %s)", ErrZeroCostReceipt, input.ProductID, input.UnitCost)
		}
		if s.logger != nil {
			s.logger.Warn("zero-cost receipt accepted",
				slog.Int64("product_id", input.ProductID),
				slog.Int64("location_id", input.LocationID),
				slog.Int64("quantity", input.Quantity),
				slog.String("unit_cost", input.UnitCost.String()))
		}
	}
	var layer CostLayer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextLayerSeq(ctx, input.ProductID, input.LocationID)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertLayer(ctx, CostLayer{
			ProductID:         input.ProductID,
			LocationID:        input.LocationID,
			Seq:               seq,
			QuantityReceived:  input.Quantity,
			QuantityRemaining: input.Quantity,
			UnitCost:          input.UnitCost,
			ZeroCost:          zeroCost,
			RefModule:         input.RefModule,
			RefID:             input.RefID,
			ReceivedAt:        s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustCachedQuantity(ctx, input.ProductID, input.LocationID, input.Quantity); err != nil {
			return err
		}
		layer = inserted
		return nil
	})
	if err != nil {
		return CostLayer{}, err
	}
	s.recordAudit(ctx, "costing.receive", input.ProductID, map[string]any{
		"location_id": input.LocationID,
		"quantity":    input.Quantity,
		"unit_cost":   input.UnitCost.String(),
		"zero_cost":   zeroCost,
	})
	return layer, nil
}

// Consume depletes layers for one product/location strictly FIFO.
// All-or-nothing: when available quantity cannot cover the request no
// layer is mutated.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (ConsumptionResult, error) {
	results, err := s.ConsumeBatch(ctx, []ConsumeRequest{req})
	if err != nil {
		return ConsumptionResult{}, err
	}
	return results[0], nil
}

// ConsumeBatch depletes layers for several requests in one
// transaction. A failure on any request rolls back every mutation.
func (s *Service) ConsumeBatch(ctx context.Context, reqs []ConsumeRequest) ([]ConsumptionResult, error) {
	for _, req := range reqs {
		if req.ProductID == 0 || req.LocationID == 0 {
			return nil, fmt.Errorf("costing: product and location required: %w", shared.ErrValidation)
		}
		if req.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	results := make([]ConsumptionResult, 0, len(reqs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, req := range reqs {
			result, err := s.consumeOne(ctx, tx, req)
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		return nil
	})
	s.metrics.ObserveConsumption(err == nil)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		s.recordAudit(ctx, "costing.consume", result.ProductID, map[string]any{
			"location_id": result.LocationID,
			"quantity":    result.Quantity,
			"total_cost":  result.TotalCost.String(),
			"layers":      len(result.Depletions),
		})
	}
	return results, nil
}

func (s *Service) consumeOne(ctx context.Context, tx TxRepository, req ConsumeRequest) (ConsumptionResult, error) {
	layers, err := tx.LayersForUpdate(ctx, req.ProductID, req.LocationID)
	if err != nil {
		return ConsumptionResult{}, err
	}
	var available int64
	for _, layer := range layers {
		available += layer.QuantityRemaining
	}
	if available < req.Quantity {
		return ConsumptionResult{}, fmt.Errorf("%w: product %d at location %d has %d, requested %d",
			ErrInsufficientCostBasis, req.ProductID, req.LocationID, available, req.Quantity)
	}

	result := ConsumptionResult{ProductID: req.ProductID, LocationID: req.LocationID, Quantity: req.Quantity}
	remaining := req.Quantity
	var total money.Money
	for _, layer := range layers {
		if remaining == 0 {
			break
		}
		take := layer.QuantityRemaining
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		total, err = total.Add(layer.UnitCost.MulInt(take))
		if err != nil {
			return ConsumptionResult{}, fmt.Errorf("%w: product %d", ErrMixedCurrency, req.ProductID)
		}
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, layer.QuantityRemaining-take); err != nil {
			return ConsumptionResult{}, err
		}
		result.Depletions = append(result.Depletions, Depletion{LayerID: layer.ID, Quantity: take, UnitCost: layer.UnitCost})
		remaining -= take
	}
	if err := tx.AdjustCachedQuantity(ctx, req.ProductID, req.LocationID, -req.Quantity); err != nil {
		return ConsumptionResult{}, err
	}
	result.TotalCost = total
	return result, nil
}

// AvailableQuantity returns the authoritative on-hand count: the sum
// of quantity_remaining across the product/location's layers. The
// cached product counter is derived and may drift; this does not.
func (s *Service) AvailableQuantity(ctx context.Context, productID, locationID int64) (int64, error) {
	return s.repo.AvailableQuantity(ctx, productID, locationID)
}

// UncostedProducts lists product/locations carrying quantity with no
// usable cost basis, for the diagnostic scan.
func (s *Service) UncostedProducts(ctx context.Context) ([]UncostedProduct, error) {
	return s.repo.UncostedProducts(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "cost_layer",
		EntityID: fmt.Sprintf("%d", productID),
		Meta:     meta,
		At:       s.now(),
	})
}
