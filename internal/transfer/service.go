package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian/internal/costing"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetTransfer(ctx context.Context, transferID int64) (Transfer, error)
}

// TxRepository exposes the mutations used inside a transfer transaction.
type TxRepository interface {
	InsertTransfer(ctx context.Context, input CreateInput, code string, createdAt time.Time) (Transfer, error)
	GetTransferForUpdate(ctx context.Context, transferID int64) (Transfer, error)
	UpdateItemShipment(ctx context.Context, itemID, quantityShipped int64, unitCost costing.ConsumptionResult) error
	UpdateItemReceipt(ctx context.Context, itemID, quantityReceived int64) error
	UpdateStatus(ctx context.Context, transferID int64, status Status, at time.Time) error
}

// CostingPort is the cost layer engine surface the state machine
// drives. Shipping consumes at the source, receiving re-layers at the
// destination; the engine is the only writer of layer quantities.
type CostingPort interface {
	ConsumeBatch(ctx context.Context, reqs []costing.ConsumeRequest) ([]costing.ConsumptionResult, error)
	Receive(ctx context.Context, input costing.ReceiveInput) (costing.CostLayer, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried create submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service owns the stock transfer lifecycle.
type Service struct {
	repo     RepositoryPort
	costing  CostingPort
	audit    AuditPort
	idem     IdempotencyPort
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. Audit, idempotency and logger are optional.
func NewService(repo RepositoryPort, costingPort CostingPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		costing:  costingPort,
		audit:    audit,
		idem:     idem,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create initialises a pending transfer with zero shipped and received
// quantities on every item.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if err := s.validate.Struct(input); err != nil {
		return Transfer{}, fmt.Errorf("transfer: %w: %v", shared.ErrValidation, err)
	}
	if input.FromLocationID == input.ToLocationID {
		return Transfer{}, ErrSameLocation
	}
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "transfer"); err != nil {
			return Transfer{}, err
		}
	}
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("TRF-%d", s.now().UnixNano())
	}
	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertTransfer(ctx, input, code, s.now().UTC())
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		// Release the key so a corrected submission can retry.
		if input.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, input.IdempotencyKey)
		}
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "transfer.create", created.ID, map[string]any{
		"code": created.Code,
		"from": created.FromLocationID,
		"to":   created.ToLocationID,
	})
	return created, nil
}

// Ship moves a pending transfer to in_transit. Each item ships its
// requested quantity unless overridden (over-shipping the request is a
// legitimate case). Cost consumption at the source and the status
// update commit in one transaction: one failing item rolls back all.
func (s *Service) Ship(ctx context.Context, transferID int64, shippedQuantities map[int64]int64, actorID int64) (Transfer, error) {
	var shipped Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return invalidTransition(current.Status, StatusInTransit)
		}

		quantities := make([]int64, len(current.Items))
		reqs := make([]costing.ConsumeRequest, 0, len(current.Items))
		for idx, item := range current.Items {
			qty := item.QuantityRequested
			if override, ok := shippedQuantities[item.ID]; ok {
				qty = override
			}
			if qty <= 0 {
				return fmt.Errorf("transfer: item %d ship quantity must be positive: %w", item.ID, shared.ErrValidation)
			}
			quantities[idx] = qty
			reqs = append(reqs, costing.ConsumeRequest{
				ProductID:  item.ProductID,
				LocationID: current.FromLocationID,
				Quantity:   qty,
			})
		}

		results, err := s.costing.ConsumeBatch(ctx, reqs)
		if err != nil {
			return err
		}
		for idx, item := range current.Items {
			if err := tx.UpdateItemShipment(ctx, item.ID, quantities[idx], results[idx]); err != nil {
				return err
			}
			current.Items[idx].QuantityShipped = quantities[idx]
			current.Items[idx].UnitCost = results[idx].WeightedAverageUnitCost()
		}

		at := s.now().UTC()
		if err := tx.UpdateStatus(ctx, current.ID, StatusInTransit, at); err != nil {
			return err
		}
		current.Status = StatusInTransit
		current.ShippedAt = &at
		shipped = current
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer.ship", shipped.ID, map[string]any{"code": shipped.Code})
	return shipped, nil
}

// Receive moves an in_transit transfer to received. Each item defaults
// to its shipped quantity; receiving more than was shipped fails the
// whole operation. Items are re-layered at the destination at their
// shipment-time weighted average cost.
func (s *Service) Receive(ctx context.Context, transferID int64, receivedQuantities map[int64]int64, actorID int64) (Transfer, error) {
	var received Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if current.Status != StatusInTransit {
			return invalidTransition(current.Status, StatusReceived)
		}

		quantities := make([]int64, len(current.Items))
		for idx, item := range current.Items {
			qty := item.QuantityShipped
			if override, ok := receivedQuantities[item.ID]; ok {
				qty = override
			}
			if qty < 0 {
				return fmt.Errorf("transfer: item %d receive quantity negative: %w", item.ID, shared.ErrValidation)
			}
			if qty > item.QuantityShipped {
				return fmt.Errorf("%w (item %d: shipped %d, received %d)", ErrOverReceipt, item.ID, item.QuantityShipped, qty)
			}
			quantities[idx] = qty
		}

		for idx, item := range current.Items {
			if quantities[idx] == 0 {
				continue
			}
			if _, err := s.costing.Receive(ctx, costing.ReceiveInput{
				ProductID:  item.ProductID,
				LocationID: current.ToLocationID,
				Quantity:   quantities[idx],
				UnitCost:   item.UnitCost,
				RefModule:  "transfer",
				RefID:      current.Code,
			}); err != nil {
				return err
			}
			if err := tx.UpdateItemReceipt(ctx, item.ID, quantities[idx]); err != nil {
				return err
			}
			current.Items[idx].QuantityReceived = quantities[idx]
		}

		at := s.now().UTC()
		if err := tx.UpdateStatus(ctx, current.ID, StatusReceived, at); err != nil {
			return err
		}
		current.Status = StatusReceived
		current.ReceivedAt = &at
		received = current
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer.receive", received.ID, map[string]any{"code": received.Code})
	return received, nil
}

// Cancel aborts a pending transfer. Nothing was shipped, so there are
// no cost layer side effects.
func (s *Service) Cancel(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var cancelled Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return invalidTransition(current.Status, StatusCancelled)
		}
		if err := tx.UpdateStatus(ctx, current.ID, StatusCancelled, s.now().UTC()); err != nil {
			return err
		}
		current.Status = StatusCancelled
		cancelled = current
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer.cancel", cancelled.ID, map[string]any{"code": cancelled.Code})
	return cancelled, nil
}

// Get loads a transfer with its items.
func (s *Service) Get(ctx context.Context, transferID int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, transferID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
		At:       s.now(),
	})
}
