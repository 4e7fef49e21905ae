package transfer

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Status enumerates the transfer lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Transfer moves inventory between two locations through an auditable
// pending -> in_transit -> received lifecycle.
type Transfer struct {
	ID             int64
	Code           string
	FromLocationID int64
	ToLocationID   int64
	Status         Status
	CreatedBy      int64
	CreatedAt      time.Time
	ShippedAt      *time.Time
	ReceivedAt     *time.Time
	Items          []Item
}

// Item is one product line on a transfer. UnitCost is the weighted
// average cost of the layers depleted at ship time; receiving re-layers
// at this cost so the cost basis survives the location move.
type Item struct {
	ID                int64
	TransferID        int64
	ProductID         int64
	QuantityRequested int64
	QuantityShipped   int64
	QuantityReceived  int64
	UnitCost          money.Money
}

// CreateItemInput describes one requested line.
type CreateItemInput struct {
	ProductID int64 `validate:"required"`
	Quantity  int64 `validate:"required,gt=0"`
}

// CreateInput describes a new transfer. IdempotencyKey, when set,
// makes retried submissions fail instead of creating duplicates.
type CreateInput struct {
	Code           string
	FromLocationID int64 `validate:"required"`
	ToLocationID   int64 `validate:"required,nefield=FromLocationID"`
	ActorID        int64
	IdempotencyKey string
	Items          []CreateItemInput `validate:"required,min=1,dive"`
}

var (
	// ErrTransferNotFound indicates a missing transfer.
	ErrTransferNotFound = fmt.Errorf("transfer: %w", shared.ErrNotFound)
	// ErrSameLocation indicates from == to.
	ErrSameLocation = fmt.Errorf("transfer: source and destination must differ: %w", shared.ErrValidation)
	// ErrOverReceipt indicates quantity_received > quantity_shipped.
	ErrOverReceipt = fmt.Errorf("transfer: received quantity exceeds shipped: %w", shared.ErrValidation)
)

// invalidTransition names the current and requested states, as the
// caller needs both to diagnose a sequencing bug.
func invalidTransition(current, requested Status) error {
	return fmt.Errorf("transfer: %w: cannot move from %s to %s", shared.ErrInvalidState, current, requested)
}
