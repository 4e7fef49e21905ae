package costing

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/shared"
)

// CostLayer records one inventory receipt for a product at a location.
// Layers are append-only: they are depleted to zero, never deleted, so
// the cost history of every unit stays auditable.
type CostLayer struct {
	ID                int64
	ProductID         int64
	LocationID        int64
	Seq               int64
	QuantityReceived  int64
	QuantityRemaining int64
	UnitCost          money.Money
	ZeroCost          bool
	RefModule         string
	RefID             string
	ReceivedAt        time.Time
}

// Depletion is one layer's contribution to a consumption.
type Depletion struct {
	LayerID  int64
	Quantity int64
	UnitCost money.Money
}

// ConsumptionResult is the outcome of depleting layers FIFO.
type ConsumptionResult struct {
	ProductID  int64
	LocationID int64
	Quantity   int64
	TotalCost  money.Money
	Depletions []Depletion
}

// WeightedAverageUnitCost returns TotalCost / Quantity at full
// internal precision. Used to carry cost basis across transfers.
func (r ConsumptionResult) WeightedAverageUnitCost() money.Money {
	if r.Quantity == 0 {
		return money.Zero(r.TotalCost.Currency())
	}
	return r.TotalCost.DivInt(r.Quantity)
}

// ZeroCostPolicy governs a positive-quantity receipt with unit cost
// <= 0: block the transaction or accept it flagged.
type ZeroCostPolicy string

const (
	ZeroCostWarn  ZeroCostPolicy = "warn"
	ZeroCostBlock ZeroCostPolicy = "block"
)

// ReceiveInput describes an inventory receipt.
type ReceiveInput struct {
	ProductID  int64
	LocationID int64
	Quantity   int64
	UnitCost   money.Money
	RefModule  string
	RefID      string
}

// ConsumeRequest describes one outbound movement to cost.
type ConsumeRequest struct {
	ProductID  int64
	LocationID int64
	Quantity   int64
}

// UncostedProduct is a product/location whose cached on-hand counter
// is positive but whose cost basis is missing or flagged zero-cost.
type UncostedProduct struct {
	ProductID      int64
	LocationID     int64
	CachedQuantity int64
	LayerQuantity  int64
	ZeroCostLayers int64
}

var (
	// ErrInsufficientCostBasis indicates the available layer quantity
	// cannot cover the requested consumption. Inventory may be
	// physically present yet financially uncosted; the engine never
	// fabricates a cost.
	ErrInsufficientCostBasis = errors.New("costing: insufficient cost basis")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("costing: quantity must be positive: %w", shared.ErrValidation)
	// ErrZeroCostReceipt indicates a positive-quantity receipt at zero
	// or negative unit cost under the block policy.
	ErrZeroCostReceipt = fmt.Errorf("costing: zero-cost receipt rejected: %w", shared.ErrValidation)
	// ErrMixedCurrency indicates a product's layers carry different
	// currencies, which makes their combined cost meaningless.
	ErrMixedCurrency = fmt.Errorf("costing: mixed layer currencies: %w", shared.ErrInternalConsistency)
)
