package costing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository persists cost layers in PostgreSQL.
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

func (r *txRepository) NextLayerSeq(ctx context.Context, productID, locationID int64) (int64, error) {
	// Global sequence: strictly increasing overall, therefore strictly
	// increasing per product/location as required for depletion order.
	var seq int64
	err := r.conn.QueryRow(ctx, `SELECT nextval('cost_layer_seq')`).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (CostLayer, error) {
	err := r.conn.QueryRow(ctx, `INSERT INTO cost_layers
(product_id, location_id, seq, quantity_received, quantity_remaining, unit_cost, currency, zero_cost, ref_module, ref_id, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		layer.ProductID, layer.LocationID, layer.Seq, layer.QuantityReceived, layer.QuantityRemaining,
		layer.UnitCost.Amount(), layer.UnitCost.Currency(), layer.ZeroCost, layer.RefModule, layer.RefID, layer.ReceivedAt).
		Scan(&layer.ID)
	return layer, err
}

func (r *txRepository) LayersForUpdate(ctx context.Context, productID, locationID int64) ([]CostLayer, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, product_id, location_id, seq, quantity_received, quantity_remaining, unit_cost, currency, zero_cost, received_at
FROM cost_layers
WHERE product_id=$1 AND location_id=$2 AND quantity_remaining > 0
ORDER BY seq ASC
FOR UPDATE`, productID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var layer CostLayer
		var amount decimal.Decimal
		var currency string
		if err := rows.Scan(&layer.ID, &layer.ProductID, &layer.LocationID, &layer.Seq,
			&layer.QuantityReceived, &layer.QuantityRemaining, &amount, &currency, &layer.ZeroCost, &layer.ReceivedAt); err != nil {
			return nil, err
		}
		layer.UnitCost = money.New(amount, currency)
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, layerID, remaining int64) error {
	// The CHECK constraint on quantity_remaining backs up the service
	// invariant 0 <= remaining <= received.
	_, err := r.conn.Exec(ctx, `UPDATE cost_layers SET quantity_remaining=$2 WHERE id=$1`, layerID, remaining)
	return err
}

func (r *txRepository) AdjustCachedQuantity(ctx context.Context, productID, locationID, delta int64) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO product_stock (product_id, location_id, quantity_on_hand, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id, location_id) DO UPDATE SET quantity_on_hand = product_stock.quantity_on_hand + EXCLUDED.quantity_on_hand, updated_at=NOW()`,
		productID, locationID, delta)
	return err
}

// AvailableQuantity sums quantity_remaining across layers.
func (r *Repository) AvailableQuantity(ctx context.Context, productID, locationID int64) (int64, error) {
	var qty int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(SUM(quantity_remaining), 0)
FROM cost_layers WHERE product_id=$1 AND location_id=$2`, productID, locationID).Scan(&qty)
	return qty, err
}

// UncostedProducts finds product/locations whose cached counter is
// positive while their layer sum is zero, or whose remaining layers
// are flagged zero-cost.
func (r *Repository) UncostedProducts(ctx context.Context) ([]UncostedProduct, error) {
	rows, err := r.pool.Query(ctx, `SELECT ps.product_id, ps.location_id, ps.quantity_on_hand,
  COALESCE(SUM(cl.quantity_remaining), 0) AS layer_qty,
  COUNT(*) FILTER (WHERE cl.zero_cost AND cl.quantity_remaining > 0) AS zero_cost_layers
FROM product_stock ps
LEFT JOIN cost_layers cl ON cl.product_id = ps.product_id AND cl.location_id = ps.location_id
WHERE ps.quantity_on_hand > 0
GROUP BY ps.product_id, ps.location_id, ps.quantity_on_hand
HAVING COALESCE(SUM(cl.quantity_remaining), 0) = 0
    OR COUNT(*) FILTER (WHERE cl.zero_cost AND cl.quantity_remaining > 0) > 0
ORDER BY ps.product_id, ps.location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []UncostedProduct
	for rows.Next() {
		var u UncostedProduct
		if err := rows.Scan(&u.ProductID, &u.LocationID, &u.CachedQuantity, &u.LayerQuantity, &u.ZeroCostLayers); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
