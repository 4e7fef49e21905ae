package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/costing"
	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository persists stock transfers in PostgreSQL.
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

func (r *txRepository) InsertTransfer(ctx context.Context, input CreateInput, code string, createdAt time.Time) (Transfer, error) {
	transfer := Transfer{
		Code:           code,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Status:         StatusPending,
		CreatedBy:      input.ActorID,
		CreatedAt:      createdAt,
	}
	err := r.conn.QueryRow(ctx, `INSERT INTO stock_transfers (code, from_location_id, to_location_id, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		code, input.FromLocationID, input.ToLocationID, string(StatusPending), input.ActorID, createdAt).Scan(&transfer.ID)
	if err != nil {
		return Transfer{}, err
	}
	for _, item := range input.Items {
		line := Item{
			TransferID:        transfer.ID,
			ProductID:         item.ProductID,
			QuantityRequested: item.Quantity,
		}
		err := r.conn.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, quantity_requested, quantity_shipped, quantity_received)
VALUES ($1,$2,$3,0,0) RETURNING id`, transfer.ID, item.ProductID, item.Quantity).Scan(&line.ID)
		if err != nil {
			return Transfer{}, err
		}
		transfer.Items = append(transfer.Items, line)
	}
	return transfer, nil
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, transferID int64) (Transfer, error) {
	transfer, err := scanTransfer(ctx, r.conn, transferID, true)
	if err != nil {
		return Transfer{}, err
	}
	return transfer, nil
}

func (r *txRepository) UpdateItemShipment(ctx context.Context, itemID, quantityShipped int64, result costing.ConsumptionResult) error {
	avg := result.WeightedAverageUnitCost()
	_, err := r.conn.Exec(ctx, `UPDATE stock_transfer_items SET quantity_shipped=$2, unit_cost=$3, currency=$4 WHERE id=$1`,
		itemID, quantityShipped, avg.Amount(), avg.Currency())
	return err
}

func (r *txRepository) UpdateItemReceipt(ctx context.Context, itemID, quantityReceived int64) error {
	_, err := r.conn.Exec(ctx, `UPDATE stock_transfer_items SET quantity_received=$2 WHERE id=$1`, itemID, quantityReceived)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, transferID int64, status Status, at time.Time) error {
	var column string
	switch status {
	case StatusInTransit:
		column = "shipped_at"
	case StatusReceived:
		column = "received_at"
	default:
		column = "updated_at"
	}
	tag, err := r.conn.Exec(ctx, fmt.Sprintf(`UPDATE stock_transfers SET status=$2, %s=$3 WHERE id=$1`, column),
		transferID, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w (id %d)", ErrTransferNotFound, transferID)
	}
	return nil
}

// GetTransfer loads a transfer with its items.
func (r *Repository) GetTransfer(ctx context.Context, transferID int64) (Transfer, error) {
	return scanTransfer(ctx, db.Conn(ctx, r.pool), transferID, false)
}

func scanTransfer(ctx context.Context, conn db.Querier, transferID int64, forUpdate bool) (Transfer, error) {
	query := `SELECT id, code, from_location_id, to_location_id, status, created_by, created_at, shipped_at, received_at
FROM stock_transfers WHERE id=$1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var transfer Transfer
	err := conn.QueryRow(ctx, query, transferID).
		Scan(&transfer.ID, &transfer.Code, &transfer.FromLocationID, &transfer.ToLocationID, &transfer.Status,
			&transfer.CreatedBy, &transfer.CreatedAt, &transfer.ShippedAt, &transfer.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, fmt.Errorf("%w (id %d)", ErrTransferNotFound, transferID)
		}
		return Transfer{}, err
	}
	rows, err := conn.Query(ctx, `SELECT id, transfer_id, product_id, quantity_requested, quantity_shipped, quantity_received, unit_cost, currency
FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		var amount decimal.Decimal
		var currency string
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.QuantityRequested,
			&item.QuantityShipped, &item.QuantityReceived, &amount, &currency); err != nil {
			return Transfer{}, err
		}
		item.UnitCost = money.New(amount, currency)
		transfer.Items = append(transfer.Items, item)
	}
	return transfer, rows.Err()
}
