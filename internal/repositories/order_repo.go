package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/urban-mobility/escrow-backend/internal/models"
)

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_id, mode, buyer, partner, amount_units, token_symbol, chain_id,
		                    approve_tx_hash, create_tx_hash, release_tx_hash, refund_tx_hash,
		                    status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID.String(), o.OrderID, o.Mode, o.Buyer, o.Partner, o.AmountUnits, o.TokenSymbol, o.ChainID,
		o.ApproveTxHash, o.CreateTxHash, o.ReleaseTxHash, o.RefundTxHash,
		o.Status, now.Unix(), now.Unix())
	return err
}

func (r *OrderRepo) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, mode, buyer, partner, amount_units, token_symbol, chain_id,
		       approve_tx_hash, create_tx_hash, release_tx_hash, refund_tx_hash,
		       status, created_at, updated_at
		FROM orders WHERE order_id = ?
	`, orderID)
	return scanOrder(row)
}

func (r *OrderRepo) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, mode, buyer, partner, amount_units, token_symbol, chain_id,
		       approve_tx_hash, create_tx_hash, release_tx_hash, refund_tx_hash,
		       status, created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListByStatus returns locally cached orders in the given status, oldest
// first. The worker uses it to find orders worth reconciling.
func (r *OrderRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, mode, buyer, partner, amount_units, token_symbol, chain_id,
		       approve_tx_hash, create_tx_hash, release_tx_hash, refund_tx_hash,
		       status, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, orderID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?
	`, status, time.Now().UTC().Unix(), orderID)
	return err
}

func (r *OrderRepo) MarkReleased(ctx context.Context, orderID, txHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, release_tx_hash = ?, updated_at = ? WHERE order_id = ?
	`, models.PaymentStatusReleased.String(), txHash, time.Now().UTC().Unix(), orderID)
	return err
}

func (r *OrderRepo) MarkRefunded(ctx context.Context, orderID, txHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, refund_tx_hash = ?, updated_at = ? WHERE order_id = ?
	`, models.PaymentStatusRefunded.String(), txHash, time.Now().UTC().Unix(), orderID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o         models.Order
		id        string
		approveTx sql.NullString
		createTx  sql.NullString
		releaseTx sql.NullString
		refundTx  sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&id, &o.OrderID, &o.Mode, &o.Buyer, &o.Partner, &o.AmountUnits, &o.TokenSymbol, &o.ChainID,
		&approveTx, &createTx, &releaseTx, &refundTx,
		&o.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	o.ApproveTxHash = nullable(approveTx)
	o.CreateTxHash = nullable(createTx)
	o.ReleaseTxHash = nullable(releaseTx)
	o.RefundTxHash = nullable(refundTx)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
