package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coursekart/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, discount, tax, total,
		currency, status, coupon_code, idempotency_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	orderColumns = `id, user_id, items, subtotal, discount, tax, total, currency, status,
		coupon_code, cancel_reason, payment_ref, idempotency_key,
		created_at, expires_at, paid_at, completed_at, cancelled_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	// Conditional on the expected current status: the optimistic guard that
	// makes racing transitions lose cleanly instead of clobbering each other.
	updateOrderStatusSQL = `UPDATE orders SET status = $3,
		cancel_reason = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancel_reason END,
		paid_at      = CASE WHEN $3 = 'paid'      AND paid_at      IS NULL THEN $5 ELSE paid_at      END,
		completed_at = CASE WHEN $3 = 'completed' AND completed_at IS NULL THEN $5 ELSE completed_at END,
		cancelled_at = CASE WHEN $3 = 'cancelled' AND cancelled_at IS NULL THEN $5 ELSE cancelled_at END
		WHERE id = $1 AND status = $2`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5)`

	setPaymentRefSQL = `UPDATE orders SET payment_ref = $2 WHERE id = $1`

	listExpiredSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new pending order and its initial history row in one
// transaction. Order items are serialized to JSON for the JSONB column.
// A duplicate idempotency key returns order.ErrConflict.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Subtotal, o.Discount, o.Tax, o.Total,
		o.Currency, o.Status, o.CouponCode, o.IdempotencyKey, o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return storageErr("create order", err)
	}

	_, err = tx.Exec(ctx, insertHistorySQL, o.ID, "", o.Status, "", o.CreatedAt)
	if err != nil {
		return storageErr("record status history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return storageErr("commit order", err)
	}
	return nil
}

// GetByID returns a single order. Returns order.ErrNotFound when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByIdempotencyKey returns the order created under the given key.
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByKeySQL, key)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, storageErr("get order", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, storageErr("get order", err)
	}
	return &o, nil
}

// UpdateStatus applies a guarded status transition and records the history
// row in the same transaction. Zero rows updated means the order moved since
// it was read; that surfaces as order.ErrConflict.
func (r *OrderRepository) UpdateStatus(ctx context.Context, change order.StatusChange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, updateOrderStatusSQL,
		change.OrderID, change.From, change.To, change.Reason, change.At,
	)
	if err != nil {
		return storageErr("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConflict
	}

	_, err = tx.Exec(ctx, insertHistorySQL,
		change.OrderID, change.From, change.To, change.Reason, change.At,
	)
	if err != nil {
		return storageErr("record status history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit status change", err)
	}
	return nil
}

// SetPaymentRef stores the provider-side payment reference on the order.
func (r *OrderRepository) SetPaymentRef(ctx context.Context, orderID, ref string) error {
	_, err := r.pool.Exec(ctx, setPaymentRefSQL, orderID, ref)
	if err != nil {
		return storageErr("set payment ref", err)
	}
	return nil
}

// ListExpired returns pending orders whose expiry has passed, oldest first.
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listExpiredSQL, now, limit)
	if err != nil {
		return nil, storageErr("list expired orders", err)
	}

	list, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, storageErr("list expired orders", err)
	}
	return list, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.Subtotal, &o.Discount, &o.Tax, &o.Total,
		&o.Currency, &status, &o.CouponCode, &o.CancelReason, &o.PaymentRef,
		&o.IdempotencyKey, &o.CreatedAt, &o.ExpiresAt, &o.PaidAt, &o.CompletedAt, &o.CancelledAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, errors.Wrap(err, "unmarshal order items")
	}
	return o, nil
}
