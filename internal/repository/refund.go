package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coursekart/internal/domain/refund"
)

const (
	createRefundSQL = `INSERT INTO refund_requests (id, order_id, user_id, amount, refund_type,
		reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getRefundByIDSQL = `SELECT id, order_id, user_id, amount, refund_type, reason, status,
		reviewed_by, review_note, created_at, reviewed_at
		FROM refund_requests WHERE id = $1`

	// Guarded by the expected current status so two reviewers cannot both
	// decide the same request.
	updateRefundStatusSQL = `UPDATE refund_requests
		SET status = $3, reviewed_by = $4, review_note = $5, reviewed_at = $6
		WHERE id = $1 AND status = $2`
)

var _ refund.Repository = (*RefundRepository)(nil)

// RefundRepository implements refund.Repository backed by PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository returns a RefundRepository that uses the given pool.
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

// Create persists a new pending refund request.
func (r *RefundRepository) Create(ctx context.Context, req *refund.Request) error {
	_, err := r.pool.Exec(ctx, createRefundSQL,
		req.ID, req.OrderID, req.UserID, req.Amount, req.Type,
		req.Reason, req.Status, req.CreatedAt,
	)
	if err != nil {
		return storageErr("create refund request", err)
	}
	return nil
}

// GetByID returns a single refund request. Returns refund.ErrNotFound when
// absent.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*refund.Request, error) {
	rows, err := r.pool.Query(ctx, getRefundByIDSQL, id)
	if err != nil {
		return nil, storageErr("get refund request", err)
	}

	req, err := pgx.CollectExactlyOneRow(rows, scanRefund)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, refund.ErrNotFound
		}
		return nil, storageErr("get refund request", err)
	}
	return &req, nil
}

// UpdateStatus records a review decision. Zero rows updated means the request
// was reviewed concurrently; that surfaces as refund.ErrAlreadyReviewed.
func (r *RefundRepository) UpdateStatus(ctx context.Context, review refund.Review) error {
	tag, err := r.pool.Exec(ctx, updateRefundStatusSQL,
		review.RequestID, review.From, review.To, review.ReviewedBy, review.Note, review.At,
	)
	if err != nil {
		return storageErr("update refund status", err)
	}
	if tag.RowsAffected() == 0 {
		return refund.ErrAlreadyReviewed
	}
	return nil
}

func scanRefund(row pgx.CollectableRow) (refund.Request, error) {
	var (
		req        refund.Request
		status     string
		refundType string
	)
	err := row.Scan(
		&req.ID, &req.OrderID, &req.UserID, &req.Amount, &refundType, &req.Reason,
		&status, &req.ReviewedBy, &req.ReviewNote, &req.CreatedAt, &req.ReviewedAt,
	)
	req.Status = refund.Status(status)
	req.Type = refund.Type(refundType)
	return req, err
}
