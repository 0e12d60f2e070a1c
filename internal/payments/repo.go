package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acmeshop/orderflow/internal/apperr"
)

type Repo struct{ DB *pgxpool.Pool }

const columns = `id, order_id, amount, method, status, transaction_id, metadata, processed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status,
		&p.TransactionID, &p.Metadata, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OrderExists is a weak-reference lookup; the orders service owns the row.
func (r *Repo) OrderExists(ctx context.Context, orderID string) (bool, error) {
	var one int
	err := r.DB.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1`, orderID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, method, status, transaction_id, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status, p.TransactionID, p.Metadata, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repo) GetPayment(ctx context.Context, id string) (*Payment, error) {
	p, err := scanPayment(r.DB.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment not found")
	}
	return p, err
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+columns+` FROM payments WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Settle moves a PENDING payment to PAID or FAILED under a row lock; any
// other starting status is a conflict, so a retried settle cannot apply
// twice.
func (r *Repo) Settle(ctx context.Context, id string, to Status, transactionID *string, metadata map[string]string) (*Payment, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, apperr.Conflict("payment %s is %s, not PENDING", id, p.Status)
	}

	now := time.Now().UTC()
	p.Status = to
	p.UpdatedAt = now
	if to == StatusPaid {
		p.ProcessedAt = &now
	}
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	for k, v := range metadata {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata[k] = v
	}
	_, err = tx.Exec(ctx, `
		UPDATE payments SET status=$2, transaction_id=$3, metadata=$4, processed_at=$5, updated_at=$6
		WHERE id=$1`,
		p.ID, p.Status, p.TransactionID, p.Metadata, p.ProcessedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
