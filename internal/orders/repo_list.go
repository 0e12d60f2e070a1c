package orders

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ListFilter struct {
	CustomerID    string
	Status        Status
	PaymentStatus PaymentStatus
	Search        string // matches order number
	SortBy        string
	SortOrder     string
	Page          int
	Limit         int
	Include       Include
}

var sortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"total":        "total",
	"order_number": "order_number",
	"status":       "status",
}

func (r *Repo) ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.Search != "" {
		add("order_number ILIKE '%%' || $%d || '%%'", f.Search)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "ASC"
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	q := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		orderColumns, clause, col, dir, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := r.loadIncludes(ctx, &out[i], f.Include); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ---- outbox side of the repo, drained by the poller ----

func (r *Repo) UnpublishedOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, routing_key, body FROM order_outbox
		WHERE published_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.RoutingKey, &m.Body); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) MarkOutboxPublished(ctx context.Context, id string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE order_outbox SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
		id, time.Now().UTC())
	return err
}
