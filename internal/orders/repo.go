package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acmeshop/orderflow/internal/apperr"
)

type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const orderColumns = `id, order_number, customer_id, status, payment_status,
	payment_method, shipping_method, subtotal, tax, shipping, discount, total,
	notes, confirmed_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.ShippingMethod, &o.Subtotal, &o.Tax, &o.Shipping,
		&o.Discount, &o.Total, &o.Notes, &o.ConfirmedAt, &o.ShippedAt,
		&o.DeliveredAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder persists the whole aggregate plus its outbox rows in one
// transaction: order, items, both addresses, the initial history row.
func (r *Repo) CreateOrder(ctx context.Context, o *Order, out []OutboxMessage) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_id, status, payment_status,
			payment_method, shipping_method, subtotal, tax, shipping, discount, total,
			notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		o.ID, o.OrderNumber, o.CustomerID, o.Status, o.PaymentStatus,
		o.PaymentMethod, o.ShippingMethod, o.Subtotal, o.Tax, o.Shipping,
		o.Discount, o.Total, o.Notes, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO order_line_items (id, order_id, product_id, sku, name,
				quantity, unit_price, total, discount, tax)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			it.ID, o.ID, it.ProductID, it.SKU, it.Name,
			it.Quantity, it.UnitPrice, it.Total, it.Discount, it.Tax)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	for _, a := range []*Address{o.ShippingAddress, o.BillingAddress} {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_addresses (id, order_id, kind, line1, line2, city, state, postal_code, country)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			a.ID, o.ID, a.Kind, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country)
		if err != nil {
			return fmt.Errorf("insert address: %w", err)
		}
	}

	for _, h := range o.History {
		if err := insertHistory(ctx, tx, &h); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, out); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, q querier, h *StatusChange) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.OrderID, h.Status, h.Note, h.Actor, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, q querier, out []OutboxMessage) error {
	for _, m := range out {
		_, err := q.Exec(ctx, `
			INSERT INTO order_outbox (id, routing_key, body) VALUES ($1,$2,$3)`,
			m.ID, m.RoutingKey, m.Body)
		if err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id string, inc Include) (*Order, error) {
	return r.getOrderBy(ctx, `id = $1`, id, inc)
}

func (r *Repo) GetOrderByNumber(ctx context.Context, number string, inc Include) (*Order, error) {
	return r.getOrderBy(ctx, `order_number = $1`, number, inc)
}

func (r *Repo) getOrderBy(ctx context.Context, where, arg string, inc Include) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadIncludes(ctx, o, inc); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) loadIncludes(ctx context.Context, o *Order, inc Include) error {
	if inc.Items {
		items, err := r.loadItems(ctx, o.ID)
		if err != nil {
			return err
		}
		o.Items = items
	}
	if inc.Addresses {
		if err := r.loadAddresses(ctx, o); err != nil {
			return err
		}
	}
	if inc.History {
		hist, err := r.loadHistory(ctx, o.ID)
		if err != nil {
			return err
		}
		o.History = hist
	}
	if inc.Payments {
		pays, err := r.loadPayments(ctx, o.ID)
		if err != nil {
			return err
		}
		o.Payments = pays
	}
	return nil
}

func (r *Repo) loadItems(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, sku, name, quantity, unit_price, total, discount, tax, reservation_id
		FROM order_line_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name,
			&it.Quantity, &it.UnitPrice, &it.Total, &it.Discount, &it.Tax, &it.ReservationID); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) loadAddresses(ctx context.Context, o *Order) error {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, kind, line1, line2, city, state, postal_code, country
		FROM order_addresses WHERE order_id = $1`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Kind, &a.Line1, &a.Line2,
			&a.City, &a.State, &a.PostalCode, &a.Country); err != nil {
			return err
		}
		switch a.Kind {
		case AddressShipping:
			addr := a
			o.ShippingAddress = &addr
		case AddressBilling:
			addr := a
			o.BillingAddress = &addr
		}
	}
	return rows.Err()
}

func (r *Repo) loadHistory(ctx context.Context, orderID string) ([]StatusChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, note, actor, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Note, &h.Actor, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) loadPayments(ctx context.Context, orderID string) ([]PaymentView, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, amount, method, status, transaction_id, processed_at, created_at
		FROM payments WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentView
	for rows.Next() {
		var p PaymentView
		if err := rows.Scan(&p.ID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.ProcessedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateOrder applies a partial update under a row lock. A status change
// appends one history row and stamps the matching milestone timestamp the
// first time that status is reached. ev, when non-nil, produces outbox
// rows committed with the change.
func (r *Repo) UpdateOrder(ctx context.Context, id string, u Update, ev EventsFn) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	statusChanged := false
	if u.Status != nil && *u.Status != o.Status {
		if !CanTransition(o.Status, *u.Status) {
			return nil, apperr.Conflict("order %s cannot move from %s to %s", o.OrderNumber, o.Status, *u.Status)
		}
		o.Status = *u.Status
		statusChanged = true
		stampMilestone(o, now)
	}
	if u.PaymentStatus != nil && *u.PaymentStatus != o.PaymentStatus {
		if !CanTransitionPayment(o.PaymentStatus, *u.PaymentStatus) {
			return nil, apperr.Conflict("payment status of %s cannot move from %s to %s", o.OrderNumber, o.PaymentStatus, *u.PaymentStatus)
		}
		o.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentMethod != nil {
		o.PaymentMethod = *u.PaymentMethod
	}
	if u.ShippingMethod != nil {
		o.ShippingMethod = *u.ShippingMethod
	}
	if u.Notes != nil {
		o.Notes = *u.Notes
	}
	o.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, payment_method=$4,
			shipping_method=$5, notes=$6, confirmed_at=$7, shipped_at=$8,
			delivered_at=$9, cancelled_at=$10, updated_at=$11
		WHERE id=$1`,
		o.ID, o.Status, o.PaymentStatus, o.PaymentMethod, o.ShippingMethod,
		o.Notes, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if statusChanged {
		h := StatusChange{
			ID: uuid.NewString(), OrderID: o.ID, Status: o.Status,
			Note: u.Note, Actor: u.Actor, CreatedAt: now,
		}
		if err := insertHistory(ctx, tx, &h); err != nil {
			return nil, err
		}
	}
	if ev != nil {
		if err := insertOutbox(ctx, tx, ev(o)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelOrder is the guarded cancel path; the guard runs under the same
// row lock that applies the change.
func (r *Repo) CancelOrder(ctx context.Context, id, reason, actor string, ev EventsFn) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	if !CanCancel(o.Status) {
		return nil, apperr.Conflict("order %s cannot be cancelled in status %s", o.OrderNumber, o.Status)
	}

	now := time.Now().UTC()
	o.Status = StatusCancelled
	stampMilestone(o, now)
	o.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancelled_at=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	h := StatusChange{
		ID: uuid.NewString(), OrderID: o.ID, Status: StatusCancelled,
		Note: reason, Actor: actor, CreatedAt: now,
	}
	if err := insertHistory(ctx, tx, &h); err != nil {
		return nil, err
	}
	if ev != nil {
		if err := insertOutbox(ctx, tx, ev(o)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func stampMilestone(o *Order, now time.Time) {
	switch o.Status {
	case StatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &now
		}
	case StatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
	case StatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	case StatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	}
}

// AttachReservation is an upsert-by-business-key: a redelivered
// inventory.reserved event finds reservation_id already set and matches
// zero rows.
func (r *Repo) AttachReservation(ctx context.Context, orderID, productID, reservationID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE order_line_items SET reservation_id = $3
		WHERE order_id = $1 AND product_id = $2 AND reservation_id IS NULL`,
		orderID, productID, reservationID)
	return err
}
