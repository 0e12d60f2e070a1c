package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acmeshop/orderflow/internal/apperr"
)

type Repo struct{ DB *pgxpool.Pool }

const itemColumns = `id, warehouse_id, product_id, quantity, reserved, status,
	reorder_point, reorder_quantity, updated_at`

const reservationColumns = `id, inventory_item_id, order_id, quantity, status,
	expires_at, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.WarehouseID, &it.ProductID, &it.Quantity, &it.Reserved,
		&it.Status, &it.ReorderPoint, &it.ReorderQty, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.InventoryItemID, &r.OrderID, &r.Quantity, &r.Status,
		&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Repo) CreateItem(ctx context.Context, it *Item) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO inventory_items (id, warehouse_id, product_id, quantity, reserved,
			status, reorder_point, reorder_quantity, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		it.ID, it.WarehouseID, it.ProductID, it.Quantity, it.Reserved,
		it.Status, it.ReorderPoint, it.ReorderQty, it.UpdatedAt)
	return err
}

func (r *Repo) GetItem(ctx context.Context, id string) (*Item, error) {
	it, err := scanItem(r.DB.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inventory item not found")
	}
	return it, err
}

func (r *Repo) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	res, err := scanReservation(r.DB.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM inventory_reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reservation not found")
	}
	return res, err
}

// Reserve holds quantity against one item. The availability check and the
// increment happen under the same row lock, so concurrent reserves against
// one item serialize and can never push reserved past on-hand.
func (r *Repo) Reserve(ctx context.Context, itemID string, qty int, orderID string, expiresAt *time.Time) (*Reservation, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be >= 1")
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := reserveLocked(ctx, tx, itemID, qty, orderID, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func reserveLocked(ctx context.Context, tx pgx.Tx, itemID string, qty int, orderID string, expiresAt *time.Time) (*Reservation, error) {
	it, err := scanItem(tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inventory item not found")
	}
	if err != nil {
		return nil, err
	}
	if qty > it.Available() {
		return nil, apperr.Conflict("insufficient stock: requested %d, available %d", qty, it.Available())
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE inventory_items SET reserved = reserved + $2, updated_at = $3 WHERE id = $1`,
		itemID, qty, now)
	if err != nil {
		return nil, fmt.Errorf("increment reserved: %w", err)
	}

	res := &Reservation{
		ID:              uuid.NewString(),
		InventoryItemID: itemID,
		OrderID:         orderID,
		Quantity:        qty,
		Status:          ReservationActive,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_reservations (id, inventory_item_id, order_id, quantity, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ID, res.InventoryItemID, res.OrderID, res.Quantity, res.Status,
		res.ExpiresAt, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	if err := insertTx(ctx, tx, itemID, TxAdjustment, -qty, "reserve:"+orderID, "system"); err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveOrder attempts every line of an order in one transaction. Any
// shortfall rolls everything back; nothing is partially held. If active
// reservations for the order already exist the call short-circuits and
// returns them, so a redelivered order.created is a no-op.
func (r *Repo) ReserveOrder(ctx context.Context, orderID string, lines []ReserveLine, expiresAt *time.Time) ([]Reservation, []Shortfall, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := activeReservations(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if len(existing) > 0 {
		return existing, nil, nil
	}

	var (
		made     []Reservation
		rejected []Shortfall
	)
	for _, ln := range lines {
		it, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM inventory_items WHERE product_id = $1 FOR UPDATE`, ln.ProductID))
		if errors.Is(err, pgx.ErrNoRows) {
			rejected = append(rejected, Shortfall{ProductID: ln.ProductID, Required: ln.Quantity})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if ln.Quantity > it.Available() {
			rejected = append(rejected, Shortfall{
				ProductID: ln.ProductID, Required: ln.Quantity, Available: it.Available(),
			})
			continue
		}
		res, err := reserveLocked(ctx, tx, it.ID, ln.Quantity, orderID, expiresAt)
		if err != nil {
			return nil, nil, err
		}
		made = append(made, *res)
	}
	if len(rejected) > 0 {
		return nil, rejected, nil // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return made, nil, nil
}

func activeReservations(ctx context.Context, tx pgx.Tx, orderID string) ([]Reservation, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+reservationColumns+` FROM inventory_reservations
		WHERE order_id = $1 AND status = 'ACTIVE'`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// Fulfill: stock leaves the warehouse. Only valid from ACTIVE; on-hand and
// reserved both drop by the held quantity, logged as a SALE.
func (r *Repo) Fulfill(ctx context.Context, id string) (*Reservation, error) {
	return r.finishReservation(ctx, id, ReservationFulfilled, "")
}

// CancelReservation releases the hold back to availability.
func (r *Repo) CancelReservation(ctx context.Context, id, reason string) (*Reservation, error) {
	return r.finishReservation(ctx, id, ReservationCancelled, reason)
}

func (r *Repo) finishReservation(ctx context.Context, id string, to ReservationStatus, reason string) (*Reservation, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := terminateLocked(ctx, tx, id, to, reason)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// terminateLocked moves an ACTIVE reservation to a terminal status and
// releases (or ships) the held quantity exactly once. Non-ACTIVE rows are
// a conflict, never a second release.
func terminateLocked(ctx context.Context, tx pgx.Tx, id string, to ReservationStatus, reason string) (*Reservation, error) {
	res, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM inventory_reservations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reservation not found")
	}
	if err != nil {
		return nil, err
	}
	if res.Status != ReservationActive {
		return nil, apperr.Conflict("reservation %s is %s, not ACTIVE", id, res.Status)
	}

	now := time.Now().UTC()
	switch to {
	case ReservationFulfilled:
		_, err = tx.Exec(ctx, `
			UPDATE inventory_items SET quantity = quantity - $2, reserved = reserved - $2, updated_at = $3
			WHERE id = $1`, res.InventoryItemID, res.Quantity, now)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		if err := insertTx(ctx, tx, res.InventoryItemID, TxSale, -res.Quantity, "order:"+res.OrderID, "system"); err != nil {
			return nil, err
		}
	case ReservationCancelled, ReservationExpired:
		_, err = tx.Exec(ctx, `
			UPDATE inventory_items SET reserved = reserved - $2, updated_at = $3 WHERE id = $1`,
			res.InventoryItemID, res.Quantity, now)
		if err != nil {
			return nil, fmt.Errorf("release reserved: %w", err)
		}
		ref := "release:" + res.OrderID
		if reason != "" {
			ref += ":" + reason
		}
		if err := insertTx(ctx, tx, res.InventoryItemID, TxAdjustment, res.Quantity, ref, "system"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid terminal status %s", to)
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory_reservations SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'`, id, to, now)
	if err != nil {
		return nil, fmt.Errorf("finish reservation: %w", err)
	}
	res.Status = to
	res.UpdatedAt = now
	return res, nil
}

// UpdateExpiry changes the expiry of an ACTIVE reservation.
func (r *Repo) UpdateExpiry(ctx context.Context, id string, expiresAt *time.Time) (*Reservation, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE inventory_reservations SET expires_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'`, id, expiresAt, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		res, err := r.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("reservation %s is %s, not ACTIVE", id, res.Status)
	}
	return r.GetReservation(ctx, id)
}

// ProcessExpired releases every ACTIVE reservation whose expiry has
// passed. Re-running it skips rows that already went terminal, so each
// expiry releases exactly once. SKIP LOCKED keeps overlapping sweeps from
// colliding.
func (r *Repo) ProcessExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id FROM inventory_reservations
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at < $1
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := terminateLocked(ctx, tx, id, ReservationExpired, "expired"); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// AdjustQuantity changes on-hand directly (receiving stock, write-offs).
// Rejected when it would leave on-hand below what is currently held.
func (r *Repo) AdjustQuantity(ctx context.Context, itemID string, delta int, note, actor string) (*Item, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	it, err := scanItem(tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inventory item not found")
	}
	if err != nil {
		return nil, err
	}
	if it.Quantity+delta < it.Reserved {
		return nil, apperr.Conflict("adjustment would drop on-hand below reserved (%d)", it.Reserved)
	}

	now := time.Now().UTC()
	it.Quantity += delta
	it.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		UPDATE inventory_items SET quantity = $2, updated_at = $3 WHERE id = $1`,
		itemID, it.Quantity, now)
	if err != nil {
		return nil, fmt.Errorf("adjust quantity: %w", err)
	}
	txType := TxAdjustment
	if delta > 0 {
		txType = TxPurchase
	}
	if err := insertTx(ctx, tx, itemID, txType, delta, note, actor); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

func insertTx(ctx context.Context, tx pgx.Tx, itemID string, t TxType, qty int, ref, actor string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_transactions (id, inventory_item_id, type, quantity, reference, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), itemID, t, qty, ref, actor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert inventory transaction: %w", err)
	}
	return nil
}
