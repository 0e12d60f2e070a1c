package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acmeshop/orderflow/internal/apperr"
)

// fakeStore mirrors the repo's locking semantics in memory: availability
// checks, all-or-nothing order reservation, status-guarded releases.
type fakeStore struct {
	items        map[string]*Item
	reservations map[string]*Reservation
	reserveErrs  []error // consumed one per ReserveOrder call
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:        map[string]*Item{},
		reservations: map[string]*Reservation{},
	}
}

func (f *fakeStore) addItem(productID string, qty int) *Item {
	it := &Item{
		ID:          uuid.NewString(),
		WarehouseID: "wh-1",
		ProductID:   &productID,
		Quantity:    qty,
		Status:      ItemAvailable,
		UpdatedAt:   time.Now().UTC(),
	}
	f.items[it.ID] = it
	return it
}

func (f *fakeStore) byProduct(productID string) *Item {
	for _, it := range f.items {
		if it.ProductID != nil && *it.ProductID == productID {
			return it
		}
	}
	return nil
}

func (f *fakeStore) CreateItem(_ context.Context, it *Item) error {
	f.items[it.ID] = it
	return nil
}

func (f *fakeStore) GetItem(_ context.Context, id string) (*Item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, apperr.NotFound("inventory item not found: %s", id)
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) GetReservation(_ context.Context, id string) (*Reservation, error) {
	r, ok := f.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation not found: %s", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) Reserve(_ context.Context, itemID string, qty int, orderID string, expiresAt *time.Time) (*Reservation, error) {
	it, ok := f.items[itemID]
	if !ok {
		return nil, apperr.NotFound("inventory item not found: %s", itemID)
	}
	if qty > it.Available() {
		return nil, apperr.Conflict("insufficient stock for item %s", itemID)
	}
	it.Reserved += qty
	r := &Reservation{
		ID:              uuid.NewString(),
		InventoryItemID: itemID,
		OrderID:         orderID,
		Quantity:        qty,
		Status:          ReservationActive,
		ExpiresAt:       expiresAt,
		CreatedAt:       time.Now().UTC(),
	}
	f.reservations[r.ID] = r
	return r, nil
}

func (f *fakeStore) ReserveOrder(ctx context.Context, orderID string, lines []ReserveLine, expiresAt *time.Time) ([]Reservation, []Shortfall, error) {
	if len(f.reserveErrs) > 0 {
		err := f.reserveErrs[0]
		f.reserveErrs = f.reserveErrs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	// idempotent short-circuit, same as the repo
	var existing []Reservation
	for _, r := range f.reservations {
		if r.OrderID == orderID && r.Status == ReservationActive {
			existing = append(existing, *r)
		}
	}
	if len(existing) > 0 {
		return existing, nil, nil
	}

	var shortfalls []Shortfall
	for _, l := range lines {
		it := f.byProduct(l.ProductID)
		if it == nil {
			shortfalls = append(shortfalls, Shortfall{ProductID: l.ProductID, Required: l.Quantity})
			continue
		}
		if l.Quantity > it.Available() {
			shortfalls = append(shortfalls, Shortfall{
				ProductID: l.ProductID, Required: l.Quantity, Available: it.Available(),
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, shortfalls, nil
	}

	made := make([]Reservation, 0, len(lines))
	for _, l := range lines {
		it := f.byProduct(l.ProductID)
		r, err := f.Reserve(ctx, it.ID, l.Quantity, orderID, expiresAt)
		if err != nil {
			return nil, nil, err
		}
		made = append(made, *r)
	}
	return made, nil, nil
}

func (f *fakeStore) terminate(id string, to ReservationStatus) (*Reservation, error) {
	r, ok := f.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation not found: %s", id)
	}
	if r.Status != ReservationActive {
		return nil, apperr.Conflict("reservation %s is %s, not ACTIVE", id, r.Status)
	}
	it := f.items[r.InventoryItemID]
	if it == nil {
		return nil, errors.New("orphan reservation")
	}
	switch to {
	case ReservationFulfilled:
		it.Quantity -= r.Quantity
		it.Reserved -= r.Quantity
	case ReservationCancelled, ReservationExpired:
		it.Reserved -= r.Quantity
	default:
		return nil, fmt.Errorf("not a terminal status: %s", to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	return &cp, nil
}

func (f *fakeStore) Fulfill(_ context.Context, id string) (*Reservation, error) {
	return f.terminate(id, ReservationFulfilled)
}

func (f *fakeStore) CancelReservation(_ context.Context, id, _ string) (*Reservation, error) {
	return f.terminate(id, ReservationCancelled)
}

func (f *fakeStore) UpdateExpiry(_ context.Context, id string, expiresAt *time.Time) (*Reservation, error) {
	r, ok := f.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation not found: %s", id)
	}
	if r.Status != ReservationActive {
		return nil, apperr.Conflict("reservation %s is %s, not ACTIVE", id, r.Status)
	}
	r.ExpiresAt = expiresAt
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ProcessExpired(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, r := range f.reservations {
		if r.Status == ReservationActive && r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			if _, err := f.terminate(id, ReservationExpired); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AdjustQuantity(_ context.Context, itemID string, delta int, _, _ string) (*Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return nil, apperr.NotFound("inventory item not found: %s", itemID)
	}
	if it.Quantity+delta < it.Reserved {
		return nil, apperr.Conflict("adjustment would drop quantity below reserved")
	}
	it.Quantity += delta
	cp := *it
	return &cp, nil
}

type fakePublisher struct {
	published map[string][][]byte
	err       error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][][]byte{}}
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published[routingKey] = append(f.published[routingKey], body)
	return nil
}
