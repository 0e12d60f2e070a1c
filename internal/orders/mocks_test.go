package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/catalog"
)

// fakeStore keeps everything in memory but mirrors the repo's guards, so
// service-level behavior can be asserted without postgres.
type fakeStore struct {
	orders     map[string]*Order
	outbox     []OutboxMessage
	attached   map[string]string // orderID|productID -> reservationID
	cancelErrs []error           // consumed one per CancelOrder call
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   map[string]*Order{},
		attached: map[string]string{},
	}
}

func (f *fakeStore) CreateOrder(_ context.Context, o *Order, out []OutboxMessage) error {
	cp := *o
	f.orders[o.ID] = &cp
	f.outbox = append(f.outbox, out...)
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string, _ Include) (*Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByNumber(_ context.Context, number string, _ Include) (*Order, error) {
	for _, o := range f.orders {
		if o.OrderNumber == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("order not found: %s", number)
}

func (f *fakeStore) ListOrders(_ context.Context, _ ListFilter) ([]Order, int, error) {
	out := make([]Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateOrder(_ context.Context, id string, u Update, ev EventsFn) (*Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	if u.Status != nil && *u.Status != o.Status {
		if !CanTransition(o.Status, *u.Status) {
			return nil, apperr.Conflict("order %s cannot move from %s to %s", o.OrderNumber, o.Status, *u.Status)
		}
		o.Status = *u.Status
		o.History = append(o.History, StatusChange{
			ID: uuid.NewString(), OrderID: o.ID, Status: *u.Status,
			Note: u.Note, Actor: u.Actor, CreatedAt: time.Now().UTC(),
		})
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
	o.UpdatedAt = time.Now().UTC()
	if ev != nil {
		f.outbox = append(f.outbox, ev(o)...)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) CancelOrder(_ context.Context, id, reason, actor string, ev EventsFn) (*Order, error) {
	if len(f.cancelErrs) > 0 {
		err := f.cancelErrs[0]
		f.cancelErrs = f.cancelErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	if !CanCancel(o.Status) {
		return nil, apperr.Conflict("order %s cannot be cancelled from %s", id, o.Status)
	}
	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.History = append(o.History, StatusChange{
		ID: uuid.NewString(), OrderID: o.ID, Status: StatusCancelled,
		Note: reason, Actor: actor, CreatedAt: now,
	})
	if ev != nil {
		f.outbox = append(f.outbox, ev(o)...)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) AttachReservation(_ context.Context, orderID, productID, reservationID string) error {
	key := orderID + "|" + productID
	if _, done := f.attached[key]; done {
		return nil
	}
	f.attached[key] = reservationID
	return nil
}

// outboxKeys lists the routing keys written so far, in order.
func (f *fakeStore) outboxKeys() []string {
	keys := make([]string, 0, len(f.outbox))
	for _, m := range f.outbox {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}

type fakeCatalog struct {
	products map[string]*catalog.Product
	err      error
}

func (f *fakeCatalog) Product(_ context.Context, id string) (*catalog.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, apperr.Validation("product not found: %s", id)
	}
	return p, nil
}
