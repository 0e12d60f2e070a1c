package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/catalog"
	"github.com/acmeshop/orderflow/internal/events"
)

// Pricing policy: flat rate and surcharge, not a rate table.
var (
	TaxRate      = decimal.NewFromFloat(0.10)
	ShippingFlat = decimal.NewFromInt(10)
)

// OutboxMessage is an outbound fact written in the same transaction as the
// state change it describes.
type OutboxMessage struct {
	ID         string
	RoutingKey string
	Body       []byte
}

// EventsFn builds the outbox rows for a mutation, with the post-change
// order in hand.
type EventsFn func(o *Order) []OutboxMessage

// Store is what the service needs from persistence; *Repo implements it.
type Store interface {
	CreateOrder(ctx context.Context, o *Order, out []OutboxMessage) error
	GetOrder(ctx context.Context, id string, inc Include) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string, inc Include) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error)
	UpdateOrder(ctx context.Context, id string, u Update, ev EventsFn) (*Order, error)
	CancelOrder(ctx context.Context, id, reason, actor string, ev EventsFn) (*Order, error)
	AttachReservation(ctx context.Context, orderID, productID, reservationID string) error
}

type Update struct {
	Status         *Status
	PaymentStatus  *PaymentStatus
	PaymentMethod  *string
	ShippingMethod *string
	Notes          *string
	Note           string // history note, used when Status changes
	Actor          string
}

type Service struct {
	Store   Store
	Catalog catalog.Client
	Name    string // producer name on envelopes
	Log     *zap.Logger
}

type ItemInput struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"` // optional override
}

type AddressInput struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type CreateInput struct {
	CustomerID      string        `json:"customer_id"`
	Items           []ItemInput   `json:"items"`
	ShippingAddress *AddressInput `json:"shipping_address"`
	BillingAddress  *AddressInput `json:"billing_address,omitempty"`
	PaymentMethod   string        `json:"payment_method,omitempty"`
	ShippingMethod  string        `json:"shipping_method,omitempty"`
	Notes           string        `json:"notes,omitempty"`
}

// Create resolves every product through the catalog, computes the monetary
// breakdown, and persists the aggregate plus the order.created outbox row
// in one transaction. Any catalog failure aborts the whole operation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if in.CustomerID == "" {
		return nil, apperr.Validation("customer_id is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("order must have at least one item")
	}
	if in.ShippingAddress == nil {
		return nil, apperr.Validation("shipping_address is required")
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, apperr.Validation("quantity must be >= 1 for product %s", it.ProductID)
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:             uuid.NewString(),
		OrderNumber:    newOrderNumber(now),
		CustomerID:     in.CustomerID,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		PaymentMethod:  in.PaymentMethod,
		ShippingMethod: in.ShippingMethod,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	subtotal := decimal.Zero
	summaries := make([]events.OrderItemSummary, 0, len(in.Items))
	for _, it := range in.Items {
		p, err := s.Catalog.Product(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		unit := p.Price
		if it.UnitPrice != nil {
			unit = *it.UnitPrice
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		o.Items = append(o.Items, LineItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: unit,
			Total:     lineTotal,
			Discount:  decimal.Zero,
			Tax:       decimal.Zero,
		})
		summaries = append(summaries, events.OrderItemSummary{
			ProductID: p.ID, Quantity: it.Quantity, UnitPrice: unit,
		})
	}
	o.Subtotal = subtotal
	o.Tax = subtotal.Mul(TaxRate).Round(2)
	o.Shipping = ShippingFlat
	o.Discount = decimal.Zero
	o.Total = o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)

	o.ShippingAddress = toAddress(o.ID, AddressShipping, in.ShippingAddress)
	billing := in.BillingAddress
	if billing == nil {
		billing = in.ShippingAddress
	}
	o.BillingAddress = toAddress(o.ID, AddressBilling, billing)

	o.History = []StatusChange{{
		ID: uuid.NewString(), OrderID: o.ID, Status: StatusPending,
		Note: "order created", CreatedAt: now,
	}}

	out := []OutboxMessage{s.outbox(events.KeyOrderCreated, o.ID, events.OrderCreatedPayload{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		TotalAmount: o.Total,
		Items:       summaries,
	})}

	if err := s.Store.CreateOrder(ctx, o, out); err != nil {
		return nil, err
	}
	return o, nil
}

func toAddress(orderID string, kind AddressKind, in *AddressInput) *Address {
	return &Address{
		ID: uuid.NewString(), OrderID: orderID, Kind: kind,
		Line1: in.Line1, Line2: in.Line2, City: in.City,
		State: in.State, PostalCode: in.PostalCode, Country: in.Country,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.Store.GetOrder(ctx, id, IncludeAll)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.Store.GetOrderByNumber(ctx, number, IncludeAll)
}

type Page struct {
	Orders     []Order `json:"data"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.PaymentStatus != "" && !ValidPaymentStatus(f.PaymentStatus) {
		return nil, apperr.Validation("unknown payment status %q", f.PaymentStatus)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	orders, total, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	pages := (total + f.Limit - 1) / f.Limit
	return &Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages}, nil
}

// Update applies a partial update. A status change always produces
// order.updated, plus the specific lifecycle fact for the four statuses
// that have one.
func (s *Service) Update(ctx context.Context, id string, u Update) (*Order, error) {
	if u.Status != nil && !ValidStatus(*u.Status) {
		return nil, apperr.Validation("unknown status %q", *u.Status)
	}
	if u.PaymentStatus != nil && !ValidPaymentStatus(*u.PaymentStatus) {
		return nil, apperr.Validation("unknown payment status %q", *u.PaymentStatus)
	}
	o, err := s.Store.UpdateOrder(ctx, id, u, func(o *Order) []OutboxMessage {
		out := []OutboxMessage{s.outbox(events.KeyOrderUpdated, o.ID, events.OrderUpdatedPayload{
			ID:            o.ID,
			OrderNumber:   o.OrderNumber,
			Status:        string(o.Status),
			PaymentStatus: string(o.PaymentStatus),
		})}
		if u.Status != nil {
			if key := lifecycleKey(*u.Status); key != "" {
				out = append(out, s.lifecycleOutbox(key, o, u.Note))
			}
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, o.ID, IncludeAll)
}

// Cancel rejects terminal and shipped orders; the guard lives in the store
// so it runs under the row lock.
func (s *Service) Cancel(ctx context.Context, id, reason, actor string) (*Order, error) {
	o, err := s.Store.CancelOrder(ctx, id, reason, actor, func(o *Order) []OutboxMessage {
		return []OutboxMessage{s.outbox(events.KeyOrderCancelled, o.ID, events.OrderCancelledPayload{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.CustomerID,
			Reason:      reason,
		})}
	})
	if err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, o.ID, IncludeAll)
}

func lifecycleKey(st Status) string {
	switch st {
	case StatusCancelled:
		return events.KeyOrderCancelled
	case StatusConfirmed:
		return events.KeyOrderConfirmed
	case StatusShipped:
		return events.KeyOrderShipped
	case StatusDelivered:
		return events.KeyOrderDelivered
	}
	return ""
}

func (s *Service) lifecycleOutbox(key string, o *Order, reason string) OutboxMessage {
	if key == events.KeyOrderCancelled {
		return s.outbox(key, o.ID, events.OrderCancelledPayload{
			ID: o.ID, OrderNumber: o.OrderNumber, CustomerID: o.CustomerID, Reason: reason,
		})
	}
	return s.outbox(key, o.ID, events.OrderLifecyclePayload{
		ID: o.ID, OrderNumber: o.OrderNumber, CustomerID: o.CustomerID,
	})
}

func (s *Service) outbox(key, orderID string, payload any) OutboxMessage {
	env := events.New(key, s.Name, orderID, payload)
	return OutboxMessage{
		ID:         env.EventID,
		RoutingKey: key,
		Body:       events.MustMarshal(env),
	}
}

// newOrderNumber: ORD-YYYYMMDD-XXXXXX, unique enough for humans; the
// column's unique constraint is the real guarantee.
func newOrderNumber(now time.Time) string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), hex.EncodeToString(b))
}
