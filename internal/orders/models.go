package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	CustomerID     string          `json:"customer_id"`
	Status         Status          `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	ShippingMethod string          `json:"shipping_method,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Shipping       decimal.Decimal `json:"shipping"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	Notes          string          `json:"notes,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Items           []LineItem     `json:"items,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	History         []StatusChange `json:"history,omitempty"`
	Payments        []PaymentView  `json:"payments,omitempty"`
}

// LineItem snapshots the product at order time; the catalog may change
// afterwards without affecting the order.
type LineItem struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku,omitempty"`
	Name          string          `json:"name,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Total         decimal.Decimal `json:"total"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	ReservationID *string         `json:"reservation_id,omitempty"`
}

type AddressKind string

const (
	AddressShipping AddressKind = "SHIPPING"
	AddressBilling  AddressKind = "BILLING"
)

type Address struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	Kind       AddressKind `json:"kind"`
	Line1      string      `json:"line1"`
	Line2      string      `json:"line2,omitempty"`
	City       string      `json:"city"`
	State      string      `json:"state,omitempty"`
	PostalCode string      `json:"postal_code"`
	Country    string      `json:"country"`
}

// StatusChange is append-only; one row per transition including creation.
type StatusChange struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentView is a read-only projection of the payment ledger rows for the
// includePayments flag; the Payment Ledger owns the rows.
type PaymentView struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        string          `json:"status"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Include controls eager loading on reads.
type Include struct {
	Items     bool
	Addresses bool
	History   bool
	Payments  bool
}

// IncludeAll is used on single-order fetches, which return the full aggregate.
var IncludeAll = Include{Items: true, Addresses: true, History: true, Payments: true}
