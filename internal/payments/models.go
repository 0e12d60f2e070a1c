package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// Payment is one attempt to collect an order's total. An order may carry
// several attempts; the ledger keeps them all.
type Payment struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"order_id"` // weak reference
	Amount        decimal.Decimal   `json:"amount"`
	Method        string            `json:"method"`
	Status        Status            `json:"status"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
