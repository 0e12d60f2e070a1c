package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchanges. "events" is a topic exchange for fact broadcast, "commands" a
// direct exchange for point-to-point work. Dead-lettered messages land on
// the fanout DLX.
const (
	ExchangeEvents   = "events"
	ExchangeCommands = "commands"
	ExchangeDLX      = "events.dlx"
	QueueDead        = "events.dead"
)

// Routing keys follow <entity>.<event>.
const (
	KeyOrderCreated      = "order.created"
	KeyOrderUpdated      = "order.updated"
	KeyOrderCancelled    = "order.cancelled"
	KeyOrderConfirmed    = "order.confirmed"
	KeyOrderShipped      = "order.shipped"
	KeyOrderDelivered    = "order.delivered"
	KeyInventoryReserved = "inventory.reserved"
	KeyReservationFailed = "inventory.reservation_failed"
	KeyPaymentProcessed  = "payment.processed"
	KeyProductUpdated    = "product.updated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // routing key
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order id
	Payload       json.RawMessage `json:"payload"`
}

func New(eventType, producer, correlationID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
}

// Publisher is the outbound side of the choreography. Implementations must
// not block handler goroutines on broker round-trips.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// ---- payload types per routing key ----

type OrderItemSummary struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Items       []OrderItemSummary `json:"items"`
}

type OrderUpdatedPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

type OrderCancelledPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
	Reason      string `json:"reason,omitempty"`
}

type OrderLifecyclePayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
}

type InventoryReservedPayload struct {
	OrderID         string `json:"order_id"`
	ReservationID   string `json:"reservation_id"`
	InventoryItemID string `json:"inventory_item_id"`
	ProductID       string `json:"product_id"`
}

type ReservationFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type PaymentProcessedPayload struct {
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

type ProductUpdatedPayload struct {
	ID string `json:"id"`
}
