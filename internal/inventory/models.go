package inventory

import "time"

type ItemStatus string

const (
	ItemAvailable ItemStatus = "AVAILABLE"
	ItemReserved  ItemStatus = "RESERVED"
	ItemSold      ItemStatus = "SOLD"
	ItemDamaged   ItemStatus = "DAMAGED"
	ItemReturned  ItemStatus = "RETURNED"
)

// Item tracks on-hand stock. Invariant: reserved <= quantity at all times,
// enforced under a row lock in the repo and by a table CHECK.
type Item struct {
	ID           string     `json:"id"`
	WarehouseID  string     `json:"warehouse_id"`
	ProductID    *string    `json:"product_id,omitempty"` // weak link to the catalog
	Quantity     int        `json:"quantity"`
	Reserved     int        `json:"reserved"`
	Status       ItemStatus `json:"status"`
	ReorderPoint *int       `json:"reorder_point,omitempty"`
	ReorderQty   *int       `json:"reorder_quantity,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (i *Item) Available() int { return i.Quantity - i.Reserved }

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation holds quantity for an order. Each terminal transition
// releases the held quantity exactly once; the status guard on the UPDATE
// is the idempotency barrier.
type Reservation struct {
	ID              string            `json:"id"`
	InventoryItemID string            `json:"inventory_item_id"`
	OrderID         string            `json:"order_id"` // weak reference
	Quantity        int               `json:"quantity"`
	Status          ReservationStatus `json:"status"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type TxType string

const (
	TxPurchase   TxType = "PURCHASE"
	TxSale       TxType = "SALE"
	TxReturn     TxType = "RETURN"
	TxAdjustment TxType = "ADJUSTMENT"
	TxTransfer   TxType = "TRANSFER"
)

// Transaction is the append-only quantity ledger; rows are never edited.
type Transaction struct {
	ID              string    `json:"id"`
	InventoryItemID string    `json:"inventory_item_id"`
	Type            TxType    `json:"type"`
	Quantity        int       `json:"quantity"` // signed delta
	Reference       string    `json:"reference,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReserveLine is one order line the consumer tries to hold stock for.
type ReserveLine struct {
	ProductID string
	Quantity  int
}

// Shortfall reports why a reservation attempt was rejected.
type Shortfall struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}
