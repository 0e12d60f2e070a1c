package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/amqpx"
	"github.com/acmeshop/orderflow/internal/events"
	"github.com/acmeshop/orderflow/internal/redisx"
)

// Store is what the service needs from persistence; *Repo implements it.
type Store interface {
	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	Reserve(ctx context.Context, itemID string, qty int, orderID string, expiresAt *time.Time) (*Reservation, error)
	ReserveOrder(ctx context.Context, orderID string, lines []ReserveLine, expiresAt *time.Time) ([]Reservation, []Shortfall, error)
	Fulfill(ctx context.Context, id string) (*Reservation, error)
	CancelReservation(ctx context.Context, id, reason string) (*Reservation, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt *time.Time) (*Reservation, error)
	ProcessExpired(ctx context.Context, now time.Time) (int, error)
	AdjustQuantity(ctx context.Context, itemID string, delta int, note, actor string) (*Item, error)
}

type Service struct {
	Store Store
	Redis *redis.Client
	Pub   events.Publisher
	Name  string
	// ReservationTTL bounds how long order-driven holds live before the
	// sweep releases them. Zero means no expiry.
	ReservationTTL time.Duration
	Log            *zap.Logger
}

const QueueEvents = "inventory-svc.events"

func (s *Service) Subscriptions() []amqpx.Subscription {
	return []amqpx.Subscription{{
		Exchange:    events.ExchangeEvents,
		Queue:       QueueEvents,
		RoutingKeys: []string{events.KeyOrderCreated},
		Handler:     s.HandleOrderCreated,
	}}
}

// HandleOrderCreated tries to hold stock for every line of a new order and
// answers with inventory.reserved per line, or a single
// inventory.reservation_failed. All-or-nothing: a shortfall on any line
// holds nothing.
func (s *Service) HandleOrderCreated(ctx context.Context, d amqp.Delivery) error {
	env, err := events.DecodeEnvelope(d.Body)
	if err != nil {
		return err
	}
	if env.EventType != events.KeyOrderCreated {
		return nil
	}
	seen, err := redisx.Seen(ctx, s.Redis, "inventory", env.EventID)
	if err != nil {
		s.Log.Warn("dedup check failed", zap.Error(err))
	} else if seen {
		return nil
	}

	p, err := events.UnwrapPayload[events.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}

	lines := make([]ReserveLine, 0, len(p.Items))
	for _, it := range p.Items {
		lines = append(lines, ReserveLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var expiresAt *time.Time
	if s.ReservationTTL > 0 {
		t := time.Now().UTC().Add(s.ReservationTTL)
		expiresAt = &t
	}

	made, rejected, err := s.Store.ReserveOrder(ctx, p.ID, lines, expiresAt)
	if err != nil {
		return fmt.Errorf("reserve order %s: %w", p.ID, err)
	}
	if len(rejected) > 0 {
		err = s.publishFailed(ctx, p.ID, rejected)
	} else {
		err = s.publishReserved(ctx, p.ID, made)
	}
	if err != nil {
		return err
	}
	// marked last: a failure above leaves the key unset so the
	// redelivery runs the (idempotent) reservation again
	if _, err := redisx.MarkOnce(ctx, s.Redis, "inventory", env.EventID); err != nil {
		s.Log.Warn("dedup mark failed", zap.Error(err))
	}
	return nil
}

func (s *Service) publishReserved(ctx context.Context, orderID string, made []Reservation) error {
	for _, res := range made {
		productID := ""
		if it, err := s.Store.GetItem(ctx, res.InventoryItemID); err == nil && it.ProductID != nil {
			productID = *it.ProductID
		}
		env := events.New(events.KeyInventoryReserved, s.Name, orderID, events.InventoryReservedPayload{
			OrderID:         orderID,
			ReservationID:   res.ID,
			InventoryItemID: res.InventoryItemID,
			ProductID:       productID,
		})
		if err := s.Pub.Publish(ctx, events.KeyInventoryReserved, events.MustMarshal(env)); err != nil {
			return err
		}
	}
	s.Log.Info("stock reserved", zap.String("order_id", orderID), zap.Int("reservations", len(made)))
	return nil
}

func (s *Service) publishFailed(ctx context.Context, orderID string, rejected []Shortfall) error {
	parts := make([]string, 0, len(rejected))
	for _, sh := range rejected {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", sh.ProductID, sh.Required, sh.Available))
	}
	reason := "out of stock: " + strings.Join(parts, "; ")
	env := events.New(events.KeyReservationFailed, s.Name, orderID, events.ReservationFailedPayload{
		OrderID: orderID,
		Reason:  reason,
	})
	if err := s.Pub.Publish(ctx, events.KeyReservationFailed, events.MustMarshal(env)); err != nil {
		return err
	}
	s.Log.Warn("reservation failed", zap.String("order_id", orderID), zap.String("reason", reason))
	return nil
}

// Fulfill ships a reservation and warns when the item dropped to its
// reorder point.
func (s *Service) Fulfill(ctx context.Context, id string) (*Reservation, error) {
	res, err := s.Store.Fulfill(ctx, id)
	if err != nil {
		return nil, err
	}
	s.checkReorder(ctx, res.InventoryItemID)
	return res, nil
}

func (s *Service) checkReorder(ctx context.Context, itemID string) {
	it, err := s.Store.GetItem(ctx, itemID)
	if err != nil || it.ReorderPoint == nil {
		return
	}
	if it.Quantity <= *it.ReorderPoint {
		s.Log.Warn("stock at or below reorder point",
			zap.String("item_id", it.ID),
			zap.Int("quantity", it.Quantity),
			zap.Int("reorder_point", *it.ReorderPoint))
	}
}
