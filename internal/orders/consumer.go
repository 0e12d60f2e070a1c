package orders

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/amqpx"
	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/events"
	"github.com/acmeshop/orderflow/internal/redisx"
)

// Consumer reacts to inventory and payment facts. Every handler is
// idempotent: a dedup key per event id short-circuits exact redeliveries,
// and the underlying writes are upserts or status-guarded.
type Consumer struct {
	Service *Service
	Redis   *redis.Client
	Log     *zap.Logger
}

const QueueEvents = "orders-svc.events"

// Subscriptions is the declarative binding table wired at service start.
func (c *Consumer) Subscriptions() []amqpx.Subscription {
	return []amqpx.Subscription{{
		Exchange: events.ExchangeEvents,
		Queue:    QueueEvents,
		RoutingKeys: []string{
			events.KeyInventoryReserved,
			events.KeyReservationFailed,
			events.KeyPaymentProcessed,
			events.KeyProductUpdated,
		},
		Handler: c.Handle,
	}}
}

func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	env, err := events.DecodeEnvelope(d.Body)
	if err != nil {
		return err
	}
	seen, err := redisx.Seen(ctx, c.Redis, "orders", env.EventID)
	if err != nil {
		// dedup is an optimization; the handlers stay safe without it
		c.Log.Warn("dedup check failed", zap.Error(err))
	} else if seen {
		return nil
	}

	switch env.EventType {
	case events.KeyInventoryReserved:
		err = c.onInventoryReserved(ctx, env)
	case events.KeyReservationFailed:
		err = c.onReservationFailed(ctx, env)
	case events.KeyPaymentProcessed:
		err = c.onPaymentProcessed(ctx, env)
	case events.KeyProductUpdated:
		// informational, no order state changes
		err = nil
	default:
		c.Log.Warn("unexpected event type", zap.String("event_type", env.EventType))
		err = nil
	}
	if err != nil {
		return err
	}
	// marked last: a failed handler leaves the key unset so the
	// redelivery is processed, not swallowed
	if _, err := redisx.MarkOnce(ctx, c.Redis, "orders", env.EventID); err != nil {
		c.Log.Warn("dedup mark failed", zap.Error(err))
	}
	return nil
}

// dropCache evicts the cached aggregate so the next read sees the
// consumer-side mutation.
func (c *Consumer) dropCache(ctx context.Context, orderID string) {
	key := fmt.Sprintf(redisx.KeyOrder, orderID)
	if err := c.Redis.Del(ctx, key).Err(); err != nil {
		c.Log.Warn("order cache evict failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (c *Consumer) onInventoryReserved(ctx context.Context, env events.Envelope) error {
	p, err := events.UnwrapPayload[events.InventoryReservedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := c.Service.Store.AttachReservation(ctx, p.OrderID, p.ProductID, p.ReservationID); err != nil {
		return fmt.Errorf("attach reservation %s to order %s: %w", p.ReservationID, p.OrderID, err)
	}
	c.dropCache(ctx, p.OrderID)
	c.Log.Info("reservation attached",
		zap.String("order_id", p.OrderID),
		zap.String("reservation_id", p.ReservationID))
	return nil
}

// onReservationFailed is the compensating action: the order committed but
// inventory could not be held, so the order is cancelled.
func (c *Consumer) onReservationFailed(ctx context.Context, env events.Envelope) error {
	p, err := events.UnwrapPayload[events.ReservationFailedPayload](env.Payload)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("inventory reservation failed: %s", p.Reason)
	_, err = c.Service.Cancel(ctx, p.OrderID, reason, "system")
	if apperr.IsConflict(err) {
		// already terminal; a redelivered failure must not append history again
		c.Log.Info("order already terminal, skipping compensation", zap.String("order_id", p.OrderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel order %s after reservation failure: %w", p.OrderID, err)
	}
	c.dropCache(ctx, p.OrderID)
	c.Log.Warn("order cancelled after reservation failure",
		zap.String("order_id", p.OrderID),
		zap.String("reason", p.Reason))
	return nil
}

func (c *Consumer) onPaymentProcessed(ctx context.Context, env events.Envelope) error {
	p, err := events.UnwrapPayload[events.PaymentProcessedPayload](env.Payload)
	if err != nil {
		return err
	}
	ps := PaymentStatus(p.Status)
	if !ValidPaymentStatus(ps) {
		return fmt.Errorf("payment.processed with unknown status %q", p.Status)
	}
	_, err = c.Service.Store.UpdateOrder(ctx, p.OrderID, Update{PaymentStatus: &ps}, nil)
	if apperr.IsNotFound(err) {
		// weak reference: the order may be gone, the fact is not an error
		c.Log.Warn("payment fact for unknown order", zap.String("order_id", p.OrderID))
		return nil
	}
	if apperr.IsConflict(err) {
		// out-of-order or repeated fact against a settled payment status
		c.Log.Info("payment fact skipped, transition not allowed",
			zap.String("order_id", p.OrderID), zap.String("status", p.Status))
		return nil
	}
	if err != nil {
		return err
	}
	c.dropCache(ctx, p.OrderID)
	return nil
}
