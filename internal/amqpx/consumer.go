package amqpx

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/events"
)

// Handler must return nil only when the message may be acked.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Subscription is one declarative binding: which queue, which routing-key
// patterns on which exchange, and the handler that reacts. The table is
// bound at startup, nothing is scanned.
type Subscription struct {
	Exchange    string
	Queue       string
	RoutingKeys []string
	Handler     Handler
}

type Consumer struct {
	client   *Client
	prefetch int
	subs     []Subscription
	log      *zap.Logger
}

func NewConsumer(c *Client, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{client: c, prefetch: prefetch, log: c.log}
}

func (c *Consumer) Subscribe(s Subscription) { c.subs = append(c.subs, s) }

// Start declares and binds every subscription, then consumes until ctx is
// cancelled. Failed handlers nack without requeue; the queue's DLX catches
// the message so a poison fact never loops and is never silently lost.
func (c *Consumer) Start(ctx context.Context) error {
	for _, sub := range c.subs {
		if err := c.run(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) run(ctx context.Context, sub Subscription) error {
	ch, err := c.client.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	args := amqp.Table{"x-dead-letter-exchange": events.ExchangeDLX}
	q, err := ch.QueueDeclare(sub.Queue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", sub.Queue, err)
	}
	for _, key := range sub.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, sub.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s on %s: %w", q.Name, key, sub.Exchange, err)
		}
	}
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()
	go func() {
		for d := range msgs {
			if err := sub.Handler(ctx, d); err != nil {
				c.log.Error("handler failed, dead-lettering",
					zap.String("queue", sub.Queue),
					zap.String("routing_key", d.RoutingKey),
					zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}()

	c.log.Info("consumer bound",
		zap.String("queue", sub.Queue),
		zap.Strings("routing_keys", sub.RoutingKeys))
	return nil
}
