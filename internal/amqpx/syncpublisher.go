package amqpx

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SyncPublisher writes one message at a time and waits for the broker's
// publisher confirm before returning. The outbox poller needs this: a row
// may only be marked published once the broker actually has the message,
// otherwise a dropped write loses the fact the outbox exists to keep.
type SyncPublisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewSyncPublisher(c *Client, exchange string) (*SyncPublisher, error) {
	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &SyncPublisher{ch: ch, exchange: exchange}, nil
}

func (p *SyncPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", routingKey)
	}
	return nil
}

func (p *SyncPublisher) Close() error { return p.ch.Close() }
