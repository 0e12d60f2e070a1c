package amqpx

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/events"
)

type Client struct {
	conn *amqp.Connection
	log  *zap.Logger
}

// Dial connects with retry: the broker often comes up after the services.
func Dial(url string, log *zap.Logger) (*Client, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		log.Warn("amqp connect failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial after retries: %w", err)
	}
	return &Client{conn: conn, log: log}, nil
}

// DeclareTopology declares the shared exchanges and the dead-letter sink.
// Idempotent; every service calls it at startup.
func (c *Client) DeclareTopology() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(events.ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", events.ExchangeEvents, err)
	}
	if err := ch.ExchangeDeclare(events.ExchangeCommands, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", events.ExchangeCommands, err)
	}
	if err := ch.ExchangeDeclare(events.ExchangeDLX, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", events.ExchangeDLX, err)
	}
	q, err := ch.QueueDeclare(events.QueueDead, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", events.QueueDead, err)
	}
	if err := ch.QueueBind(q.Name, "", events.ExchangeDLX, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

func (c *Client) Channel() (*amqp.Channel, error) { return c.conn.Channel() }

func (c *Client) Close() error { return c.conn.Close() }
