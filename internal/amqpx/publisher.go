package amqpx

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrPublisherClosed = errors.New("publisher closed")

type outMsg struct {
	exchange string
	key      string
	body     []byte
}

// Publisher buffers outbound facts in an inbox channel and writes them from
// a single goroutine, so callers never block on the broker. Messages are
// persistent; a write error is logged, not returned (at-least-once is the
// contract, the outbox/dedup layers absorb the rest).
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	inbox    chan outMsg
	closeCh  chan struct{}
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
}

func NewPublisher(c *Client, exchange string, buf int) (*Publisher, error) {
	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		inbox:    make(chan outMsg, buf),
		closeCh:  make(chan struct{}),
		log:      c.log,
	}, nil
}

func (p *Publisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				// flush whatever is buffered before exiting
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						_ = p.ch.Close()
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.ch.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Publisher) write(m outMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.ch.PublishWithContext(ctx, m.exchange, m.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         m.body,
	})
	if err != nil {
		p.log.Error("publish failed", zap.String("routing_key", m.key), zap.Error(err))
	}
}

// Publish enqueues; it only fails when the publisher closed or ctx ran
// out. The mutex keeps the send and Close from racing, so a late caller
// in the shutdown window gets ErrPublisherClosed instead of a panic.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- outMsg{exchange: p.exchange, key: routingKey, body: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages; the loop flushes the remainder.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the flush goroutine exits.
func (p *Publisher) WaitClosed() { <-p.closeCh }
