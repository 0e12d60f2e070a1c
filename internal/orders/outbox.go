package orders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/events"
)

// OutboxStore is the poller's slice of the repo.
type OutboxStore interface {
	UnpublishedOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id string) error
}

// OutboxPoller drains order_outbox to the broker. Publisher must be
// synchronous (confirm-backed, amqpx.SyncPublisher): rows are only marked
// after the broker acknowledged the message, so a crash or write failure
// anywhere in between re-sends instead of losing the fact (consumers
// dedup by event id).
type OutboxPoller struct {
	Store     OutboxStore
	Publisher events.Publisher
	Tick      time.Duration
	BatchSize int
	Log       *zap.Logger
}

func (p *OutboxPoller) Run(ctx context.Context) {
	tick := p.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) drain(ctx context.Context) {
	limit := p.BatchSize
	if limit <= 0 {
		limit = 100
	}
	msgs, err := p.Store.UnpublishedOutbox(ctx, limit)
	if err != nil {
		p.Log.Error("fetch outbox", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if err := p.Publisher.Publish(ctx, m.RoutingKey, m.Body); err != nil {
			p.Log.Error("publish outbox message", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		if err := p.Store.MarkOutboxPublished(ctx, m.ID); err != nil {
			p.Log.Error("mark outbox published", zap.String("id", m.ID), zap.Error(err))
		}
	}
}
