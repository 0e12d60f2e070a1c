package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the poll-driven expiry correction: every tick it releases
// reservations whose expires_at has passed.
type Sweeper struct {
	Store Store
	Tick  time.Duration
	Log   *zap.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.Store.ProcessExpired(ctx, time.Now().UTC())
			if err != nil {
				s.Log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.Log.Info("expired reservations released", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
