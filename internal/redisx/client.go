package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

// Seen reports whether the dedup key for an event id exists. Read-only:
// consumers check before handling and mark only after the side effect
// committed, so a failed handler leaves the key unset and the redelivery
// is processed again.
func Seen(ctx context.Context, rdb *redis.Client, service, eventID string) (bool, error) {
	key := fmt.Sprintf(KeyDedup, service, eventID)
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkOnce sets the dedup key for an event id. Returns false when the key
// already existed, i.e. the event was handled before.
func MarkOnce(ctx context.Context, rdb *redis.Client, service, eventID string) (bool, error) {
	key := fmt.Sprintf(KeyDedup, service, eventID)
	return rdb.SetNX(ctx, key, "1", TTLDedup).Result()
}
