package redisx

import "time"

const (
	// Dedup for event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Cached order aggregate: order:{order_id}
	KeyOrder = "order:%s"
)

var (
	TTLDedup      = 48 * time.Hour
	TTLOrderCache = 5 * time.Minute
)
