package redisx

import "time"

const (
	// Per-user checkout lock: lock:checkout:{user_id} -> owner token
	KeyCheckoutLock = "lock:checkout:%s"

	// Checkout idempotency: idem:checkout:{user_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCheckoutLock = 30 * time.Second
	TTLIdempotency  = 24 * time.Hour
	TTLDedup        = 48 * time.Hour
)
