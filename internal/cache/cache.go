package cache

import (
	"context"
	"time"
)

// Cache is a small JSON-over-KV surface. The summary endpoint is the main
// consumer; a miss on corrupt data is preferred over an error.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
