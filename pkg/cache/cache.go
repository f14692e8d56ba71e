// Package cache stores small opaque values under string keys with a TTL.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrMiss = errors.New("cache: miss")

// Store is a byte-valued key store. A ttl <= 0 means the value does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key joins parts with ':' skipping empty ones.
func Key(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
