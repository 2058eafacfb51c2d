// Package cache is the short-lived key/value layer behind pending flow state.
//
// Backends:
//   - memory: go-cache, in-process (single replica, dev, tests)
//   - redis: shared between replicas
package cache

import (
	"context"
	"errors"
	"time"
)

// Client is a string KV with TTLs and an atomic read-and-delete.
type Client interface {
	// Get devuelve ErrNotFound si la key no existe o expiró.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; ttl 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns the value and removes the key in one step. Of N concurrent
	// callers for the same key, exactly one gets the value.
	Take(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("cache: key not found")

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + k
}
