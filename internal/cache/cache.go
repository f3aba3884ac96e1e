// Package cache provides the sync lock and the read cache for API
// responses, backed by Redis or by process memory.
package cache

import (
	"context"
	"errors"
	"time"
)

// Key prefixes.
const (
	lockKeyPrefix = "workpattern:lock:"
	dataKeyPrefix = "workpattern:cache:"
	genKeyPrefix  = "workpattern:gen:"
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// Cache is the shared coordination surface between the scheduler and the
// API.
//
// AcquireLock takes a lease on key for ttl. ok is false when another holder
// owns it. release only deletes the lease if it still belongs to the
// caller.
//
// Generation is a per-user counter bumped after every successful sync;
// readers fold it into their cache keys so stale entries are never served.
type Cache interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
	// Get returns ErrCacheMiss when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Generation(ctx context.Context, userID string) (int64, error)
	BumpGeneration(ctx context.Context, userID string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
