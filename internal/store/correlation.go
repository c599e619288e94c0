// Package store provides the short-lived, single-use, keyed correlation store
// backing the OIDC enrollment state and login challenges. Consumption deletes
// the entry; expiry is enforced at consumption time regardless of sweeping.
package store

import (
	"context"
	"time"
)

type CorrelationStore interface {
	// Put stores value under key with the given ttl, replacing any prior entry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// TakeOnce atomically fetches and deletes the entry. The second return is
	// false when the key is absent or expired.
	TakeOnce(ctx context.Context, key string) ([]byte, bool, error)
}
