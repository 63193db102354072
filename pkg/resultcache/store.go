// Package resultcache memoises full quote responses across requests.
//
// Keys are deterministic fingerprints of the canonicalised request, so
// byte-identical requests served within the TTL window share one entry.
// Administrative changes to a carrier flush every quote entry at once.
package resultcache

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a cached quote bundle stays servable.
const DefaultTTL = 5 * time.Minute

// quotePrefix marks every quote entry so a global flush can find them.
const quotePrefix = "calc:"

// Store is the shared quote cache. Implementations must be safe for
// concurrent use and must enforce entry expiry themselves; callers treat
// a miss and an expired entry identically.
type Store interface {
	// Get returns the cached payload for key. The second return is false
	// when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores payload under key for ttl. A non-positive ttl falls back
	// to DefaultTTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// InvalidateQuotes removes every quote entry in the cache.
	InvalidateQuotes(ctx context.Context) error
}
