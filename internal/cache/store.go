package cache

import (
	"context"
	"time"

	"github.com/nao1215/jscryptoscan/internal/model"
)

const (
	// DefaultMaxEntries bounds the in-memory store.
	DefaultMaxEntries = 1000

	// DefaultTTL is how long a cached result stays valid.
	DefaultTTL = time.Hour
)

// Store caches inference results.
// Implementations must be safe for concurrent use. An expired entry is
// reported as a miss, never as a stale hit.
type Store interface {
	// Get returns the cached result for key. The boolean is false on a miss.
	Get(ctx context.Context, key string) (model.InferenceResult, bool, error)

	// Set stores value under key with the store's TTL.
	Set(ctx context.Context, key string, value model.InferenceResult) error
}
