// Package idempotency deduplicates webhook deliveries by opaque key.
//
// The store is a pure side-table: a present key means "already handled or
// currently being handled". It never blocks business logic beyond the boolean
// claim gate, and keys expire after the retention window so redeliveries far
// apart are reprocessed against the job store's terminal-state check instead.
package idempotency

import (
	"context"
	"time"
)

// DefaultRetention is how long a claimed key suppresses duplicates.
const DefaultRetention = time.Hour

// Store is the deduplication interface. Implementations must be safe for
// concurrent use; TryClaim is the serialization point and no two callers may
// both receive true for the same key within the retention window.
type Store interface {
	// TryClaim atomically records key and returns true for the first
	// claimant; false means the key is already claimed and the caller must
	// skip processing.
	TryClaim(ctx context.Context, key string) (bool, error)

	// ReleaseOnFailure removes a claim after a failed processing attempt so
	// a genuine retry under the same key is not permanently suppressed.
	ReleaseOnFailure(ctx context.Context, key string) error
}
