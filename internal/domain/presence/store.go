package presence

import (
	"context"
	"time"
)

// ScoredMember pairs a sorted-set member with its accumulated score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the contract for the shared, TTL-capable presence store. All
// operations are atomic at the store level. Writes refresh key expiry to at
// least the given TTL (a longer remaining TTL is never shortened), which
// implements the sliding presence window. Implementations map transport
// failures to *StoreUnavailableError.
type Store interface {
	// Hash operations (VisitorEntry fields, division gauges).
	SetField(ctx context.Context, key, field, value string, ttl time.Duration) error
	SetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	GetAll(ctx context.Context, key string) (map[string]string, error)
	IncrementField(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error)

	// Set operations (community presence sub-sets).
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	RemoveFromSet(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetLength(ctx context.Context, key string) (int64, error)

	// Sorted-set operations (cross-division ledger).
	SortedSetIncrement(ctx context.Context, key, member string, delta float64, ttl time.Duration) (float64, error)
	SortedSetTopN(ctx context.Context, key string, n int64) ([]ScoredMember, error)

	// Plain keys (peak counters).
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Clock supplies the current time. Injectable so staleness cutoffs and
// window keys are deterministic in tests.
type Clock func() time.Time
