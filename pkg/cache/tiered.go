package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TieredConfig holds the per-instance settings of a Tiered cache. The
// gateway runs one instance for item lookups and a separate one for
// search results; their volatility differs, so TTLs and sizes are not
// shared.
type TieredConfig struct {
	MaxSize int
	TTL     time.Duration
}

// Tiered composes the in-process tier with an optional durable tier
// behind a single get/set contract. Reads check L1 first and fall through
// to L2, repopulating L1 on an L2 hit so hot keys stop paying the L2
// round-trip. Durable-tier failures are logged and degrade to miss/no-op
// behavior; they are never surfaced to the caller.
type Tiered[V any] struct {
	memory  *MemoryCache[V]
	durable DurableStore[V] // nil when running L1-only
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewTiered creates a tiered cache. durable may be nil, in which case the
// cache runs on the in-process tier alone.
func NewTiered[V any](cfg *TieredConfig, durable DurableStore[V], logger zerolog.Logger) (*Tiered[V], error) {
	memory, err := NewMemoryCache[V](cfg.MaxSize, cfg.TTL)
	if err != nil {
		return nil, err
	}
	return &Tiered[V]{
		memory:  memory,
		durable: durable,
		ttl:     cfg.TTL,
		logger:  logger.With().Str("component", "TieredCache").Logger(),
	}, nil
}

// Get returns the value for key and whether it is present in either tier.
// Absence is not an error; durable-tier failures are swallowed and
// reported as a miss.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if value, ok := t.memory.Get(key); ok {
		return value, true
	}

	var zero V
	if t.durable == nil {
		return zero, false
	}

	value, err := t.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Warn().Err(err).Str("key", key).Msg("Durable tier read failed, treating as miss.")
		}
		return zero, false
	}

	// Write through to L1 so repeated reads of a hot key stay in-process.
	t.memory.Set(key, value)
	return value, true
}

// Set writes value to L1 unconditionally, then attempts the durable tier.
// A durable write failure is logged and swallowed; the value still lives
// in L1 for this process.
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.memory.Set(key, value)

	if t.durable == nil {
		return
	}
	if err := t.durable.Set(ctx, key, value, t.ttl); err != nil {
		t.logger.Warn().Err(err).Str("key", key).Msg("Durable tier write failed, value retained in memory only.")
	}
}

// Close releases the durable tier, if any.
func (t *Tiered[V]) Close() error {
	if t.durable == nil {
		return nil
	}
	return t.durable.Close()
}
