// Package coalesce merges concurrent, overlapping catalog lookups into as
// few upstream calls as possible. Requests arriving within a debounce
// window are packed into shared batches bounded by the upstream's
// per-call id cap; when a batch's timer fires it issues exactly one
// upstream call and fans the results back out, each caller receiving only
// the keys it asked for.
package coalesce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/rs/zerolog"
)

// FetchFunc issues one upstream call for the given ids and returns the
// resolved items keyed by id. Ids unknown upstream are simply absent from
// the returned map.
type FetchFunc func(ctx context.Context, ids []string) (map[string]catalog.Item, error)

// Config holds the coalescing parameters.
type Config struct {
	// BatchCap is the maximum number of ids the upstream accepts per call.
	BatchCap int
	// DebounceInterval is how long a new batch stays open for additional
	// callers before it is dispatched.
	DebounceInterval time.Duration
	// FetchTimeout bounds the upstream call made when a batch fires.
	FetchTimeout time.Duration
}

// pendingBatch is owned by the Coalescer. Waiters join under the
// Coalescer's mutex while the batch is open; once the timer fires the
// batch is removed from the open list and no further waiters may join.
type pendingBatch struct {
	keys map[string]struct{}

	// done is closed after result/err are populated. Only the firing
	// goroutine writes them, and only after removing the batch from the
	// open list, so waiters read them without further synchronization.
	done   chan struct{}
	result map[string]catalog.Item
	err    error
}

// membership records which of one caller's keys were packed into a batch.
type membership struct {
	batch *pendingBatch
	keys  []string
}

// Coalescer groups concurrent lookup requests into capped, debounced
// batches. It is safe for concurrent use; the mutex guards only the
// open-batch list and is never held across an upstream call.
type Coalescer struct {
	cfg    Config
	fetch  FetchFunc
	logger zerolog.Logger

	mu   sync.Mutex
	open []*pendingBatch
}

// New creates a Coalescer around the given fetch function.
func New(cfg Config, fetch FetchFunc, logger zerolog.Logger) (*Coalescer, error) {
	if cfg.BatchCap <= 0 {
		return nil, fmt.Errorf("batch cap must be greater than 0")
	}
	if cfg.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be greater than 0")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch function cannot be nil")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Coalescer{
		cfg:    cfg,
		fetch:  fetch,
		logger: logger.With().Str("component", "Coalescer").Logger(),
	}, nil
}

// Schedule requests the given keys and blocks until every batch the keys
// were packed into has been dispatched. The returned map contains exactly
// the requested keys; a nil value means the key could not be resolved
// upstream. If any spanned batch's upstream call fails, Schedule returns
// that error.
func (c *Coalescer) Schedule(ctx context.Context, keys []string) (map[string]*catalog.Item, error) {
	unique := dedupe(keys)
	if len(unique) == 0 {
		return map[string]*catalog.Item{}, nil
	}

	memberships := c.pack(unique)

	results := make(map[string]*catalog.Item, len(unique))
	for _, m := range memberships {
		select {
		case <-m.batch.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if m.batch.err != nil {
			return nil, m.batch.err
		}
		for _, key := range m.keys {
			if item, ok := m.batch.result[key]; ok {
				itemCopy := item
				results[key] = &itemCopy
			} else {
				results[key] = nil
			}
		}
	}
	return results, nil
}

// pack assigns keys to open batches with spare capacity, opening new
// batches for whatever does not fit. A key already present in an open
// batch joins it without consuming capacity.
func (c *Coalescer) pack(unique []string) []membership {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := unique
	var memberships []membership

	for _, batch := range c.open {
		if len(remaining) == 0 {
			break
		}
		var taken []string
		var leftover []string
		for _, key := range remaining {
			if _, ok := batch.keys[key]; ok {
				// Overlapping request: piggyback on the key already queued.
				taken = append(taken, key)
				continue
			}
			if len(batch.keys) < c.cfg.BatchCap {
				batch.keys[key] = struct{}{}
				taken = append(taken, key)
				continue
			}
			leftover = append(leftover, key)
		}
		if len(taken) > 0 {
			memberships = append(memberships, membership{batch: batch, keys: taken})
		}
		remaining = leftover
	}

	for len(remaining) > 0 {
		size := len(remaining)
		if size > c.cfg.BatchCap {
			size = c.cfg.BatchCap
		}
		chunk := remaining[:size]
		remaining = remaining[size:]

		batch := &pendingBatch{
			keys: make(map[string]struct{}, size),
			done: make(chan struct{}),
		}
		for _, key := range chunk {
			batch.keys[key] = struct{}{}
		}
		c.open = append(c.open, batch)
		memberships = append(memberships, membership{batch: batch, keys: chunk})

		// The timer is armed once per batch and never reset by later
		// joiners, so no waiter waits longer than one debounce interval
		// plus the upstream round-trip.
		time.AfterFunc(c.cfg.DebounceInterval, func() { c.fire(batch) })
	}

	return memberships
}

// fire dispatches a batch: it leaves the open list, the union of its keys
// goes upstream in a single call, and the outcome is published to every
// waiter via the done channel.
func (c *Coalescer) fire(batch *pendingBatch) {
	c.mu.Lock()
	for i, open := range c.open {
		if open == batch {
			c.open = append(c.open[:i], c.open[i+1:]...)
			break
		}
	}
	ids := make([]string, 0, len(batch.keys))
	for key := range batch.keys {
		ids = append(ids, key)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	items, err := c.fetch(ctx, ids)
	if err != nil {
		c.logger.Error().Err(err).Int("key_count", len(ids)).Msg("Upstream batch fetch failed.")
		batch.err = err
	} else {
		c.logger.Debug().Int("key_count", len(ids)).Int("resolved", len(items)).Msg("Upstream batch fetch completed.")
		batch.result = items
	}
	close(batch.done)
}

// dedupe removes duplicate keys, preserving first-seen order.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	return unique
}
