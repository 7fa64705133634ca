package coalesce_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/meeplemeet/go-catalog/pkg/coalesce"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher records every upstream call and serves items for any id it
// was seeded with.
type mockFetcher struct {
	mu    sync.Mutex
	calls [][]string
	known map[string]catalog.Item
	err   error
}

func newMockFetcher(ids ...string) *mockFetcher {
	known := make(map[string]catalog.Item, len(ids))
	for _, id := range ids {
		known[id] = catalog.Item{ID: id, Name: "Game " + id}
	}
	return &mockFetcher{known: known}
}

func (m *mockFetcher) fetch(_ context.Context, ids []string) (map[string]catalog.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	m.calls = append(m.calls, sorted)
	if m.err != nil {
		return nil, m.err
	}
	found := make(map[string]catalog.Item)
	for _, id := range ids {
		if item, ok := m.known[id]; ok {
			found[id] = item
		}
	}
	return found, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestCoalescer(t *testing.T, fetcher *mockFetcher, batchCap int) *coalesce.Coalescer {
	t.Helper()
	c, err := coalesce.New(coalesce.Config{
		BatchCap:         batchCap,
		DebounceInterval: 50 * time.Millisecond,
		FetchTimeout:     time.Second,
	}, fetcher.fetch, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestCoalescer_MergesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockFetcher("1", "2", "3", "4")
	c := newTestCoalescer(t, fetcher, 20)

	var wg sync.WaitGroup
	var first, second map[string]*catalog.Item
	var firstErr, secondErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		first, firstErr = c.Schedule(ctx, []string{"1", "2", "3"})
	}()
	go func() {
		defer wg.Done()
		second, secondErr = c.Schedule(ctx, []string{"4"})
	}()
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)

	// Both requests landed inside one debounce window, so exactly one
	// upstream call carrying the union must have been issued.
	require.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, []string{"1", "2", "3", "4"}, fetcher.calls[0])

	// Each caller sees only its own subset.
	require.Len(t, first, 3)
	assert.Equal(t, "Game 2", first["2"].Name)
	assert.NotContains(t, first, "4")

	require.Len(t, second, 1)
	assert.Equal(t, "Game 4", second["4"].Name)
}

func TestCoalescer_OverlappingKeysSharedAcrossCallers(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockFetcher("1", "2", "3")
	c := newTestCoalescer(t, fetcher, 20)

	var wg sync.WaitGroup
	results := make([]map[string]*catalog.Item, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = c.Schedule(ctx, []string{"1", "2"})
	}()
	go func() {
		defer wg.Done()
		results[1], _ = c.Schedule(ctx, []string{"2", "3"})
	}()
	wg.Wait()

	require.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, []string{"1", "2", "3"}, fetcher.calls[0], "the shared key should appear once in the merged batch")
	assert.Equal(t, "Game 2", results[0]["2"].Name)
	assert.Equal(t, "Game 2", results[1]["2"].Name)
}

func TestCoalescer_RespectsBatchCap(t *testing.T) {
	ctx := context.Background()
	ids := make([]string, 21)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	fetcher := newMockFetcher(ids...)
	c := newTestCoalescer(t, fetcher, 20)

	results, err := c.Schedule(ctx, ids)
	require.NoError(t, err)
	require.Len(t, results, 21)

	require.GreaterOrEqual(t, fetcher.callCount(), 2, "21 keys with cap 20 need at least two upstream calls")
	total := 0
	for _, call := range fetcher.calls {
		assert.LessOrEqual(t, len(call), 20, "no upstream call may exceed the batch cap")
		total += len(call)
	}
	assert.Equal(t, 21, total)
}

func TestCoalescer_UnknownKeysResolveToAbsent(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockFetcher("1")
	c := newTestCoalescer(t, fetcher, 20)

	results, err := c.Schedule(ctx, []string{"1", "ghost"})
	require.NoError(t, err)

	require.Len(t, results, 2, "every requested key must be present in the result map")
	assert.NotNil(t, results["1"])
	assert.Nil(t, results["ghost"], "an unknown key resolves to absent, not an error")
}

func TestCoalescer_DuplicateKeysDeduplicated(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockFetcher("1")
	c := newTestCoalescer(t, fetcher, 20)

	results, err := c.Schedule(ctx, []string{"1", "1", "1"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	require.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, []string{"1"}, fetcher.calls[0])
}

func TestCoalescer_EmptyScheduleResolvesImmediately(t *testing.T) {
	fetcher := newMockFetcher()
	c := newTestCoalescer(t, fetcher, 20)

	start := time.Now()
	results, err := c.Schedule(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, 0, fetcher.callCount(), "an empty schedule performs no I/O")
	assert.Less(t, time.Since(start), 40*time.Millisecond, "an empty schedule must not wait out the debounce window")
}

func TestCoalescer_UpstreamFailureRejectsAllWaiters(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockFetcher("1", "2")
	fetcher.err = errors.New("upstream down")
	c := newTestCoalescer(t, fetcher, 20)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = c.Schedule(ctx, []string{"1"})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = c.Schedule(ctx, []string{"2"})
	}()
	wg.Wait()

	require.Equal(t, 1, fetcher.callCount())
	for _, err := range errs {
		assert.ErrorContains(t, err, "upstream down", "every waiter on a failed batch receives the same error")
	}
}

func TestCoalescer_ContextCancellationUnblocksCaller(t *testing.T) {
	fetcher := newMockFetcher("1")
	c, err := coalesce.New(coalesce.Config{
		BatchCap:         20,
		DebounceInterval: time.Second,
		FetchTimeout:     time.Second,
	}, fetcher.fetch, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = c.Schedule(ctx, []string{"1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoalescer_InvalidConfig(t *testing.T) {
	fetcher := newMockFetcher()

	_, err := coalesce.New(coalesce.Config{BatchCap: 0, DebounceInterval: time.Millisecond}, fetcher.fetch, zerolog.Nop())
	require.Error(t, err)

	_, err = coalesce.New(coalesce.Config{BatchCap: 20, DebounceInterval: 0}, fetcher.fetch, zerolog.Nop())
	require.Error(t, err)

	_, err = coalesce.New(coalesce.Config{BatchCap: 20, DebounceInterval: time.Millisecond}, nil, zerolog.Nop())
	require.Error(t, err)
}
