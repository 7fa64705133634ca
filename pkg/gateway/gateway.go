// Package gateway orchestrates the tiered caches, the batch coalescer and
// the search ranker behind the two operations the service exposes:
// lookups by id list and fuzzy name search.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meeplemeet/go-catalog/pkg/cache"
	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/meeplemeet/go-catalog/pkg/rank"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidRequest marks a caller error: missing or blank required
// parameters. It never touches cache or upstream and maps to 400.
var ErrInvalidRequest = errors.New("invalid request")

// BatchScheduler coalesces id lookups into capped upstream batches.
// Implemented by coalesce.Coalescer.
type BatchScheduler interface {
	Schedule(ctx context.Context, keys []string) (map[string]*catalog.Item, error)
}

// Searcher performs an upstream name search. Implemented by bgg.Client.
type Searcher interface {
	Search(ctx context.Context, query string) ([]catalog.SearchCandidate, error)
}

// Config holds the gateway's request-shaping limits.
type Config struct {
	// MaxIDsPerRequest caps how many distinct ids one lookup may carry;
	// extra ids are silently truncated. Defaults to 20.
	MaxIDsPerRequest int
	// DefaultSearchResults is used when the caller does not specify a
	// result count. Defaults to 20.
	DefaultSearchResults int
	// MaxSearchResults is the hard ceiling applied regardless of caller
	// input. Defaults to 50.
	MaxSearchResults int
}

func (c *Config) applyDefaults() {
	if c.MaxIDsPerRequest <= 0 {
		c.MaxIDsPerRequest = 20
	}
	if c.DefaultSearchResults <= 0 {
		c.DefaultSearchResults = 20
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 50
	}
}

// Gateway answers catalog lookups and searches with minimal upstream
// traffic. Item lookups and search results run through separate tiered
// caches because their volatility and hit-rate characteristics differ.
type Gateway struct {
	cfg         Config
	items       *cache.Tiered[catalog.Item]
	searches    *cache.Tiered[[]catalog.SearchCandidate]
	scheduler   BatchScheduler
	searcher    Searcher
	searchGroup singleflight.Group
	logger      zerolog.Logger
}

// New creates a Gateway.
func New(
	cfg Config,
	items *cache.Tiered[catalog.Item],
	searches *cache.Tiered[[]catalog.SearchCandidate],
	scheduler BatchScheduler,
	searcher Searcher,
	logger zerolog.Logger,
) (*Gateway, error) {
	if items == nil || searches == nil {
		return nil, fmt.Errorf("item and search caches cannot be nil")
	}
	if scheduler == nil || searcher == nil {
		return nil, fmt.Errorf("scheduler and searcher cannot be nil")
	}
	cfg.applyDefaults()
	return &Gateway{
		cfg:       cfg,
		items:     items,
		searches:  searches,
		scheduler: scheduler,
		searcher:  searcher,
		logger:    logger.With().Str("component", "Gateway").Logger(),
	}, nil
}

// GetItems resolves catalog items for the given ids, served from cache
// where possible and batch-fetched upstream otherwise. Results come back
// in the original requested order; ids that cannot be resolved are
// silently dropped rather than failing the call. Blank ids are discarded
// and duplicates collapsed before the per-request cap is applied; an
// empty resulting set is ErrInvalidRequest.
func (g *Gateway) GetItems(ctx context.Context, ids []string) ([]catalog.Item, error) {
	requested := normalizeIDs(ids, g.cfg.MaxIDsPerRequest)
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no valid item ids", ErrInvalidRequest)
	}

	resolved := make(map[string]catalog.Item, len(requested))
	var misses []string
	for _, id := range requested {
		if item, ok := g.items.Get(ctx, itemCacheKey(id)); ok {
			resolved[id] = item
			continue
		}
		misses = append(misses, id)
	}
	g.logger.Debug().Int("requested", len(requested)).Int("misses", len(misses)).Msg("Partitioned lookup request.")

	if len(misses) > 0 {
		fetched, err := g.scheduler.Schedule(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("batch fetch: %w", err)
		}
		for id, item := range fetched {
			if item == nil {
				continue
			}
			g.items.Set(ctx, itemCacheKey(id), *item)
			resolved[id] = *item
		}
	}

	results := make([]catalog.Item, 0, len(requested))
	for _, id := range requested {
		if item, ok := resolved[id]; ok {
			results = append(results, item)
		}
	}
	return results, nil
}

// Search returns ranked search candidates for query, at most maxResults
// of them (maxResults falls back to the configured default and is clamped
// to the hard ceiling). Ranked result lists are cached whole; concurrent
// cold lookups of the same key share one upstream call.
func (g *Gateway) Search(ctx context.Context, query string, maxResults int, ignoreCase bool) ([]catalog.SearchCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be blank", ErrInvalidRequest)
	}

	if maxResults <= 0 {
		maxResults = g.cfg.DefaultSearchResults
	}
	if maxResults > g.cfg.MaxSearchResults {
		maxResults = g.cfg.MaxSearchResults
	}

	key := searchCacheKey(query, maxResults, ignoreCase)
	if ranked, ok := g.searches.Get(ctx, key); ok {
		return truncate(ranked, maxResults), nil
	}

	result, err, _ := g.searchGroup.Do(key, func() (interface{}, error) {
		candidates, err := g.searcher.Search(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("upstream search: %w", err)
		}
		ranked := rank.Rank(candidates, query, ignoreCase)
		g.searches.Set(ctx, key, ranked)
		return ranked, nil
	})
	if err != nil {
		return nil, err
	}

	return truncate(result.([]catalog.SearchCandidate), maxResults), nil
}

// Close releases both cache instances.
func (g *Gateway) Close() error {
	itemsErr := g.items.Close()
	searchErr := g.searches.Close()
	if itemsErr != nil {
		return itemsErr
	}
	return searchErr
}

// normalizeIDs trims, drops blanks, collapses duplicates preserving first
// occurrence order, and truncates to cap.
func normalizeIDs(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
		if len(normalized) == limit {
			break
		}
	}
	return normalized
}

func itemCacheKey(id string) string {
	return "item:" + id
}

func searchCacheKey(query string, maxResults int, ignoreCase bool) string {
	folded := query
	if ignoreCase {
		folded = strings.ToLower(query)
	}
	return fmt.Sprintf("search:%s|%t|%d", folded, ignoreCase, maxResults)
}

func truncate(candidates []catalog.SearchCandidate, maxResults int) []catalog.SearchCandidate {
	if len(candidates) <= maxResults {
		return candidates
	}
	return candidates[:maxResults]
}
