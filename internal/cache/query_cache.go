// Package cache provides a per-principal query result cache with
// similarity-based matching, so that near-duplicate recall queries can be
// answered without touching storage.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keepsake-ai/keepsake/pkg/types"
)

// Config holds configuration for the query cache.
type Config struct {
	// TTL is how long an entry stays usable (default: 5m).
	TTL time.Duration

	// SimilarityThreshold is the minimum token overlap for a non-identical
	// query to reuse a cached entry (default: 0.85).
	SimilarityThreshold float64

	// MaxSize is the per-principal entry cap (default: 100).
	MaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                 5 * time.Minute,
		SimilarityThreshold: 0.85,
		MaxSize:             100,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("TTL must be > 0, got %v", c.TTL)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SimilarityThreshold must be in [0,1], got %f", c.SimilarityThreshold)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("MaxSize must be >= 1, got %d", c.MaxSize)
	}
	return nil
}

type entry struct {
	query    string
	tokens   map[string]struct{}
	facts    []*types.Fact
	storedAt time.Time
	hitCount int
}

// QueryCache caches recall results keyed by normalized query text, isolated
// per principal. Lookups match either the exact normalized query or any
// cached query whose token overlap meets the similarity threshold.
type QueryCache struct {
	config Config

	mu      sync.Mutex
	entries map[string][]*entry // principal -> entries
}

// New creates a QueryCache. Invalid config falls back to defaults.
func New(config Config) *QueryCache {
	if err := config.Validate(); err != nil {
		config = DefaultConfig()
	}
	return &QueryCache{
		config:  config,
		entries: make(map[string][]*entry),
	}
}

// Get returns the cached facts for a query, or (nil, false) on a miss.
// Expired entries are treated as misses and removed lazily. A hit bumps the
// entry's hit count.
func (c *QueryCache) Get(principal, query string) ([]*types.Fact, bool) {
	normalized := normalizeQuery(query)
	tokens := tokenize(normalized)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[principal]
	live := list[:0]
	var best *entry
	bestScore := -1.0

	for _, e := range list {
		if now.Sub(e.storedAt) > c.config.TTL {
			continue
		}
		live = append(live, e)

		if e.query == normalized {
			best = e
			bestScore = 1.0
			continue
		}
		if bestScore >= 1.0 {
			continue
		}
		score := jaccard(tokens, e.tokens)
		if score >= c.config.SimilarityThreshold && score > bestScore {
			best = e
			bestScore = score
		}
	}
	c.entries[principal] = live

	if best == nil {
		return nil, false
	}
	best.hitCount++
	return best.facts, true
}

// Put stores the result set for a query. A query already cached (after
// normalization) has its entry replaced. Expired entries are dropped first,
// so dead entries never consume the cap; when the cache is still full, the
// entry with the fewest hits is evicted, oldest first on ties.
func (c *QueryCache) Put(principal, query string, facts []*types.Fact) {
	normalized := normalizeQuery(query)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[principal]
	live := list[:0]
	for _, e := range list {
		if now.Sub(e.storedAt) > c.config.TTL {
			continue
		}
		live = append(live, e)
	}
	list = live
	c.entries[principal] = list

	for i, e := range list {
		if e.query == normalized {
			list[i] = &entry{
				query:    normalized,
				tokens:   tokenize(normalized),
				facts:    facts,
				storedAt: now,
			}
			return
		}
	}

	if len(list) >= c.config.MaxSize {
		list = evictWorst(list)
	}

	c.entries[principal] = append(list, &entry{
		query:    normalized,
		tokens:   tokenize(normalized),
		facts:    facts,
		storedAt: now,
	})
}

// Invalidate drops every cached entry for a principal. Called whenever the
// principal's facts change, since any cached result may now be stale.
func (c *QueryCache) Invalidate(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, principal)
}

// Clear drops all entries for all principals.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]*entry)
}

// Len returns the number of live entries for a principal.
func (c *QueryCache) Len(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[principal])
}

// evictWorst removes the entry with the lowest hit count, breaking ties by
// evicting the oldest.
func evictWorst(list []*entry) []*entry {
	if len(list) == 0 {
		return list
	}
	worst := 0
	for i := 1; i < len(list); i++ {
		if list[i].hitCount < list[worst].hitCount ||
			(list[i].hitCount == list[worst].hitCount && list[i].storedAt.Before(list[worst].storedAt)) {
			worst = i
		}
	}
	return append(list[:worst], list[worst+1:]...)
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// tokenize splits on whitespace and trims surrounding punctuation from each
// token, so a trailing question mark does not defeat matching ("name?"
// versus "name").
func tokenize(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(normalized) {
		t = strings.Trim(t, ".,!?;:\"'")
		if t == "" {
			continue
		}
		tokens[t] = struct{}{}
	}
	return tokens
}

// jaccard computes |a∩b| / |a∪b| over token sets. An empty set never
// matches anything: two queries that normalize to no tokens at all are
// not similar, they are both meaningless.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
