package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/keepsake-ai/keepsake/internal/cache"
	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// RecallOptions configures recall behavior.
type RecallOptions struct {
	// Limit is the maximum number of facts to return (default: 20).
	Limit int

	// MinWeight drops facts whose decay weight is at or below this value
	// (default: 0, meaning only fully decayed facts are dropped).
	MinWeight float64

	// SkipCache bypasses the query cache for this call.
	SkipCache bool
}

// Recaller answers natural-language fact queries. It fronts the store with
// the query cache, scores candidates by token overlap weighted by decay, and
// records an access on every returned fact so recall reinforces retention.
type Recaller struct {
	store storage.FactStore
	decay *DecayEngine
	cache *cache.QueryCache
}

// NewRecaller creates a Recaller. The cache may be nil, disabling caching.
func NewRecaller(store storage.FactStore, decay *DecayEngine, queryCache *cache.QueryCache) *Recaller {
	return &Recaller{store: store, decay: decay, cache: queryCache}
}

// Recall returns the facts most relevant to the query, best first. Cache
// hits skip both scoring and access recording: a cached read is a repeat of
// a recall that already reinforced its facts.
//
// Safety-critical facts are always included, whatever the query: Limit
// bounds ordinary matches only, so the result may exceed it when safety
// facts would otherwise be cut off.
func (r *Recaller) Recall(ctx context.Context, principal, query string, opts RecallOptions) ([]*types.Fact, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	if r.cache != nil && !opts.SkipCache {
		if facts, ok := r.cache.Get(principal, query); ok {
			return facts, nil
		}
	}

	candidates, err := r.store.GetFacts(ctx, principal, storage.FactFilter{ValidOnly: true})
	if err != nil {
		return nil, fmt.Errorf("recall: failed to fetch facts: %w", err)
	}

	now := time.Now()
	queryTokens := queryTokenSet(query)

	type scored struct {
		fact  *types.Fact
		score float64
	}
	var matches []scored
	for _, fact := range candidates {
		overlap := tokenOverlap(queryTokens, fact)
		weight := r.decay.Weight(fact, now)
		if fact.IsSafetyCritical() {
			// Safety facts ride along regardless of relevance or decay;
			// the importance floor guarantees them a place in every read.
			matches = append(matches, scored{fact: fact, score: overlap * weight})
			continue
		}
		if overlap == 0 || weight <= opts.MinWeight {
			continue
		}
		matches = append(matches, scored{fact: fact, score: overlap * weight})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	budget := opts.Limit
	facts := make([]*types.Fact, 0, len(matches))
	for _, m := range matches {
		if m.fact.IsSafetyCritical() {
			facts = append(facts, m.fact)
		} else if budget > 0 {
			facts = append(facts, m.fact)
			budget--
		} else {
			continue
		}
		if m.score == 0 {
			// Carried for safety, not because the query touched it; an
			// unrelated recall must not reinforce it.
			continue
		}
		if err := r.store.RecordAccess(ctx, m.fact.ID); err != nil && err != storage.ErrNotFound {
			log.Printf("WARNING: recall: failed to record access for %s: %v", m.fact.ID, err)
		}
	}

	if r.cache != nil && !opts.SkipCache {
		r.cache.Put(principal, query, facts)
	}
	return facts, nil
}

// queryTokenSet lowercases and splits the query, dropping common stop words
// so "what is my name" matches a NAME fact on "name" alone.
func queryTokenSet(query string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(query)) {
		t = strings.Trim(t, ".,!?;:\"'")
		if t == "" || isStopWord(t) {
			continue
		}
		tokens[t] = struct{}{}
	}
	return tokens
}

// tokenOverlap returns the fraction of query tokens found in the fact's
// subject, predicate, or object.
func tokenOverlap(queryTokens map[string]struct{}, fact *types.Fact) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	factTokens := make(map[string]struct{})
	for _, field := range []string{fact.Subject, fact.Object} {
		for _, t := range strings.Fields(strings.ToLower(field)) {
			factTokens[strings.Trim(t, ".,!?;:\"'")] = struct{}{}
		}
	}
	for _, t := range strings.Split(strings.ToLower(fact.Predicate), "_") {
		factTokens[t] = struct{}{}
	}

	hits := 0
	for t := range queryTokens {
		if _, ok := factTokens[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "who": {}, "where": {}, "when": {}, "which": {}, "how": {},
	"do": {}, "does": {}, "did": {}, "my": {}, "your": {}, "i": {}, "you": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "and": {}, "or": {},
}

func isStopWord(t string) bool {
	_, ok := stopWords[t]
	return ok
}
