package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/keepsake-ai/keepsake/internal/storage"
)

// SweepResult summarizes one maintenance sweep across all principals.
type SweepResult struct {
	Principals    int                 `json:"principals"`
	Pruned        int                 `json:"pruned"`
	Consolidation ConsolidationResult `json:"consolidation"`
}

// Maintainer runs the periodic background work that keeps the fact store
// healthy: pruning decayed facts and reclassifying memory stages.
type Maintainer struct {
	store        storage.FactStore
	decay        *DecayEngine
	consolidator *Consolidator

	onFactsChanged func(principal string)
}

// NewMaintainer creates a Maintainer over the given store and engines.
func NewMaintainer(store storage.FactStore, decay *DecayEngine, consolidator *Consolidator) *Maintainer {
	return &Maintainer{
		store:        store,
		decay:        decay,
		consolidator: consolidator,
	}
}

// SetOnFactsChanged sets a callback fired for each principal whose facts a
// sweep pruned.
func (m *Maintainer) SetOnFactsChanged(callback func(principal string)) {
	m.onFactsChanged = callback
}

// Sweep prunes decayed facts and consolidates stages for one principal.
func (m *Maintainer) Sweep(ctx context.Context, principal string) (*SweepResult, error) {
	result := &SweepResult{Principals: 1}

	pruned, err := m.pruneDecayed(ctx, principal)
	if err != nil {
		return result, err
	}
	result.Pruned = pruned

	if pruned > 0 && m.onFactsChanged != nil {
		m.onFactsChanged(principal)
	}

	cons, err := m.consolidator.Consolidate(ctx, principal)
	if err != nil {
		return result, err
	}
	result.Consolidation = *cons
	return result, nil
}

// SweepAll runs Sweep for every principal in the store. A failing principal
// is logged and skipped; the sweep keeps going.
func (m *Maintainer) SweepAll(ctx context.Context) (*SweepResult, error) {
	principals, err := m.store.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintenance: failed to list principals: %w", err)
	}

	total := &SweepResult{}
	for _, principal := range principals {
		result, err := m.Sweep(ctx, principal)
		if err != nil {
			log.Printf("ERROR: maintenance: sweep failed for %s: %v", principal, err)
			continue
		}
		total.Principals++
		total.Pruned += result.Pruned
		total.Consolidation.Scanned += result.Consolidation.Scanned
		total.Consolidation.Promoted += result.Consolidation.Promoted
		total.Consolidation.Demoted += result.Consolidation.Demoted
		total.Consolidation.Unchanged += result.Consolidation.Unchanged
	}
	return total, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (m *Maintainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := m.SweepAll(ctx)
			if err != nil {
				log.Printf("ERROR: maintenance: sweep failed: %v", err)
				continue
			}
			if result.Pruned > 0 || result.Consolidation.Promoted > 0 || result.Consolidation.Demoted > 0 {
				log.Printf("maintenance: swept %d principal(s): pruned=%d promoted=%d demoted=%d",
					result.Principals, result.Pruned,
					result.Consolidation.Promoted, result.Consolidation.Demoted)
			}
		}
	}
}

// pruneDecayed soft-deletes every valid fact whose decay weight has reached
// zero or whose expiry has passed.
func (m *Maintainer) pruneDecayed(ctx context.Context, principal string) (int, error) {
	facts, err := m.store.GetFacts(ctx, principal, storage.FactFilter{ValidOnly: true})
	if err != nil {
		return 0, fmt.Errorf("maintenance: failed to fetch facts: %w", err)
	}

	now := time.Now()
	pruned := 0
	for _, fact := range facts {
		if !m.decay.ShouldPrune(fact, now) {
			continue
		}
		if err := m.store.DeleteFact(ctx, fact.ID, "decay expiry"); err != nil && err != storage.ErrNotFound {
			return pruned, fmt.Errorf("maintenance: failed to prune %s: %w", fact.ID, err)
		}
		pruned++
	}
	return pruned, nil
}
