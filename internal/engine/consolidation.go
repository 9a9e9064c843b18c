package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// ConsolidationConfig holds the thresholds for stage classification.
type ConsolidationConfig struct {
	// ShortTermHours is the age at which a fact leaves short-term (default: 24).
	ShortTermHours float64

	// WorkingHours is the minimum age for long-term promotion (default: 168).
	WorkingHours float64

	// WorkingAccessThreshold promotes a fact to working regardless of age
	// (default: 3).
	WorkingAccessThreshold int

	// LongTermAccessThreshold is the minimum access count for long-term
	// promotion (default: 5).
	LongTermAccessThreshold int
}

// DefaultConsolidationConfig returns the standard stage thresholds.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		ShortTermHours:          24,
		WorkingHours:            168,
		WorkingAccessThreshold:  3,
		LongTermAccessThreshold: 5,
	}
}

// ConsolidationResult summarizes one consolidation sweep.
type ConsolidationResult struct {
	Scanned   int `json:"scanned"`
	Promoted  int `json:"promoted"`
	Demoted   int `json:"demoted"`
	Unchanged int `json:"unchanged"`
}

// Consolidator reclassifies facts across the short-term / working / long-term
// stages based on age and access history.
type Consolidator struct {
	store  storage.FactStore
	config ConsolidationConfig
}

// NewConsolidator creates a Consolidator over the given store. Zero-valued
// config fields are replaced with defaults.
func NewConsolidator(store storage.FactStore, config ConsolidationConfig) *Consolidator {
	defaults := DefaultConsolidationConfig()
	if config.ShortTermHours <= 0 {
		config.ShortTermHours = defaults.ShortTermHours
	}
	if config.WorkingHours <= 0 {
		config.WorkingHours = defaults.WorkingHours
	}
	if config.WorkingAccessThreshold <= 0 {
		config.WorkingAccessThreshold = defaults.WorkingAccessThreshold
	}
	if config.LongTermAccessThreshold <= 0 {
		config.LongTermAccessThreshold = defaults.LongTermAccessThreshold
	}
	return &Consolidator{store: store, config: config}
}

// DetermineStage computes the stage a fact belongs in right now. This is a
// pure re-classification with no memory of the previously stored stage, so
// the result can rank lower than what is stored; callers must treat that as
// a relabeling, not a guaranteed one-way transition.
func (c *Consolidator) DetermineStage(fact *types.Fact, now time.Time) types.MemoryStage {
	ageHours := fact.Age(now).Hours()

	if ageHours >= c.config.WorkingHours && fact.AccessCount >= c.config.LongTermAccessThreshold {
		return types.StageLongTerm
	}
	if ageHours >= c.config.ShortTermHours || fact.AccessCount >= c.config.WorkingAccessThreshold {
		return types.StageWorking
	}
	return types.StageShortTerm
}

// Consolidate sweeps all valid facts for a principal, re-labeling any whose
// computed stage differs from the stored one. Demotions are applied but
// flagged in the log: a lowered stage usually signals a counter or clock
// artifact upstream rather than an intended regression.
func (c *Consolidator) Consolidate(ctx context.Context, principal string) (*ConsolidationResult, error) {
	facts, err := c.store.GetFacts(ctx, principal, storage.FactFilter{ValidOnly: true})
	if err != nil {
		return nil, fmt.Errorf("consolidation: failed to fetch facts: %w", err)
	}

	now := time.Now()
	result := &ConsolidationResult{Scanned: len(facts)}

	for _, fact := range facts {
		stage := c.DetermineStage(fact, now)
		if stage == fact.MemoryStage {
			result.Unchanged++
			continue
		}

		if types.StageRank(stage) > types.StageRank(fact.MemoryStage) {
			result.Promoted++
		} else {
			result.Demoted++
			log.Printf("WARNING: consolidation: fact %s demoted %s -> %s (access=%d)",
				fact.ID, fact.MemoryStage, stage, fact.AccessCount)
		}

		if err := c.store.UpdateFact(ctx, fact.ID, storage.FactUpdate{MemoryStage: &stage}); err != nil {
			return result, fmt.Errorf("consolidation: failed to update stage for %s: %w", fact.ID, err)
		}
	}

	return result, nil
}

// PruneShortTerm permanently soft-deletes short-term facts older than
// maxAgeHours that were never accessed. This is a distinct, irreversible
// cleanup step, separate from stage reclassification.
func (c *Consolidator) PruneShortTerm(ctx context.Context, principal string, maxAgeHours float64) (int, error) {
	facts, err := c.store.GetFacts(ctx, principal, storage.FactFilter{ValidOnly: true})
	if err != nil {
		return 0, fmt.Errorf("consolidation: failed to fetch facts: %w", err)
	}

	now := time.Now()
	pruned := 0

	for _, fact := range facts {
		if fact.MemoryStage != types.StageShortTerm {
			continue
		}
		if fact.AccessCount > 0 {
			continue
		}
		if fact.Age(now).Hours() <= maxAgeHours {
			continue
		}
		if fact.IsSafetyCritical() {
			continue
		}

		if err := c.store.DeleteFact(ctx, fact.ID, "short-term expiry"); err != nil {
			return pruned, fmt.Errorf("consolidation: failed to prune %s: %w", fact.ID, err)
		}
		pruned++
	}

	return pruned, nil
}
