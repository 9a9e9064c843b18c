// Package engine provides the fact consistency core: write-time conflict
// resolution, time-based decay, stage consolidation, and the extraction
// pipeline that orchestrates them.
package engine

import (
	"math"
	"time"

	"github.com/keepsake-ai/keepsake/pkg/types"
)

// DecayConfig holds the tunables for relevance decay.
type DecayConfig struct {
	// EphemeralTTLHours is the decay window for ephemeral predicates (default: 24).
	EphemeralTTLHours float64

	// ShortTTLHours is the decay window for regular facts below the
	// confidence threshold (default: 72).
	ShortTTLHours float64

	// LongTTLHours is the decay window for regular facts at or above the
	// confidence threshold (default: 720).
	LongTTLHours float64

	// ConfidenceThreshold splits regular facts between the short and long
	// decay windows (default: 0.7).
	ConfidenceThreshold float64

	// ReinforcementThreshold is the access count at which a fact becomes
	// effectively permanent (default: 3).
	ReinforcementThreshold int
}

// DefaultDecayConfig returns a DecayConfig with the standard windows.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		EphemeralTTLHours:      24,
		ShortTTLHours:          72,
		LongTTLHours:           720,
		ConfidenceThreshold:    0.7,
		ReinforcementThreshold: 3,
	}
}

// DecayEngine computes relevance weights and expiry for facts. All methods
// are pure: pruning application is a separate, explicit step performed by
// callers.
type DecayEngine struct {
	config DecayConfig
}

// NewDecayEngine returns a DecayEngine with the given configuration.
// Zero-valued fields are replaced with defaults.
func NewDecayEngine(config DecayConfig) *DecayEngine {
	defaults := DefaultDecayConfig()
	if config.EphemeralTTLHours <= 0 {
		config.EphemeralTTLHours = defaults.EphemeralTTLHours
	}
	if config.ShortTTLHours <= 0 {
		config.ShortTTLHours = defaults.ShortTTLHours
	}
	if config.LongTTLHours <= 0 {
		config.LongTTLHours = defaults.LongTTLHours
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if config.ReinforcementThreshold <= 0 {
		config.ReinforcementThreshold = defaults.ReinforcementThreshold
	}
	return &DecayEngine{config: config}
}

// Weight returns the fact's current relevance weight in [0.0, 1.0].
//
// Permanent predicates and facts reinforced past the threshold always weigh
// 1.0. Everything else falls off linearly over its TTL window, measured from
// the last reinforcement; regular facts additionally earn a small boost per
// reinforcement, capped at +0.5.
func (d *DecayEngine) Weight(fact *types.Fact, now time.Time) float64 {
	if types.IsPermanentPredicate(fact.Predicate) {
		return 1.0
	}
	if fact.AccessCount >= d.config.ReinforcementThreshold {
		return 1.0
	}

	ageHours := now.Sub(fact.ReinforcementRef()).Hours()
	if ageHours < 0 {
		ageHours = 0
	}

	ttl := d.ttlHours(fact)
	weight := math.Max(0, 1-ageHours/ttl)

	if !types.IsEphemeralPredicate(fact.Predicate) {
		weight += math.Min(0.5, float64(fact.AccessCount)*0.1)
	}

	return math.Min(weight, 1.0)
}

// Expiry returns the instant the fact's weight reaches zero, or nil for
// facts that never expire (permanent predicates, reinforced facts).
func (d *DecayEngine) Expiry(fact *types.Fact) *time.Time {
	if types.IsPermanentPredicate(fact.Predicate) {
		return nil
	}
	if fact.AccessCount >= d.config.ReinforcementThreshold {
		return nil
	}

	expiry := fact.ReinforcementRef().Add(time.Duration(d.ttlHours(fact) * float64(time.Hour)))
	return &expiry
}

// ShouldPrune reports whether the fact is eligible for soft-delete: its
// weight has decayed to zero or its expiry has passed. Permanent predicates
// and safety-critical facts (importance >= 9) are never prunable.
func (d *DecayEngine) ShouldPrune(fact *types.Fact, now time.Time) bool {
	if types.IsPermanentPredicate(fact.Predicate) {
		return false
	}
	if fact.IsSafetyCritical() {
		return false
	}

	if d.Weight(fact, now) <= 0 {
		return true
	}

	expiry := d.Expiry(fact)
	return expiry != nil && !expiry.After(now)
}

// ttlHours selects the decay window for a non-permanent fact.
func (d *DecayEngine) ttlHours(fact *types.Fact) float64 {
	if types.IsEphemeralPredicate(fact.Predicate) {
		return d.config.EphemeralTTLHours
	}
	if fact.Confidence < d.config.ConfidenceThreshold {
		return d.config.ShortTTLHours
	}
	return d.config.LongTTLHours
}
