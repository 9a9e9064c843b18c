// Package types defines the core data structures for the Keepsake fact store.
// These types represent facts (subject–predicate–object triples), the proposed
// operations that mutate them, and the sessions they originate from.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryStage represents a fact's consolidation level.
type MemoryStage string

// Memory stage constants, ordered short-term < working < long-term.
const (
	// StageShortTerm indicates a recently created, rarely accessed fact.
	StageShortTerm MemoryStage = "short_term"

	// StageWorking indicates a fact old or accessed enough to matter.
	StageWorking MemoryStage = "working"

	// StageLongTerm indicates an established, frequently confirmed fact.
	StageLongTerm MemoryStage = "long_term"
)

// StageRank returns the ordinal rank of a stage for promotion/demotion
// comparisons. Unknown stages rank as short-term.
func StageRank(s MemoryStage) int {
	switch s {
	case StageLongTerm:
		return 2
	case StageWorking:
		return 1
	default:
		return 0
	}
}

// Fact is the central entity of the system: a timestamped subject–predicate–
// object triple with quality metadata and lifecycle tracking.
//
// At most one fact with InvalidatedAt == nil may exist per (subject,
// predicate) pair unless the predicate is multi-valued. The ConflictResolver
// enforces this at write time.
type Fact struct {
	// Core identification
	ID        string `json:"id"`        // Unique identifier (format: fact:<uuid>)
	Principal string `json:"principal"` // Owning principal (user) id

	// Content
	Subject   string `json:"subject"`   // Who/what the fact is about
	Predicate string `json:"predicate"` // Normalized UPPER_SNAKE relation token
	Object    string `json:"object"`    // The value

	// Quality signals
	Confidence float64 `json:"confidence"` // Extraction confidence (0.0-1.0)
	Importance int     `json:"importance"` // 1-10; >= 9 reserved for safety-critical facts

	// Lifecycle
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	InvalidatedAt *time.Time  `json:"invalidated_at,omitempty"` // nil while the fact is valid
	InvalidReason string      `json:"invalid_reason,omitempty"` // Why the fact was invalidated
	MemoryStage   MemoryStage `json:"memory_stage"`

	// Reinforcement signal
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Provenance
	Source string `json:"source,omitempty"` // Originating session id
}

// SafetyImportanceFloor is the importance value at and above which a fact is
// treated as safety-critical: never auto-decayed and never excluded from
// bounded retrieval.
const SafetyImportanceFloor = 9

// GenerateFactID returns a new unique fact identifier.
func GenerateFactID() string {
	return fmt.Sprintf("fact:%s", uuid.NewString())
}

// IsValid reports whether the fact is currently valid (not invalidated).
func (f *Fact) IsValid() bool {
	return f.InvalidatedAt == nil
}

// IsSafetyCritical reports whether the fact sits at or above the safety
// importance floor.
func (f *Fact) IsSafetyCritical() bool {
	return f.Importance >= SafetyImportanceFloor
}

// Age returns how long the fact has existed at the given instant.
// Negative ages (clock skew) are clamped to zero.
func (f *Fact) Age(now time.Time) time.Duration {
	age := now.Sub(f.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// ReinforcementRef returns the reference timestamp for decay calculation.
// It prefers LastAccessedAt and falls back to CreatedAt.
func (f *Fact) ReinforcementRef() time.Time {
	if f.LastAccessedAt != nil && !f.LastAccessedAt.IsZero() {
		return *f.LastAccessedAt
	}
	return f.CreatedAt
}

// Invalidate soft-deletes the fact at the given instant with a reason.
func (f *Fact) Invalidate(now time.Time, reason string) {
	f.InvalidatedAt = &now
	f.InvalidReason = reason
	f.UpdatedAt = now
}
