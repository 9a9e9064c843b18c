package storage

import (
	"errors"
	"time"

	"github.com/keepsake-ai/keepsake/pkg/types"
)

var (
	// ErrNotFound indicates that the requested fact or session was not found.
	// Callers must check with errors.Is and handle absence explicitly.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// FactFilter narrows a GetFacts query. Zero values mean "no constraint".
type FactFilter struct {
	// Subject filters to facts about a specific subject.
	Subject string

	// Predicate filters to a single (normalized) predicate.
	Predicate string

	// Predicates filters to any of the given (normalized) predicates.
	// Ignored when Predicate is set.
	Predicates []string

	// ValidOnly excludes invalidated facts when true.
	ValidOnly bool

	// SortBy selects the ordering field ("created_at", "updated_at",
	// "access_count", "importance"). Defaults to "updated_at".
	SortBy string

	// SortOrder is "asc" or "desc". Defaults to "desc".
	SortOrder string

	// Limit caps the number of returned facts. Zero means no cap.
	Limit int
}

// Normalize applies defaults and whitelists the sort field so filters can be
// interpolated safely into SQL ORDER BY clauses.
func (f *FactFilter) Normalize() {
	allowedSortFields := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"access_count": true,
		"importance":   true,
		"confidence":   true,
	}

	if !allowedSortFields[f.SortBy] {
		f.SortBy = "updated_at"
	}

	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		f.SortOrder = "desc"
	}

	if f.Limit < 0 {
		f.Limit = 0
	}
}

// FactUpdate is a partial update for UpdateFact. Nil fields are left
// untouched.
type FactUpdate struct {
	Object        *string
	Confidence    *float64
	Importance    *int
	MemoryStage   *types.MemoryStage
	InvalidatedAt *time.Time
	InvalidReason *string
	UpdatedAt     *time.Time
}

// Empty reports whether the update would change nothing.
func (u *FactUpdate) Empty() bool {
	return u.Object == nil && u.Confidence == nil && u.Importance == nil &&
		u.MemoryStage == nil && u.InvalidatedAt == nil && u.InvalidReason == nil &&
		u.UpdatedAt == nil
}
