package types

import "strings"

// OpKind is the kind of a proposed mutation. Modeled as an enum so the
// ConflictResolver can switch exhaustively instead of comparing strings.
type OpKind int

const (
	// OpInsert proposes a new fact.
	OpInsert OpKind = iota

	// OpUpdate proposes changing an existing fact's object or metadata.
	OpUpdate

	// OpDelete proposes invalidating an existing fact.
	OpDelete
)

// String returns the wire name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseOpKind maps a wire string to an OpKind. The second return value is
// false for unrecognized kinds; such operations are dropped by validation.
func ParseOpKind(s string) (OpKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT", "ADD", "CREATE":
		return OpInsert, true
	case "UPDATE", "MODIFY":
		return OpUpdate, true
	case "DELETE", "REMOVE", "INVALIDATE":
		return OpDelete, true
	default:
		return 0, false
	}
}

// Operation is a proposed mutation produced by the extraction collaborator.
// Operations are ephemeral: validated, resolved against current facts, and
// applied to storage; they are never persisted as-is.
type Operation struct {
	Kind       OpKind  `json:"op"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence,omitempty"`
	Importance int     `json:"importance,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// IsMalformed reports whether the operation is missing required content.
// DELETE operations do not require an object.
func (o *Operation) IsMalformed() bool {
	if o.Subject == "" || o.Predicate == "" {
		return true
	}
	if o.Kind != OpDelete && o.Object == "" {
		return true
	}
	return false
}

// ResolutionKind categorizes how a conflict between an existing fact and a
// proposed operation was resolved.
type ResolutionKind string

const (
	// ResolutionReplace indicates the existing fact was invalidated in favor
	// of the proposed value.
	ResolutionReplace ResolutionKind = "replace"

	// ResolutionKeepBoth indicates both facts remain valid (multi-valued
	// predicate).
	ResolutionKeepBoth ResolutionKind = "keep_both"

	// ResolutionMerge indicates the values were merged. Currently behaves
	// like replace.
	ResolutionMerge ResolutionKind = "merge"

	// ResolutionIgnore indicates the proposed operation was dropped because
	// it matched the existing value exactly.
	ResolutionIgnore ResolutionKind = "ignore"
)

// ResolutionRecord captures one conflict decision for auditing. Records are
// observational only: correctness does not depend on them, but a given input
// must always reproduce the same records.
type ResolutionRecord struct {
	Existing *Fact          `json:"existing"`
	Proposed Operation      `json:"proposed"`
	Kind     ResolutionKind `json:"kind"`
}

// ConflictStrategy selects how the resolver handles a differing value for an
// existing (subject, predicate) pair.
type ConflictStrategy string

const (
	// StrategyLatest invalidates the existing fact and inserts the new value.
	StrategyLatest ConflictStrategy = "latest"

	// StrategyKeepBoth keeps the existing fact valid alongside the new one.
	// Only legal for multi-valued predicates.
	StrategyKeepBoth ConflictStrategy = "keep_both"

	// StrategyMerge is a placeholder for value combination; behaves like
	// StrategyLatest.
	StrategyMerge ConflictStrategy = "merge"
)
