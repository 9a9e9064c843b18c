package engine

import (
	"fmt"

	"github.com/keepsake-ai/keepsake/pkg/types"
)

// ConflictResolver decides which proposed operations to apply against the
// current valid facts for a subject, enforcing the single-valid-fact
// invariant per (subject, predicate) pair.
//
// Resolution is deterministic: the same operations against the same facts
// always produce the same applied list and resolution records.
type ConflictResolver struct {
	strategy types.ConflictStrategy
}

// NewConflictResolver creates a resolver with the given default strategy.
// An empty strategy selects latest-wins.
func NewConflictResolver(strategy types.ConflictStrategy) *ConflictResolver {
	if strategy == "" {
		strategy = types.StrategyLatest
	}
	return &ConflictResolver{strategy: strategy}
}

// Resolve processes operations in order and returns the operations to apply
// plus one resolution record per conflict encountered.
//
// DELETE operations pass through unchanged: removal never conflicts. For
// INSERT/UPDATE, an existing valid fact with the same (subject, predicate)
// triggers resolution: an identical object drops the operation outright; a
// differing object applies the strategy, emitting the invalidating DELETE
// before its replacement INSERT so the invariant never breaks mid-batch.
func (r *ConflictResolver) Resolve(principal string, operations []types.Operation, current []*types.Fact) ([]types.Operation, []types.ResolutionRecord) {
	// Index current valid facts by (subject, predicate). Multi-valued
	// predicates keep every valid fact under the key so the identical-object
	// check sees all of them, not an arbitrary one.
	index := make(map[string][]*types.Fact, len(current))
	for _, fact := range current {
		if !fact.IsValid() {
			continue
		}
		key := tripleKey(fact.Subject, fact.Predicate)
		index[key] = append(index[key], fact)
	}

	var applied []types.Operation
	var records []types.ResolutionRecord

	for _, op := range operations {
		switch op.Kind {
		case types.OpDelete:
			applied = append(applied, op)

		case types.OpInsert, types.OpUpdate:
			existing := index[tripleKey(op.Subject, op.Predicate)]
			if len(existing) == 0 {
				insert := op
				insert.Kind = types.OpInsert
				applied = append(applied, insert)
				continue
			}

			if dup := exactObjectMatch(existing, op.Object); dup != nil {
				// Exact match against any current value: redundant write,
				// drop it. This also avoids resetting the existing fact's
				// reinforcement signal.
				records = append(records, types.ResolutionRecord{
					Existing: dup,
					Proposed: op,
					Kind:     types.ResolutionIgnore,
				})
				continue
			}

			resolved, record := r.resolveConflict(existing[len(existing)-1], op)
			applied = append(applied, resolved...)
			records = append(records, record)
		}
	}

	return applied, records
}

// resolveConflict applies the strategy for one differing-value conflict.
func (r *ConflictResolver) resolveConflict(existing *types.Fact, op types.Operation) ([]types.Operation, types.ResolutionRecord) {
	strategy := r.strategy

	// keep_both is only legal for multi-valued predicates; everything else
	// would break the single-valid-fact invariant. The resolver, not the
	// caller, owns this check.
	if types.IsMultiValuedPredicate(op.Predicate) {
		strategy = types.StrategyKeepBoth
	} else if strategy == types.StrategyKeepBoth {
		strategy = types.StrategyLatest
	}

	insert := op
	insert.Kind = types.OpInsert

	switch strategy {
	case types.StrategyKeepBoth:
		return []types.Operation{insert}, types.ResolutionRecord{
			Existing: existing,
			Proposed: op,
			Kind:     types.ResolutionKeepBoth,
		}

	case types.StrategyMerge:
		// Merge currently behaves like latest; the record kind preserves the
		// intent for when value combination lands.
		ops := replaceOps(existing, insert)
		return ops, types.ResolutionRecord{
			Existing: existing,
			Proposed: op,
			Kind:     types.ResolutionMerge,
		}

	default: // StrategyLatest
		ops := replaceOps(existing, insert)
		return ops, types.ResolutionRecord{
			Existing: existing,
			Proposed: op,
			Kind:     types.ResolutionReplace,
		}
	}
}

// replaceOps emits the invalidating DELETE for the existing fact followed by
// the INSERT of the new value. Order matters: storage must apply the DELETE
// first.
func replaceOps(existing *types.Fact, insert types.Operation) []types.Operation {
	del := types.Operation{
		Kind:      types.OpDelete,
		Subject:   existing.Subject,
		Predicate: existing.Predicate,
		Object:    existing.Object,
		Reason:    fmt.Sprintf("replaced by new value: %s", insert.Object),
	}
	return []types.Operation{del, insert}
}

// exactObjectMatch returns the first fact whose object equals the proposed
// value, or nil. Comparison is case-sensitive byte equality.
func exactObjectMatch(facts []*types.Fact, object string) *types.Fact {
	for _, f := range facts {
		if f.Object == object {
			return f
		}
	}
	return nil
}

func tripleKey(subject, predicate string) string {
	return subject + "\x00" + predicate
}
