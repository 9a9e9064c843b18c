package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-ai/keepsake/internal/engine"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

func validFact(subject, predicate, object string) *types.Fact {
	return &types.Fact{
		ID:        types.GenerateFactID(),
		Principal: "alice",
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestResolve_NoExistingFact_PassesThroughAsInsert(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)

	ops := []types.Operation{
		{Kind: types.OpUpdate, Subject: "user", Predicate: "NAME", Object: "Ada"},
	}

	applied, records := r.Resolve("alice", ops, nil)
	require.Len(t, applied, 1)
	assert.Equal(t, types.OpInsert, applied[0].Kind,
		"an update with no target must become an insert")
	assert.Empty(t, records)
}

func TestResolve_ExactMatch_DroppedWithIgnoreRecord(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	existing := validFact("user", "NAME", "Ada")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "NAME", Object: "Ada"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	assert.Empty(t, applied, "identical value must not produce a write")
	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionIgnore, records[0].Kind)
	assert.Same(t, existing, records[0].Existing)
}

func TestResolve_LatestWins_DeleteBeforeInsert(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	existing := validFact("user", "FAVORITE_COLOR", "red")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "FAVORITE_COLOR", Object: "blue"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	require.Len(t, applied, 2)

	assert.Equal(t, types.OpDelete, applied[0].Kind, "invalidating delete must come first")
	assert.Equal(t, "red", applied[0].Object)
	assert.Equal(t, "replaced by new value: blue", applied[0].Reason)

	assert.Equal(t, types.OpInsert, applied[1].Kind)
	assert.Equal(t, "blue", applied[1].Object)

	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionReplace, records[0].Kind)
}

func TestResolve_MultiValuedPredicate_KeepsBoth(t *testing.T) {
	// Even under latest-wins, multi-valued predicates accumulate.
	r := engine.NewConflictResolver(types.StrategyLatest)
	existing := validFact("user", "HOBBY", "chess")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "HOBBY", Object: "painting"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	require.Len(t, applied, 1)
	assert.Equal(t, types.OpInsert, applied[0].Kind)
	assert.Equal(t, "painting", applied[0].Object)

	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionKeepBoth, records[0].Kind)
}

func TestResolve_MultiValuedDuplicate_Ignored(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	chess := validFact("user", "HOBBY", "chess")
	golf := validFact("user", "HOBBY", "golf")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "HOBBY", Object: "chess"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{chess, golf})
	assert.Empty(t, applied, "re-inserting an already-held value must be a no-op")
	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionIgnore, records[0].Kind)
	assert.Same(t, chess, records[0].Existing)

	// The same against the other held value, regardless of index order.
	ops[0].Object = "golf"
	applied, records = r.Resolve("alice", ops, []*types.Fact{chess, golf})
	assert.Empty(t, applied)
	require.Len(t, records, 1)
	assert.Same(t, golf, records[0].Existing)
}

func TestResolve_KeepBothOnSingleValued_DemotedToLatest(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyKeepBoth)
	existing := validFact("user", "NAME", "Ada")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "NAME", Object: "Grace"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	require.Len(t, applied, 2, "single-valued keep_both must fall back to replace")
	assert.Equal(t, types.OpDelete, applied[0].Kind)
	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionReplace, records[0].Kind)
}

func TestResolve_MergeStrategy_BehavesLikeLatest(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyMerge)
	existing := validFact("user", "JOB", "teacher")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "JOB", Object: "professor"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	require.Len(t, applied, 2)
	assert.Equal(t, types.OpDelete, applied[0].Kind)
	assert.Equal(t, types.OpInsert, applied[1].Kind)
	require.Len(t, records, 1)
	assert.Equal(t, types.ResolutionMerge, records[0].Kind)
}

func TestResolve_DeletePassesThrough(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	existing := validFact("user", "NAME", "Ada")

	ops := []types.Operation{
		{Kind: types.OpDelete, Subject: "user", Predicate: "NAME", Reason: "user retracted"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{existing})
	require.Len(t, applied, 1)
	assert.Equal(t, types.OpDelete, applied[0].Kind)
	assert.Equal(t, "user retracted", applied[0].Reason)
	assert.Empty(t, records)
}

func TestResolve_InvalidatedFactsIgnored(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	invalidated := validFact("user", "NAME", "Ada")
	invalidated.Invalidate(time.Now(), "old")

	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "NAME", Object: "Grace"},
	}

	applied, records := r.Resolve("alice", ops, []*types.Fact{invalidated})
	require.Len(t, applied, 1, "invalidated facts must not conflict")
	assert.Equal(t, types.OpInsert, applied[0].Kind)
	assert.Empty(t, records)
}

func TestResolve_Deterministic(t *testing.T) {
	r := engine.NewConflictResolver(types.StrategyLatest)
	current := []*types.Fact{
		validFact("user", "NAME", "Ada"),
		validFact("user", "HOBBY", "chess"),
	}
	ops := []types.Operation{
		{Kind: types.OpInsert, Subject: "user", Predicate: "NAME", Object: "Grace"},
		{Kind: types.OpInsert, Subject: "user", Predicate: "HOBBY", Object: "painting"},
		{Kind: types.OpInsert, Subject: "user", Predicate: "CITY", Object: "Paris"},
	}

	applied1, records1 := r.Resolve("alice", ops, current)
	applied2, records2 := r.Resolve("alice", ops, current)

	assert.Equal(t, applied1, applied2, "resolution must be deterministic")
	assert.Equal(t, records1, records2)
}
