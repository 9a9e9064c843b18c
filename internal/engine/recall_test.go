package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-ai/keepsake/internal/cache"
	"github.com/keepsake-ai/keepsake/internal/engine"
	"github.com/keepsake-ai/keepsake/internal/storage/memory"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

func seedFact(t *testing.T, store *memory.FactStore, predicate, object string) *types.Fact {
	t.Helper()

	f := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: predicate, Object: object,
		Confidence: 0.9, Importance: 5,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageShortTerm,
	}
	require.NoError(t, store.UpsertFact(context.Background(), f))
	return f
}

func TestRecall_MatchesByPredicateToken(t *testing.T) {
	store := memory.NewFactStore()
	name := seedFact(t, store, "NAME", "Ada")
	seedFact(t, store, "FAVORITE_COLOR", "blue")

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	facts, err := r.Recall(context.Background(), "alice", "What is my name?", engine.RecallOptions{})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, name.ID, facts[0].ID)
}

func TestRecall_RecordsAccess(t *testing.T) {
	store := memory.NewFactStore()
	f := seedFact(t, store, "NAME", "Ada")

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	_, err := r.Recall(context.Background(), "alice", "name", engine.RecallOptions{})
	require.NoError(t, err)

	got, err := store.GetFactByID(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount, "recall must reinforce returned facts")
	assert.NotNil(t, got.LastAccessedAt)
}

func TestRecall_CacheHitSkipsStore(t *testing.T) {
	store := memory.NewFactStore()
	f := seedFact(t, store, "NAME", "Ada")

	queryCache := cache.New(cache.DefaultConfig())
	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), queryCache)
	ctx := context.Background()

	first, err := r.Recall(ctx, "alice", "What is my name?", engine.RecallOptions{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second recall is served from cache: no further access recorded.
	second, err := r.Recall(ctx, "alice", "what is my name", engine.RecallOptions{})
	require.NoError(t, err)
	require.Len(t, second, 1)

	got, err := store.GetFactByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount, "cached recall must not re-reinforce")
}

func TestRecall_DecayedFactsRankLower(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	fresh := seedFact(t, store, "LIKES", "hiking trails")
	stale := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "LIKES", Object: "hiking boots",
		Confidence: 0.9, Importance: 5,
		CreatedAt: time.Now().Add(-600 * time.Hour), UpdatedAt: time.Now(),
		MemoryStage: types.StageWorking,
	}
	require.NoError(t, store.UpsertFact(ctx, stale))

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	facts, err := r.Recall(ctx, "alice", "hiking", engine.RecallOptions{})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, fresh.ID, facts[0].ID, "fresher fact must rank first")
}

func TestRecall_SafetyFactsAlwaysIncluded(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	color := seedFact(t, store, "FAVORITE_COLOR", "blue")
	allergy := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "PEANUT_ALLERGY", Object: "severe",
		Confidence: 0.95, Importance: 9,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageLongTerm,
	}
	require.NoError(t, store.UpsertFact(ctx, allergy))

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	facts, err := r.Recall(ctx, "alice", "what is my favorite color", engine.RecallOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, facts, 2, "a safety-critical fact must survive every bounded recall")
	assert.Equal(t, color.ID, facts[0].ID, "the matching fact still ranks first")
	assert.Equal(t, allergy.ID, facts[1].ID)

	// Riding along on an unrelated query is not a real recall of the fact.
	got, err := store.GetFactByID(ctx, allergy.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AccessCount)
}

func TestRecall_SafetyFactsSurviveLimitTruncation(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	for _, object := range []string{"hiking", "sailing", "painting"} {
		seedFact(t, store, "LIKES", object)
	}
	allergy := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "PEANUT_ALLERGY", Object: "severe",
		Confidence: 0.95, Importance: 9,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageLongTerm,
	}
	require.NoError(t, store.UpsertFact(ctx, allergy))

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	facts, err := r.Recall(ctx, "alice", "likes", engine.RecallOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, facts, 3, "safety facts come on top of the limit, never instead of it")

	found := false
	for _, f := range facts {
		if f.ID == allergy.ID {
			found = true
		}
	}
	assert.True(t, found, "truncation must not cut off a safety-critical fact")
}

func TestRecall_NoMatches(t *testing.T) {
	store := memory.NewFactStore()
	seedFact(t, store, "NAME", "Ada")

	r := engine.NewRecaller(store, engine.NewDecayEngine(engine.DefaultDecayConfig()), nil)

	facts, err := r.Recall(context.Background(), "alice", "quantum chromodynamics", engine.RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, facts)
}
