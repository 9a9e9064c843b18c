package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-ai/keepsake/internal/engine"
	"github.com/keepsake-ai/keepsake/internal/llm"
	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/internal/storage/memory"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// fakeProposer returns queued results in order, then empty results.
type fakeProposer struct {
	mu      sync.Mutex
	results []llm.ProposalResult
	errs    []error
	calls   int
}

func (f *fakeProposer) Propose(ctx context.Context, prompt string) (llm.ProposalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.ProposalResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return llm.ProposalResult{}, nil
}

func (f *fakeProposer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPipeline(t *testing.T, store storage.FactStore, proposer llm.OperationProposer) *engine.ExtractionPipeline {
	t.Helper()

	p, err := engine.NewExtractionPipeline(store, engine.NewConflictResolver(types.StrategyLatest),
		proposer, engine.DefaultPipelineConfig())
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func drain(t *testing.T, p *engine.ExtractionPipeline) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
}

func testExchange(userText string) *types.Exchange {
	return &types.Exchange{
		ID:        types.GenerateExchangeID(),
		SessionID: types.GenerateSessionID(),
		Principal: "alice",
		UserText:  userText,
		CreatedAt: time.Now(),
	}
}

func TestPipeline_InsertsProposedFacts(t *testing.T) {
	store := memory.NewFactStore()
	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Subject: "user", Predicate: "name", Object: "Ada", Confidence: 0.95, Importance: 7},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("My name is Ada")))
	drain(t, p)

	facts, err := store.GetFacts(context.Background(), "alice", storage.FactFilter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, facts, 1)

	assert.Equal(t, "NAME", facts[0].Predicate, "predicate must be normalized")
	assert.Equal(t, "Ada", facts[0].Object)
	assert.Equal(t, 0.95, facts[0].Confidence)
	assert.Equal(t, types.StageShortTerm, facts[0].MemoryStage)
	assert.NotEmpty(t, facts[0].Source, "source must carry the session id")
}

func TestPipeline_ClampsAndEscalates(t *testing.T) {
	store := memory.NewFactStore()
	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Subject: "user", Predicate: "food allergy", Object: "peanuts", Confidence: 1.7, Importance: 2},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("I'm allergic to peanuts")))
	drain(t, p)

	facts, err := store.GetFacts(context.Background(), "alice", storage.FactFilter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, facts, 1)

	assert.Equal(t, "FOOD_ALLERGY", facts[0].Predicate)
	assert.Equal(t, 1.0, facts[0].Confidence, "confidence must be clamped to 1.0")
	assert.Equal(t, 9, facts[0].Importance, "safety predicates escalate to the importance floor")
}

func TestPipeline_DropsMalformedAndLowConfidence(t *testing.T) {
	store := memory.NewFactStore()
	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Predicate: "NAME", Object: "Ada", Confidence: 0.9},            // no subject
			{Op: "INSERT", Subject: "user", Predicate: "CITY", Object: "Oslo", Confidence: 0.3}, // below threshold
			{Op: "TRANSMOGRIFY", Subject: "user", Predicate: "NAME", Object: "Ada"},      // unknown kind
			{Op: "INSERT", Subject: "user", Predicate: "JOB", Object: "engineer", Confidence: 0.9},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("hello")))
	drain(t, p)

	facts, err := store.GetFacts(context.Background(), "alice", storage.FactFilter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, facts, 1, "only the well-formed confident operation survives")
	assert.Equal(t, "JOB", facts[0].Predicate)
}

func TestPipeline_ReplacesConflictingFact(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	existing := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "FAVORITE_COLOR", Object: "red",
		Confidence: 0.9, Importance: 4,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageWorking,
	}
	require.NoError(t, store.UpsertFact(ctx, existing))

	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Subject: "user", Predicate: "FAVORITE_COLOR", Object: "blue", Confidence: 0.9, Importance: 4},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("my favorite color is blue now")))
	drain(t, p)

	valid, err := store.GetFacts(ctx, "alice", storage.FactFilter{ValidOnly: true})
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "blue", valid[0].Object)

	all, err := store.GetFacts(ctx, "alice", storage.FactFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2, "the replaced fact stays as history")
	for _, f := range all {
		if f.Object == "red" {
			assert.False(t, f.IsValid())
			assert.Contains(t, f.InvalidReason, "replaced by new value: blue")
		}
	}
}

func TestPipeline_DeleteInvalidatesFact(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	existing := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "CITY", Object: "Oslo",
		Confidence: 0.9, Importance: 4,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageWorking,
	}
	require.NoError(t, store.UpsertFact(ctx, existing))

	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "DELETE", Subject: "user", Predicate: "CITY", Reason: "user moved away"},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("I don't live in Oslo anymore")))
	drain(t, p)

	got, err := store.GetFactByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.False(t, got.IsValid())
	assert.Equal(t, "user moved away", got.InvalidReason)
}

func TestPipeline_SafetyFactsSurviveLookbackWindow(t *testing.T) {
	store := memory.NewFactStore()
	ctx := context.Background()

	allergy := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "PEANUT_ALLERGY", Object: "severe",
		Confidence: 0.95, Importance: 9,
		CreatedAt: time.Now().Add(-48 * time.Hour), UpdatedAt: time.Now().Add(-48 * time.Hour),
		MemoryStage: types.StageLongTerm,
	}
	require.NoError(t, store.UpsertFact(ctx, allergy))
	newer := &types.Fact{
		ID: types.GenerateFactID(), Principal: "alice",
		Subject: "user", Predicate: "FAVORITE_COLOR", Object: "blue",
		Confidence: 0.9, Importance: 4,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
		MemoryStage: types.StageShortTerm,
	}
	require.NoError(t, store.UpsertFact(ctx, newer))

	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Subject: "user", Predicate: "PEANUT_ALLERGY", Object: "mild", Confidence: 0.9, Importance: 9},
		},
	}}}

	// A lookback window of one holds only the newer fact; the allergy must
	// still reach resolution so the new value replaces it instead of
	// coexisting with it.
	cfg := engine.DefaultPipelineConfig()
	cfg.LookbackLimit = 1
	p, err := engine.NewExtractionPipeline(store, engine.NewConflictResolver(types.StrategyLatest), proposer, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	require.True(t, p.Enqueue("alice", testExchange("the allergy turned out mild")))
	drain(t, p)

	valid, err := store.GetFacts(ctx, "alice", storage.FactFilter{
		Subject: "user", Predicate: "PEANUT_ALLERGY", ValidOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, valid, 1, "the stale allergy fact must be replaced, not duplicated")
	assert.Equal(t, "mild", valid[0].Object)

	old, err := store.GetFactByID(ctx, allergy.ID)
	require.NoError(t, err)
	assert.False(t, old.IsValid())
}

func TestPipeline_TaskErrorDoesNotStopConsumer(t *testing.T) {
	store := memory.NewFactStore()
	proposer := &fakeProposer{
		errs: []error{errors.New("model unavailable"), nil},
		results: []llm.ProposalResult{
			{},
			{Operations: []llm.RawOperation{
				{Op: "INSERT", Subject: "user", Predicate: "NAME", Object: "Ada", Confidence: 0.9},
			}},
		},
	}
	p := newTestPipeline(t, store, proposer)

	require.True(t, p.Enqueue("alice", testExchange("first")))
	require.True(t, p.Enqueue("alice", testExchange("second")))
	drain(t, p)

	assert.Equal(t, 2, proposer.callCount())

	facts, err := store.GetFacts(context.Background(), "alice", storage.FactFilter{ValidOnly: true})
	require.NoError(t, err)
	assert.Len(t, facts, 1, "the second task must still be processed")
}

func TestPipeline_EnqueueBeforeStartFails(t *testing.T) {
	p, err := engine.NewExtractionPipeline(memory.NewFactStore(),
		engine.NewConflictResolver(types.StrategyLatest), &fakeProposer{}, engine.DefaultPipelineConfig())
	require.NoError(t, err)

	assert.False(t, p.Enqueue("alice", testExchange("hello")))
}

func TestPipeline_OnFactsChangedFires(t *testing.T) {
	store := memory.NewFactStore()
	proposer := &fakeProposer{results: []llm.ProposalResult{{
		Operations: []llm.RawOperation{
			{Op: "INSERT", Subject: "user", Predicate: "NAME", Object: "Ada", Confidence: 0.9},
		},
	}}}
	p := newTestPipeline(t, store, proposer)

	var mu sync.Mutex
	var changed []string
	p.SetOnFactsChanged(func(principal string) {
		mu.Lock()
		changed = append(changed, principal)
		mu.Unlock()
	})

	require.True(t, p.Enqueue("alice", testExchange("My name is Ada")))
	drain(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"alice"}, changed)
}

func TestPipeline_DrainOnEmptyQueueReturnsImmediately(t *testing.T) {
	p := newTestPipeline(t, memory.NewFactStore(), &fakeProposer{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Drain(ctx))
}

// blockingProposer holds every Propose call until released.
type blockingProposer struct {
	release chan struct{}
}

func (b *blockingProposer) Propose(ctx context.Context, prompt string) (llm.ProposalResult, error) {
	<-b.release
	return llm.ProposalResult{}, nil
}

func TestPipeline_DrainReturnsOnCancellation(t *testing.T) {
	proposer := &blockingProposer{release: make(chan struct{})}
	p := newTestPipeline(t, memory.NewFactStore(), proposer)

	require.True(t, p.Enqueue("alice", testExchange("stuck")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded,
		"drain must give up when its context fires, not wait for the task")

	close(proposer.release)
	drain(t, p)
}

func TestPipeline_ConcurrentEnqueueDuringShutdown(t *testing.T) {
	p, err := engine.NewExtractionPipeline(memory.NewFactStore(),
		engine.NewConflictResolver(types.StrategyLatest), &fakeProposer{}, engine.DefaultPipelineConfig())
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.Enqueue("alice", testExchange("race"))
			}
		}()
	}

	// Closing the queue while producers are mid-Enqueue must never panic;
	// late enqueues are simply refused.
	require.NoError(t, p.Shutdown(context.Background()))
	wg.Wait()

	assert.False(t, p.Enqueue("alice", testExchange("after shutdown")))
}
