package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/keepsake-ai/keepsake/internal/llm"
	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// PipelineConfig holds configuration for the extraction pipeline.
type PipelineConfig struct {
	// QueueSize is the buffer size of the task queue (default: 1000).
	QueueSize int

	// MinConfidence drops proposed operations below this confidence
	// (default: 0.5).
	MinConfidence float64

	// LookbackLimit bounds how many current valid facts are fetched as
	// context for each extraction (default: 100).
	LookbackLimit int

	// ShutdownTimeout is the maximum time to wait for the consumer to drain
	// on shutdown (default: 30s).
	ShutdownTimeout time.Duration
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueSize:       1000,
		MinConfidence:   0.5,
		LookbackLimit:   100,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the config is valid.
func (c *PipelineConfig) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MinConfidence must be in [0,1], got %f", c.MinConfidence)
	}
	if c.LookbackLimit < 1 {
		return fmt.Errorf("LookbackLimit must be >= 1, got %d", c.LookbackLimit)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	return nil
}

// Task is one pending (principal, exchange) pair awaiting extraction.
type Task struct {
	Principal string
	Exchange  *types.Exchange
}

// ExtractionPipeline is the FIFO orchestrator of the fact lifecycle. One
// consumer goroutine pulls tasks in order, asks the extraction collaborator
// for proposed operations, validates and resolves them, and applies the
// result to storage. Errors on a single task are logged and never halt the
// loop — digestion is fire-and-forget from the producer's perspective.
type ExtractionPipeline struct {
	store    storage.FactStore
	resolver *ConflictResolver
	proposer llm.OperationProposer
	config   PipelineConfig

	queue      chan Task
	consumerWG sync.WaitGroup

	mu           sync.Mutex
	cond         *sync.Cond
	pending      int // queued + in-flight tasks
	started      bool
	shuttingDown bool

	onFactsChanged func(principal string)
}

// NewExtractionPipeline creates a pipeline over the given store, resolver,
// and collaborator.
func NewExtractionPipeline(store storage.FactStore, resolver *ConflictResolver, proposer llm.OperationProposer, config PipelineConfig) (*ExtractionPipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("conflict resolver is required")
	}
	if proposer == nil {
		return nil, fmt.Errorf("operation proposer is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &ExtractionPipeline{
		store:    store,
		resolver: resolver,
		proposer: proposer,
		config:   config,
		queue:    make(chan Task, config.QueueSize),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// SetOnFactsChanged sets a callback fired after a task changes a principal's
// facts. Used to invalidate the query cache for that principal.
func (p *ExtractionPipeline) SetOnFactsChanged(callback func(principal string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFactsChanged = callback
}

// Start launches the consumer goroutine. Must be called before Enqueue.
func (p *ExtractionPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	p.consumerWG.Add(1)
	go p.consume(ctx)

	p.started = true
	return nil
}

// Enqueue appends a task without blocking. Returns false when the pipeline
// is not running or the queue is full; the exchange is simply not digested
// in that case.
func (p *ExtractionPipeline) Enqueue(principal string, exchange *types.Exchange) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.shuttingDown {
		return false
	}

	// The send happens under the mutex so Shutdown cannot close the queue
	// between the state check and the send. The send never blocks, so the
	// lock is held only momentarily.
	select {
	case p.queue <- Task{Principal: principal, Exchange: exchange}:
		p.pending++
		return true
	default:
		log.Printf("WARNING: pipeline: queue full (size=%d), dropping exchange for %s",
			p.config.QueueSize, principal)
		return false
	}
}

// Drain blocks until the queue is empty and no task is in flight. Intended
// for tests and shutdown.
func (p *ExtractionPipeline) Drain(ctx context.Context) error {
	// Wake the wait loop when the context fires so cancellation is
	// observed immediately instead of at the next task completion.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err()
}

// Shutdown stops accepting tasks, closes the queue, and waits for the
// consumer to finish (bounded by ShutdownTimeout).
func (p *ExtractionPipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline not started")
	}
	p.shuttingDown = true
	// Closing under the mutex excludes any Enqueue mid-send.
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.consumerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		log.Printf("WARNING: pipeline: shutdown timeout reached, %d tasks may be dropped", len(p.queue))
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.started = false
	p.shuttingDown = false
	p.mu.Unlock()
	return nil
}

// QueueSize returns the number of tasks waiting in the queue.
func (p *ExtractionPipeline) QueueSize() int {
	return len(p.queue)
}

// consume is the single-consumer loop. Tasks are processed strictly in FIFO
// order, which also serializes the resolver's read-then-write sequence per
// principal.
func (p *ExtractionPipeline) consume(ctx context.Context) {
	defer p.consumerWG.Done()

	for task := range p.queue {
		if err := p.process(ctx, task); err != nil {
			log.Printf("ERROR: pipeline: task for %s failed: %v", task.Principal, err)
		}
		p.taskDone()
	}
}

func (p *ExtractionPipeline) taskDone() {
	p.mu.Lock()
	p.pending--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// process digests one exchange: fetch context, propose, validate, resolve,
// apply. A returned error drops this digestion cycle only.
func (p *ExtractionPipeline) process(ctx context.Context, task Task) error {
	current, err := p.store.GetFacts(ctx, task.Principal, storage.FactFilter{
		ValidOnly: true,
		SortBy:    "updated_at",
		SortOrder: "desc",
		Limit:     p.config.LookbackLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch current facts: %w", err)
	}
	current, err = p.withSafetyFacts(ctx, task.Principal, current)
	if err != nil {
		return err
	}

	prompt := buildExtractionPrompt(current, task.Exchange)

	proposal, err := p.proposer.Propose(ctx, prompt)
	if err != nil {
		return fmt.Errorf("proposer call failed: %w", err)
	}

	ops := normalizeOperations(proposal.Operations, p.config.MinConfidence)
	if len(ops) == 0 {
		return nil
	}

	applied, resolutions := p.resolver.Resolve(task.Principal, ops, current)
	if len(resolutions) > 0 {
		log.Printf("pipeline: resolved %d conflict(s) for %s", len(resolutions), task.Principal)
	}

	if err := p.apply(ctx, task, applied); err != nil {
		return err
	}

	p.mu.Lock()
	callback := p.onFactsChanged
	p.mu.Unlock()
	if callback != nil && len(applied) > 0 {
		callback(task.Principal)
	}
	return nil
}

// withSafetyFacts widens a full recency window with the principal's valid
// safety-critical facts, so resolution and the prompt always see them no
// matter how stale they are.
func (p *ExtractionPipeline) withSafetyFacts(ctx context.Context, principal string, current []*types.Fact) ([]*types.Fact, error) {
	if len(current) < p.config.LookbackLimit {
		// Window not full: nothing was cut off.
		return current, nil
	}

	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.ID] = true
	}

	ranked, err := p.store.GetFacts(ctx, principal, storage.FactFilter{
		ValidOnly: true,
		SortBy:    "importance",
		SortOrder: "desc",
		Limit:     p.config.LookbackLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch safety facts: %w", err)
	}

	for _, f := range ranked {
		if f.Importance < types.SafetyImportanceFloor {
			break
		}
		if !seen[f.ID] {
			current = append(current, f)
		}
	}
	return current, nil
}

// apply executes resolved operations in order. The resolver guarantees that
// an invalidating DELETE precedes its replacement INSERT.
func (p *ExtractionPipeline) apply(ctx context.Context, task Task, ops []types.Operation) error {
	now := time.Now()

	for _, op := range ops {
		switch op.Kind {
		case types.OpDelete:
			if err := p.applyDelete(ctx, task.Principal, op); err != nil {
				return err
			}

		case types.OpInsert:
			source := ""
			if task.Exchange != nil {
				source = task.Exchange.SessionID
			}
			fact := &types.Fact{
				ID:          types.GenerateFactID(),
				Principal:   task.Principal,
				Subject:     op.Subject,
				Predicate:   op.Predicate,
				Object:      op.Object,
				Confidence:  op.Confidence,
				Importance:  op.Importance,
				CreatedAt:   now,
				UpdatedAt:   now,
				MemoryStage: types.StageShortTerm,
				Source:      source,
			}
			if err := p.store.UpsertFact(ctx, fact); err != nil {
				return fmt.Errorf("failed to insert fact: %w", err)
			}

		case types.OpUpdate:
			// The resolver rewrites surviving updates into inserts (or a
			// delete/insert pair), so a bare update here means a resolver bug.
			log.Printf("WARNING: pipeline: unexpected UPDATE survived resolution for %s/%s",
				op.Subject, op.Predicate)
		}
	}

	return nil
}

// applyDelete soft-deletes the valid fact(s) matching the operation. When
// the operation names an object, only that value is invalidated; otherwise
// every valid fact for the (subject, predicate) pair is.
func (p *ExtractionPipeline) applyDelete(ctx context.Context, principal string, op types.Operation) error {
	matches, err := p.store.GetFacts(ctx, principal, storage.FactFilter{
		Subject:   op.Subject,
		Predicate: op.Predicate,
		ValidOnly: true,
	})
	if err != nil {
		return fmt.Errorf("failed to look up delete target: %w", err)
	}

	reason := op.Reason
	if reason == "" {
		reason = "deleted by extraction"
	}

	for _, fact := range matches {
		if op.Object != "" && fact.Object != op.Object {
			continue
		}
		if err := p.store.DeleteFact(ctx, fact.ID, reason); err != nil && err != storage.ErrNotFound {
			return fmt.Errorf("failed to delete fact %s: %w", fact.ID, err)
		}
	}
	return nil
}

// normalizeOperations validates and normalizes raw proposed operations:
// unknown kinds and missing fields drop the operation silently, predicates
// are canonicalized, confidence and importance are clamped, and
// safety-related predicates are escalated to the safety importance floor.
// Operations below minConfidence are filtered last.
func normalizeOperations(raw []llm.RawOperation, minConfidence float64) []types.Operation {
	var ops []types.Operation

	for _, r := range raw {
		kind, ok := types.ParseOpKind(r.Op)
		if !ok {
			continue
		}

		op := types.Operation{
			Kind:       kind,
			Subject:    strings.TrimSpace(r.Subject),
			Predicate:  types.NormalizePredicate(r.Predicate),
			Object:     strings.TrimSpace(r.Object),
			Confidence: r.Confidence,
			Importance: r.Importance,
			Reason:     r.Reason,
		}

		if op.IsMalformed() {
			continue
		}

		// Models frequently omit confidence and importance; absent values
		// get moderate defaults before clamping.
		if op.Confidence == 0 {
			op.Confidence = 0.8
		}
		if op.Importance == 0 {
			op.Importance = 5
		}

		if op.Confidence < 0 {
			op.Confidence = 0
		}
		if op.Confidence > 1 {
			op.Confidence = 1
		}
		if op.Importance < 1 {
			op.Importance = 1
		}
		if op.Importance > 10 {
			op.Importance = 10
		}

		if types.IsSafetyPredicate(op.Predicate) && op.Importance < types.SafetyImportanceFloor {
			op.Importance = types.SafetyImportanceFloor
		}

		if op.Kind != types.OpDelete && op.Confidence < minConfidence {
			continue
		}

		ops = append(ops, op)
	}

	return ops
}

// buildExtractionPrompt compiles the current facts and the new exchange into
// the collaborator prompt. The response contract is a single JSON object
// with an operations array.
func buildExtractionPrompt(current []*types.Fact, exchange *types.Exchange) string {
	var b strings.Builder

	b.WriteString("You maintain a store of facts about a user as (subject, predicate, object) triples.\n")
	b.WriteString("Known facts:\n")
	if len(current) == 0 {
		b.WriteString("(none)\n")
	}
	for _, f := range current {
		fmt.Fprintf(&b, "- %s | %s | %s (confidence %.2f)\n", f.Subject, f.Predicate, f.Object, f.Confidence)
	}

	b.WriteString("\nNew exchange:\n")
	if exchange != nil {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", exchange.UserText, exchange.ReplyText)
	}

	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"operations":[{"op":"INSERT|UPDATE|DELETE","subject":"...","predicate":"...","object":"...","confidence":0.0,"importance":5}],"reasoning":"..."}`)
	b.WriteString("\nPropose operations only for new, changed, or retracted facts.\n")

	return b.String()
}
