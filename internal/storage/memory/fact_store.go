// Package memory provides an in-memory implementation of storage.FactStore.
//
// It backs the hot tier of the tiered store: bounded, evictable, and safe to
// lose. All data lives in process memory guarded by a single RWMutex, which
// is sufficient because hot-tier access is low-contention and bounded.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// FactStore implements storage.FactStore entirely in memory.
type FactStore struct {
	mu        sync.RWMutex
	facts     map[string]*types.Fact     // fact id -> fact
	sessions  map[string]*types.Session  // session id -> session
	exchanges []*types.Exchange          // append-only, newest last
}

// NewFactStore creates an empty in-memory fact store.
func NewFactStore() *FactStore {
	return &FactStore{
		facts:    make(map[string]*types.Fact),
		sessions: make(map[string]*types.Session),
	}
}

// GetFacts retrieves facts for a principal matching the filter.
func (s *FactStore) GetFacts(ctx context.Context, principal string, filter storage.FactFilter) ([]*types.Fact, error) {
	filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Fact
	for _, f := range s.facts {
		if f.Principal != principal {
			continue
		}
		if !matchesFilter(f, filter) {
			continue
		}
		out = append(out, cloneFact(f))
	}

	sortFacts(out, filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetFactByID retrieves a single fact by id.
func (s *FactStore) GetFactByID(ctx context.Context, id string) (*types.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneFact(f), nil
}

// UpsertFact inserts the fact, replacing any stored copy with the same id.
// For non-multi-valued predicates an existing valid fact with the same
// (principal, subject, predicate) is overwritten in place, keeping the hot
// tier consistent with resolver output.
func (s *FactStore) UpsertFact(ctx context.Context, fact *types.Fact) error {
	if fact == nil || fact.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.facts[fact.ID]; !exists && !types.IsMultiValuedPredicate(fact.Predicate) {
		for id, f := range s.facts {
			if f.Principal == fact.Principal && f.Subject == fact.Subject &&
				f.Predicate == fact.Predicate && f.IsValid() && id != fact.ID {
				delete(s.facts, id)
			}
		}
	}

	s.facts[fact.ID] = cloneFact(fact)
	return nil
}

// UpdateFact applies a partial update to an existing fact.
func (s *FactStore) UpdateFact(ctx context.Context, id string, update storage.FactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return storage.ErrNotFound
	}

	applyUpdate(f, update)
	return nil
}

// DeleteFact soft-deletes a fact with a reason.
func (s *FactStore) DeleteFact(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return storage.ErrNotFound
	}

	f.Invalidate(time.Now(), reason)
	return nil
}

// HardDeleteFact permanently removes a fact.
func (s *FactStore) HardDeleteFact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.facts, id)
	return nil
}

// RecordAccess increments access_count and sets last_accessed_at.
func (s *FactStore) RecordAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return storage.ErrNotFound
	}

	now := time.Now()
	f.AccessCount++
	f.LastAccessedAt = &now
	return nil
}

// CreateSession persists a new session.
func (s *FactStore) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// GetSession retrieves a session by id.
func (s *FactStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

// EndSession marks a session as ended.
func (s *FactStore) EndSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}

	now := time.Now()
	sess.EndedAt = &now
	return nil
}

// AppendExchange stores an exchange and bumps the session counter.
func (s *FactStore) AppendExchange(ctx context.Context, exchange *types.Exchange) error {
	if exchange == nil || exchange.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *exchange
	s.exchanges = append(s.exchanges, &clone)

	if sess, ok := s.sessions[exchange.SessionID]; ok {
		sess.ExchangeCount++
	}
	return nil
}

// GetRecentExchanges returns the most recent exchanges for a principal,
// newest first.
func (s *FactStore) GetRecentExchanges(ctx context.Context, principal string, limit int) ([]*types.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Exchange
	for i := len(s.exchanges) - 1; i >= 0; i-- {
		if s.exchanges[i].Principal != principal {
			continue
		}
		clone := *s.exchanges[i]
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListPrincipals returns every principal that owns at least one fact.
func (s *FactStore) ListPrincipals(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, f := range s.facts {
		if _, ok := seen[f.Principal]; ok {
			continue
		}
		seen[f.Principal] = struct{}{}
		out = append(out, f.Principal)
	}
	sort.Strings(out)
	return out, nil
}

// Close releases the store's contents.
func (s *FactStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts = make(map[string]*types.Fact)
	s.sessions = make(map[string]*types.Session)
	s.exchanges = nil
	return nil
}

// CountFacts returns the number of stored facts for a principal. Used by the
// tiered store's demotion policy.
func (s *FactStore) CountFacts(principal string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, f := range s.facts {
		if f.Principal == principal {
			n++
		}
	}
	return n
}

func matchesFilter(f *types.Fact, filter storage.FactFilter) bool {
	if filter.ValidOnly && !f.IsValid() {
		return false
	}
	if filter.Subject != "" && f.Subject != filter.Subject {
		return false
	}
	if filter.Predicate != "" {
		return f.Predicate == filter.Predicate
	}
	if len(filter.Predicates) > 0 {
		for _, p := range filter.Predicates {
			if f.Predicate == p {
				return true
			}
		}
		return false
	}
	return true
}

func sortFacts(facts []*types.Fact, sortBy, sortOrder string) {
	less := func(a, b *types.Fact) bool {
		switch sortBy {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "access_count":
			return a.AccessCount < b.AccessCount
		case "importance":
			return a.Importance < b.Importance
		case "confidence":
			return a.Confidence < b.Confidence
		default:
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}

	sort.SliceStable(facts, func(i, j int) bool {
		if sortOrder == "asc" {
			return less(facts[i], facts[j])
		}
		return less(facts[j], facts[i])
	})
}

func applyUpdate(f *types.Fact, update storage.FactUpdate) {
	if update.Object != nil {
		f.Object = *update.Object
	}
	if update.Confidence != nil {
		f.Confidence = *update.Confidence
	}
	if update.Importance != nil {
		f.Importance = *update.Importance
	}
	if update.MemoryStage != nil {
		f.MemoryStage = *update.MemoryStage
	}
	if update.InvalidatedAt != nil {
		f.InvalidatedAt = update.InvalidatedAt
	}
	if update.InvalidReason != nil {
		f.InvalidReason = *update.InvalidReason
	}
	if update.UpdatedAt != nil {
		f.UpdatedAt = *update.UpdatedAt
	} else {
		f.UpdatedAt = time.Now()
	}
}

func cloneFact(f *types.Fact) *types.Fact {
	clone := *f
	if f.InvalidatedAt != nil {
		t := *f.InvalidatedAt
		clone.InvalidatedAt = &t
	}
	if f.LastAccessedAt != nil {
		t := *f.LastAccessedAt
		clone.LastAccessedAt = &t
	}
	return &clone
}
