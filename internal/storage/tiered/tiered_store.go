// Package tiered composes two storage.FactStore instances — a fast, bounded
// hot tier and a durable cold tier — behind the storage.FactStore interface.
//
// The cold store is the source of truth: every write lands there first and a
// cold failure fails the call. The hot store is a pure accelerator: writes to
// it are best-effort, reads fall back to cold on miss with promotion back
// into hot, and the hot tier is bounded per principal by evicting the
// oldest-by-updated_at facts.
package tiered

import (
	"context"
	"log"

	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// DefaultHotFactLimit bounds the hot tier per principal when no limit is
// configured.
const DefaultHotFactLimit = 200

// Store is a tiered storage.FactStore.
type Store struct {
	hot          storage.FactStore
	cold         storage.FactStore
	hotFactLimit int
}

// New creates a tiered store over the given hot and cold stores.
// hotFactLimit <= 0 selects DefaultHotFactLimit.
func New(hot, cold storage.FactStore, hotFactLimit int) *Store {
	if hotFactLimit <= 0 {
		hotFactLimit = DefaultHotFactLimit
	}
	return &Store{hot: hot, cold: cold, hotFactLimit: hotFactLimit}
}

// GetFacts queries the hot tier first and falls back to cold on an empty
// result, promoting any cold hits into hot.
func (s *Store) GetFacts(ctx context.Context, principal string, filter storage.FactFilter) ([]*types.Fact, error) {
	facts, err := s.hot.GetFacts(ctx, principal, filter)
	if err == nil && len(facts) > 0 {
		return facts, nil
	}
	if err != nil {
		log.Printf("WARNING: tiered: hot read failed for %s, falling back to cold: %v", principal, err)
	}

	facts, err = s.cold.GetFacts(ctx, principal, filter)
	if err != nil {
		return nil, err
	}

	if len(facts) > 0 {
		s.promote(ctx, principal, facts)
	}
	return facts, nil
}

// GetFactByID tries the hot tier first, then cold with promotion.
func (s *Store) GetFactByID(ctx context.Context, id string) (*types.Fact, error) {
	fact, err := s.hot.GetFactByID(ctx, id)
	if err == nil {
		return fact, nil
	}

	fact, err = s.cold.GetFactByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.promote(ctx, fact.Principal, []*types.Fact{fact})
	return fact, nil
}

// UpsertFact writes to cold first (fatal on failure), then best-effort to
// hot, then enforces the hot-tier bound for the fact's principal.
func (s *Store) UpsertFact(ctx context.Context, fact *types.Fact) error {
	if err := s.cold.UpsertFact(ctx, fact); err != nil {
		return err
	}

	if err := s.hot.UpsertFact(ctx, fact); err != nil {
		log.Printf("WARNING: tiered: hot upsert failed for %s: %v", fact.ID, err)
		return nil
	}

	s.demote(ctx, fact.Principal)
	return nil
}

// UpdateFact updates cold (fatal) then hot (best-effort). A hot ErrNotFound
// is expected when the fact was never promoted.
func (s *Store) UpdateFact(ctx context.Context, id string, update storage.FactUpdate) error {
	if err := s.cold.UpdateFact(ctx, id, update); err != nil {
		return err
	}
	if err := s.hot.UpdateFact(ctx, id, update); err != nil && err != storage.ErrNotFound {
		log.Printf("WARNING: tiered: hot update failed for %s: %v", id, err)
	}
	return nil
}

// DeleteFact soft-deletes in cold (fatal) then hot (best-effort).
func (s *Store) DeleteFact(ctx context.Context, id string, reason string) error {
	if err := s.cold.DeleteFact(ctx, id, reason); err != nil {
		return err
	}
	if err := s.hot.DeleteFact(ctx, id, reason); err != nil && err != storage.ErrNotFound {
		log.Printf("WARNING: tiered: hot delete failed for %s: %v", id, err)
	}
	return nil
}

// HardDeleteFact removes from cold (fatal) then hot (best-effort).
func (s *Store) HardDeleteFact(ctx context.Context, id string) error {
	if err := s.cold.HardDeleteFact(ctx, id); err != nil {
		return err
	}
	if err := s.hot.HardDeleteFact(ctx, id); err != nil && err != storage.ErrNotFound {
		log.Printf("WARNING: tiered: hot hard-delete failed for %s: %v", id, err)
	}
	return nil
}

// RecordAccess records in cold (fatal) then hot (best-effort) so the
// reinforcement signal stays durable.
func (s *Store) RecordAccess(ctx context.Context, id string) error {
	if err := s.cold.RecordAccess(ctx, id); err != nil {
		return err
	}
	if err := s.hot.RecordAccess(ctx, id); err != nil && err != storage.ErrNotFound {
		log.Printf("WARNING: tiered: hot access record failed for %s: %v", id, err)
	}
	return nil
}

// Sessions are low-volume and written rarely: authoritative in cold, never
// duplicated to hot.

// CreateSession persists a new session in the cold tier.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	return s.cold.CreateSession(ctx, session)
}

// GetSession retrieves a session from the cold tier.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return s.cold.GetSession(ctx, id)
}

// EndSession marks a session as ended in the cold tier.
func (s *Store) EndSession(ctx context.Context, id string) error {
	return s.cold.EndSession(ctx, id)
}

// AppendExchange stores an exchange in the cold tier.
func (s *Store) AppendExchange(ctx context.Context, exchange *types.Exchange) error {
	return s.cold.AppendExchange(ctx, exchange)
}

// GetRecentExchanges reads exchanges from the cold tier.
func (s *Store) GetRecentExchanges(ctx context.Context, principal string, limit int) ([]*types.Exchange, error) {
	return s.cold.GetRecentExchanges(ctx, principal, limit)
}

// ListPrincipals enumerates principals from the cold tier, the source of
// truth.
func (s *Store) ListPrincipals(ctx context.Context) ([]string, error) {
	return s.cold.ListPrincipals(ctx)
}

// WarmCache bulk-promotes the most-recently-updated facts for a principal
// from cold to hot, up to the hot fact limit. Intended before a burst of
// reads. Promotion failures are logged, not surfaced.
func (s *Store) WarmCache(ctx context.Context, principal string) error {
	facts, err := s.cold.GetFacts(ctx, principal, storage.FactFilter{
		ValidOnly: true,
		SortBy:    "updated_at",
		SortOrder: "desc",
		Limit:     s.hotFactLimit,
	})
	if err != nil {
		return err
	}

	s.promote(ctx, principal, facts)
	return nil
}

// Close closes both tiers. The hot close error is logged and discarded; the
// cold close error is returned.
func (s *Store) Close() error {
	if err := s.hot.Close(); err != nil {
		log.Printf("WARNING: tiered: hot close failed: %v", err)
	}
	return s.cold.Close()
}

// promote copies facts into the hot tier and re-applies the bound.
// All hot failures are swallowed.
func (s *Store) promote(ctx context.Context, principal string, facts []*types.Fact) {
	for _, fact := range facts {
		if err := s.hot.UpsertFact(ctx, fact); err != nil {
			log.Printf("WARNING: tiered: promotion failed for %s: %v", fact.ID, err)
			return
		}
	}
	s.demote(ctx, principal)
}

// demote evicts the oldest-by-updated_at facts from the hot tier until the
// principal is back under the hot fact limit. Cold is never touched.
func (s *Store) demote(ctx context.Context, principal string) {
	facts, err := s.hot.GetFacts(ctx, principal, storage.FactFilter{
		SortBy:    "updated_at",
		SortOrder: "asc",
	})
	if err != nil {
		log.Printf("WARNING: tiered: demotion scan failed for %s: %v", principal, err)
		return
	}

	excess := len(facts) - s.hotFactLimit
	for i := 0; i < excess; i++ {
		if err := s.hot.HardDeleteFact(ctx, facts[i].ID); err != nil {
			log.Printf("WARNING: tiered: demotion evict failed for %s: %v", facts[i].ID, err)
			return
		}
	}
}
