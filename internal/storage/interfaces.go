// Package storage defines the abstract fact-storage contract for Keepsake.
//
// Every engine component depends only on the FactStore interface; concrete
// backends (SQLite, PostgreSQL, in-memory) implement it independently and can
// be composed — the tiered store wraps two FactStore instances into one.
package storage

import (
	"context"

	"github.com/keepsake-ai/keepsake/pkg/types"
)

// FactStore provides CRUD and filtered query over facts, plus the session and
// conversation operations used by the orchestration layer.
type FactStore interface {
	// GetFacts retrieves facts for a principal matching the filter.
	GetFacts(ctx context.Context, principal string, filter FactFilter) ([]*types.Fact, error)

	// GetFactByID retrieves a single fact by id.
	// Returns ErrNotFound if the fact does not exist.
	GetFactByID(ctx context.Context, id string) (*types.Fact, error)

	// UpsertFact inserts the fact, or updates the existing valid fact with the
	// same (principal, subject, predicate) when one exists and the predicate is
	// not multi-valued.
	UpsertFact(ctx context.Context, fact *types.Fact) error

	// UpdateFact applies a partial update to an existing fact.
	// Returns ErrNotFound if the fact does not exist.
	UpdateFact(ctx context.Context, id string, update FactUpdate) error

	// DeleteFact soft-deletes a fact by setting invalidated_at with a reason.
	// Returns ErrNotFound if the fact does not exist.
	DeleteFact(ctx context.Context, id string, reason string) error

	// HardDeleteFact permanently removes a fact. Operator action only.
	// Returns ErrNotFound if the fact does not exist.
	HardDeleteFact(ctx context.Context, id string) error

	// RecordAccess atomically increments access_count and sets
	// last_accessed_at for the fact. Returns ErrNotFound if missing.
	RecordAccess(ctx context.Context, id string) error

	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by id.
	// Returns ErrNotFound if the session does not exist.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// EndSession marks a session as ended.
	// Returns ErrNotFound if the session does not exist.
	EndSession(ctx context.Context, id string) error

	// AppendExchange stores one conversational exchange and increments the
	// owning session's exchange counter.
	AppendExchange(ctx context.Context, exchange *types.Exchange) error

	// GetRecentExchanges returns the most recent exchanges for a principal,
	// newest first, capped at limit.
	GetRecentExchanges(ctx context.Context, principal string, limit int) ([]*types.Exchange, error)

	// ListPrincipals returns every principal that owns at least one fact.
	// Used by maintenance sweeps to enumerate their targets.
	ListPrincipals(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
