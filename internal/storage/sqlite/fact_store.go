// Package sqlite provides a SQLite implementation of storage.FactStore.
// It is the default cold tier: durable, authoritative, single-file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// FactStore implements storage.FactStore using SQLite.
type FactStore struct {
	db *sql.DB
}

// NewFactStore opens (or creates) the SQLite database at dsn and applies the
// schema. Busy timeout and foreign keys are set via pragmas on open.
func NewFactStore(dsn string) (*FactStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// Serialize writers; SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &FactStore{db: db}, nil
}

// GetDB returns the underlying database connection.
func (s *FactStore) GetDB() *sql.DB {
	return s.db
}

const factColumns = `id, principal, subject, predicate, object, confidence, importance,
	created_at, updated_at, invalidated_at, invalid_reason, memory_stage,
	access_count, last_accessed_at, source`

// GetFacts retrieves facts for a principal matching the filter.
func (s *FactStore) GetFacts(ctx context.Context, principal string, filter storage.FactFilter) ([]*types.Fact, error) {
	filter.Normalize()

	query := "SELECT " + factColumns + " FROM facts WHERE principal = ?"
	args := []interface{}{principal}

	if filter.ValidOnly {
		query += " AND invalidated_at IS NULL"
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if filter.Predicate != "" {
		query += " AND predicate = ?"
		args = append(args, filter.Predicate)
	} else if len(filter.Predicates) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Predicates))
		query += " AND predicate IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, p := range filter.Predicates {
			args = append(args, p)
		}
	}

	// SortBy/SortOrder are whitelist-validated by Normalize above.
	query += fmt.Sprintf(" ORDER BY %s %s", filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query facts: %w", err)
	}
	defer rows.Close()

	var facts []*types.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// GetFactByID retrieves a single fact by id.
func (s *FactStore) GetFactByID(ctx context.Context, id string) (*types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+factColumns+" FROM facts WHERE id = ?", id)

	fact, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fact, nil
}

// UpsertFact inserts the fact, or overwrites the existing valid fact with the
// same (principal, subject, predicate) when the predicate is single-valued.
func (s *FactStore) UpsertFact(ctx context.Context, fact *types.Fact) error {
	if fact == nil || fact.ID == "" {
		return fmt.Errorf("%w: fact ID is required", storage.ErrInvalidInput)
	}
	if fact.Subject == "" || fact.Predicate == "" {
		return fmt.Errorf("%w: subject and predicate are required", storage.ErrInvalidInput)
	}

	now := time.Now()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = now
	}
	if fact.MemoryStage == "" {
		fact.MemoryStage = types.StageShortTerm
	}

	// For single-valued predicates, reuse the existing valid row's id so the
	// insert below becomes an in-place update.
	if !types.IsMultiValuedPredicate(fact.Predicate) {
		var existingID string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM facts
			WHERE principal = ? AND subject = ? AND predicate = ? AND invalidated_at IS NULL
			LIMIT 1`,
			fact.Principal, fact.Subject, fact.Predicate).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("sqlite: failed to look up existing fact: %w", err)
		}
		if err == nil && existingID != fact.ID {
			fact.ID = existingID
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (
			id, principal, subject, predicate, object, confidence, importance,
			created_at, updated_at, invalidated_at, invalid_reason, memory_stage,
			access_count, last_accessed_at, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			object = excluded.object,
			confidence = excluded.confidence,
			importance = excluded.importance,
			updated_at = excluded.updated_at,
			invalidated_at = excluded.invalidated_at,
			invalid_reason = excluded.invalid_reason,
			memory_stage = excluded.memory_stage,
			source = excluded.source
	`,
		fact.ID,
		fact.Principal,
		fact.Subject,
		fact.Predicate,
		fact.Object,
		fact.Confidence,
		fact.Importance,
		fact.CreatedAt,
		fact.UpdatedAt,
		nullableTime(fact.InvalidatedAt),
		nullableString(fact.InvalidReason),
		string(fact.MemoryStage),
		fact.AccessCount,
		nullableTime(fact.LastAccessedAt),
		nullableString(fact.Source),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert fact: %w", err)
	}
	return nil
}

// UpdateFact applies a partial update to an existing fact.
func (s *FactStore) UpdateFact(ctx context.Context, id string, update storage.FactUpdate) error {
	if update.Empty() {
		return nil
	}

	var sets []string
	var args []interface{}

	if update.Object != nil {
		sets = append(sets, "object = ?")
		args = append(args, *update.Object)
	}
	if update.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, *update.Confidence)
	}
	if update.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *update.Importance)
	}
	if update.MemoryStage != nil {
		sets = append(sets, "memory_stage = ?")
		args = append(args, string(*update.MemoryStage))
	}
	if update.InvalidatedAt != nil {
		sets = append(sets, "invalidated_at = ?")
		args = append(args, *update.InvalidatedAt)
	}
	if update.InvalidReason != nil {
		sets = append(sets, "invalid_reason = ?")
		args = append(args, *update.InvalidReason)
	}

	if update.UpdatedAt != nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, *update.UpdatedAt)
	} else {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now())
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE facts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update fact: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteFact soft-deletes a fact by setting invalidated_at with a reason.
func (s *FactStore) DeleteFact(ctx context.Context, id string, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE facts
		SET invalidated_at = ?, invalid_reason = ?, updated_at = ?
		WHERE id = ?`,
		time.Now(), reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete fact: %w", err)
	}
	return requireRowAffected(result)
}

// HardDeleteFact permanently removes a fact.
func (s *FactStore) HardDeleteFact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to hard-delete fact: %w", err)
	}
	return requireRowAffected(result)
}

// RecordAccess atomically increments access_count and sets last_accessed_at.
func (s *FactStore) RecordAccess(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE facts
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to record access: %w", err)
	}
	return requireRowAffected(result)
}

// CreateSession persists a new session.
func (s *FactStore) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, principal, started_at, ended_at, exchange_count)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Principal, session.StartedAt,
		nullableTime(session.EndedAt), session.ExchangeCount)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *FactStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	var endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal, started_at, ended_at, exchange_count
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Principal, &sess.StartedAt, &endedAt, &sess.ExchangeCount)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get session: %w", err)
	}

	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

// EndSession marks a session as ended.
func (s *FactStore) EndSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to end session: %w", err)
	}
	return requireRowAffected(result)
}

// AppendExchange stores one exchange and increments the session counter.
func (s *FactStore) AppendExchange(ctx context.Context, exchange *types.Exchange) error {
	if exchange == nil || exchange.ID == "" {
		return fmt.Errorf("%w: exchange ID is required", storage.ErrInvalidInput)
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, principal, user_text, reply_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exchange.ID, exchange.SessionID, exchange.Principal,
		exchange.UserText, exchange.ReplyText, exchange.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append exchange: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET exchange_count = exchange_count + 1 WHERE id = ?",
		exchange.SessionID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to bump exchange count: %w", err)
	}

	return tx.Commit()
}

// GetRecentExchanges returns the most recent exchanges for a principal,
// newest first.
func (s *FactStore) GetRecentExchanges(ctx context.Context, principal string, limit int) ([]*types.Exchange, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, principal, user_text, reply_text, created_at
		FROM exchanges
		WHERE principal = ?
		ORDER BY created_at DESC
		LIMIT ?`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*types.Exchange
	for rows.Next() {
		var e types.Exchange
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Principal,
			&e.UserText, &e.ReplyText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, &e)
	}
	return exchanges, rows.Err()
}

// ListPrincipals returns every principal that owns at least one fact.
func (s *FactStore) ListPrincipals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT principal FROM facts ORDER BY principal")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan principal: %w", err)
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// Close closes the database connection.
func (s *FactStore) Close() error {
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanFact.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*types.Fact, error) {
	var f types.Fact
	var stage string
	var invalidatedAt, lastAccessedAt sql.NullTime
	var invalidReason, source sql.NullString

	err := row.Scan(
		&f.ID,
		&f.Principal,
		&f.Subject,
		&f.Predicate,
		&f.Object,
		&f.Confidence,
		&f.Importance,
		&f.CreatedAt,
		&f.UpdatedAt,
		&invalidatedAt,
		&invalidReason,
		&stage,
		&f.AccessCount,
		&lastAccessedAt,
		&source,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan fact: %w", err)
	}

	f.MemoryStage = types.MemoryStage(stage)
	if invalidatedAt.Valid {
		f.InvalidatedAt = &invalidatedAt.Time
	}
	if lastAccessedAt.Valid {
		f.LastAccessedAt = &lastAccessedAt.Time
	}
	if invalidReason.Valid {
		f.InvalidReason = invalidReason.String
	}
	if source.Valid {
		f.Source = source.String
	}
	return &f, nil
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
