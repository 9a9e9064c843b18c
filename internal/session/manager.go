// Package session tracks the active conversation session per principal and
// records exchanges against it.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/keepsake-ai/keepsake/internal/storage"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

// Manager maintains at most one active session per principal. Sessions and
// exchanges are persisted through the fact store; the in-memory map just
// tracks which session is current.
type Manager struct {
	store storage.FactStore

	mu     sync.Mutex
	active map[string]*types.Session // principal -> active session
}

// NewManager creates a session manager over the given store.
func NewManager(store storage.FactStore) *Manager {
	return &Manager{
		store:  store,
		active: make(map[string]*types.Session),
	}
}

// Current returns the principal's active session, creating and persisting a
// new one if none exists.
func (m *Manager) Current(ctx context.Context, principal string) (*types.Session, error) {
	if principal == "" {
		return nil, fmt.Errorf("session: %w: principal is required", storage.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.active[principal]; ok && sess.Active() {
		return sess, nil
	}

	sess := &types.Session{
		ID:        types.GenerateSessionID(),
		Principal: principal,
		StartedAt: time.Now(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: failed to create session: %w", err)
	}
	m.active[principal] = sess
	return sess, nil
}

// Record persists an exchange under the principal's active session and
// returns it. The session is created on first use.
func (m *Manager) Record(ctx context.Context, principal, userText, replyText string) (*types.Exchange, error) {
	sess, err := m.Current(ctx, principal)
	if err != nil {
		return nil, err
	}

	exch := &types.Exchange{
		ID:        types.GenerateExchangeID(),
		SessionID: sess.ID,
		Principal: principal,
		UserText:  userText,
		ReplyText: replyText,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendExchange(ctx, exch); err != nil {
		return nil, fmt.Errorf("session: failed to append exchange: %w", err)
	}

	m.mu.Lock()
	sess.ExchangeCount++
	m.mu.Unlock()
	return exch, nil
}

// End closes the principal's active session, if any. Ending a principal with
// no active session is a no-op.
func (m *Manager) End(ctx context.Context, principal string) error {
	m.mu.Lock()
	sess, ok := m.active[principal]
	delete(m.active, principal)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	now := time.Now()
	if err := m.store.EndSession(ctx, sess.ID); err != nil {
		if err == storage.ErrNotFound {
			log.Printf("WARNING: session: active session %s missing from store", sess.ID)
			return nil
		}
		return fmt.Errorf("session: failed to end session: %w", err)
	}
	sess.EndedAt = &now
	return nil
}

// ActiveCount returns the number of principals with an active session.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
