package sqlite

// Schema is the base SQLite schema for the fact store. All statements are
// idempotent so it can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS facts (
	id               TEXT PRIMARY KEY,
	principal        TEXT NOT NULL,
	subject          TEXT NOT NULL,
	predicate        TEXT NOT NULL,
	object           TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 1.0,
	importance       INTEGER NOT NULL DEFAULT 5,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	invalidated_at   DATETIME,
	invalid_reason   TEXT,
	memory_stage     TEXT NOT NULL DEFAULT 'short_term',
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at DATETIME,
	source           TEXT
);

CREATE INDEX IF NOT EXISTS idx_facts_principal ON facts(principal);
CREATE INDEX IF NOT EXISTS idx_facts_triple ON facts(principal, subject, predicate);
CREATE INDEX IF NOT EXISTS idx_facts_valid ON facts(principal, invalidated_at);
CREATE INDEX IF NOT EXISTS idx_facts_updated ON facts(principal, updated_at);

CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	principal      TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	ended_at       DATETIME,
	exchange_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_principal ON sessions(principal);

CREATE TABLE IF NOT EXISTS exchanges (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	principal  TEXT NOT NULL,
	user_text  TEXT NOT NULL,
	reply_text TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchanges_principal ON exchanges(principal, created_at);
`
