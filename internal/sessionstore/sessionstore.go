// Package sessionstore persists session.Session documents durably in
// Postgres and caches them in Redis, mirroring
// original_source/hlas/src/hlas/session.py's MongoSessionManager:
// cache-first reads, idle reset on load, and a `created_at` that is only
// ever set on first insert. Ported relationally — the original's single
// Mongo document plus a separate conversation_history collection becomes
// a `sessions` row (slots/status fields as a jsonb column) plus a
// `conversation_history` table, grounded on the teacher's
// internal/persistence/databases/chat_store_postgres.go table/row shape
// and internal/skills/redis_cache.go's cache-wrapper conventions.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/session"
)

// Store is the durable Postgres-backed, Redis-cached session store.
type Store struct {
	pool   *pgxpool.Pool
	cache  redis.UniversalClient
	ttl    time.Duration
	idle   time.Duration
	loc    *time.Location
	log    zerolog.Logger
	hits   Counter
	misses Counter
}

// Counter is the minimal metrics surface sessionstore needs; satisfied by
// internal/metrics's Prometheus counters or a no-op stub in tests.
type Counter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// Option configures a Store constructed with New.
type Option func(*Store)

// WithLogger overrides the zero-value discard logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// WithMetrics wires session-cache hit/miss counters.
func WithMetrics(hits, misses Counter) Option {
	return func(s *Store) {
		if hits != nil {
			s.hits = hits
		}
		if misses != nil {
			s.misses = misses
		}
	}
}

// New builds a Store. loc is the fixed timezone all session timestamps are
// computed in (Asia/Singapore per the specification).
func New(pool *pgxpool.Pool, cache redis.UniversalClient, cacheTTL, idleResetAfter time.Duration, loc *time.Location, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		cache:  cache,
		ttl:    cacheTTL,
		idle:   idleResetAfter,
		loc:    loc,
		log:    zerolog.Nop(),
		hits:   noopCounter{},
		misses: noopCounter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the sessions/conversation_history tables if absent, in the
// teacher's idempotent CREATE TABLE IF NOT EXISTS style.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversation_history (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    timestamp TIMESTAMPTZ NOT NULL,
    user_message TEXT NOT NULL,
    assistant_message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS conversation_history_session_ts_idx
    ON conversation_history(session_id, timestamp DESC);
`)
	return err
}

func cacheKey(sessionID string) string { return "session:" + sessionID }

func (s *Store) now() time.Time { return time.Now().In(s.loc) }

// Get loads a session, preferring the Redis cache, falling back to
// Postgres (plus the last 5 history rows) on a miss, and performing the
// idle-reset check on every load regardless of source.
func (s *Store) Get(ctx context.Context, sessionID string) (session.Session, error) {
	now := s.now()

	sess, ok, err := s.getCached(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session_cache_read_error")
	}
	if ok {
		s.hits.Inc()
	} else {
		s.misses.Inc()
		sess, err = s.loadFromDB(ctx, sessionID, now)
		if err != nil {
			return session.Session{}, fmt.Errorf("sessionstore: load from db: %w", err)
		}
		if err := s.setCached(ctx, sess); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session_cache_write_error")
		}
	}

	if sess.IsIdle(now, s.idle) {
		s.log.Info().Str("session_id", sessionID).Msg("session_idle_reset")
		sess.ResetTransient(now)
		if err := s.Save(ctx, sess); err != nil {
			return session.Session{}, fmt.Errorf("sessionstore: idle reset save: %w", err)
		}
	}

	return sess, nil
}

func (s *Store) getCached(ctx context.Context, sessionID string) (session.Session, bool, error) {
	raw, err := s.cache.Get(ctx, cacheKey(sessionID)).Result()
	if err == redis.Nil {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, err
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return session.Session{}, false, err
	}
	return sess, true, nil
}

func (s *Store) setCached(ctx context.Context, sess session.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cacheKey(sess.SessionID), payload, s.ttl).Err()
}

func (s *Store) loadFromDB(ctx context.Context, sessionID string, now time.Time) (session.Session, error) {
	history, err := s.loadHistory(ctx, sessionID, 5)
	if err != nil {
		return session.Session{}, err
	}

	var raw []byte
	var createdAt, lastActive time.Time
	row := s.pool.QueryRow(ctx, `SELECT data, created_at, last_active FROM sessions WHERE session_id = $1`, sessionID)
	err = row.Scan(&raw, &createdAt, &lastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			sess := session.New(sessionID, now)
			sess.History = history
			return sess, nil
		}
		return session.Session{}, err
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, err
	}
	sess.SessionID = sessionID
	sess.CreatedAt = createdAt
	sess.LastActive = lastActive
	sess.History = history
	return sess, nil
}

func (s *Store) loadHistory(ctx context.Context, sessionID string, limit int) ([]session.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT timestamp, user_message, assistant_message FROM (
    SELECT timestamp, user_message, assistant_message
    FROM conversation_history
    WHERE session_id = $1
    ORDER BY timestamp DESC
    LIMIT $2
) recent
ORDER BY timestamp ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.HistoryEntry
	for rows.Next() {
		var h session.HistoryEntry
		if err := rows.Scan(&h.Timestamp, &h.User, &h.Assistant); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Save upserts the session's non-history fields into Postgres (created_at
// is set only on first insert, via ON CONFLICT DO UPDATE that never
// touches it) and refreshes the Redis cache copy, preserving whatever
// history is already cached when the caller's copy has none.
func (s *Store) Save(ctx context.Context, sess session.Session) error {
	now := s.now()
	sess.LastActive = now

	toStore := sess
	toStore.History = nil
	payload, err := json.Marshal(toStore)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO sessions (session_id, data, created_at, last_active)
VALUES ($1, $2, $3, $3)
ON CONFLICT (session_id) DO UPDATE
SET data = EXCLUDED.data, last_active = EXCLUDED.last_active`,
		sess.SessionID, payload, now)
	if err != nil {
		return fmt.Errorf("sessionstore: upsert session: %w", err)
	}

	cached, ok, err := s.getCached(ctx, sess.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("session_cache_read_error")
	}
	merged := sess
	if len(merged.History) == 0 && ok {
		merged.History = cached.History
	}
	if err := s.setCached(ctx, merged); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("session_cache_write_error")
	}
	return nil
}

// AppendHistory inserts one conversation_history row, refreshes the
// session's last_active timestamp, and updates the cached history list
// (capped at 5), matching session.py::add_history_entry.
func (s *Store) AppendHistory(ctx context.Context, sessionID, userMessage, assistantMessage string) error {
	ts := s.now()

	_, err := s.pool.Exec(ctx, `
INSERT INTO conversation_history (session_id, timestamp, user_message, assistant_message)
VALUES ($1, $2, $3, $4)`, sessionID, ts, userMessage, assistantMessage)
	if err != nil {
		return fmt.Errorf("sessionstore: insert history: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `UPDATE sessions SET last_active = $2 WHERE session_id = $1`, sessionID, ts); err != nil {
		return fmt.Errorf("sessionstore: touch last_active: %w", err)
	}

	cached, ok, err := s.getCached(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session_cache_read_error")
	}
	if !ok {
		return nil
	}
	cached.History = append(cached.History, session.HistoryEntry{Timestamp: ts, User: userMessage, Assistant: assistantMessage})
	if len(cached.History) > 5 {
		cached.History = cached.History[len(cached.History)-5:]
	}
	cached.LastActive = ts
	return s.setCached(ctx, cached)
}

// Reset clears a session's transient fields while preserving history and
// created_at, then saves it.
func (s *Store) Reset(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	sess.ResetTransient(s.now())
	if err := s.Save(ctx, sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}
