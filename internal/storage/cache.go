package storage

import (
	"context"
	"database/sql"
	"time"
)

// GetCacheState fetches the per-session prompt-cache row, or ErrNotFound for
// a session that has never completed a cached prompt build.
func (s *Store) GetCacheState(ctx context.Context, sessionID string) (*CacheState, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT session_id, static_prefix_hash, section_hashes, last_warm_at, token_estimate
		FROM cache_state WHERE session_id = ?
	`, sessionID)
	var c CacheState
	var lastWarmAt int64
	if err := row.Scan(&c.SessionID, &c.StaticPrefixHash, &c.SectionHashes, &lastWarmAt, &c.TokenEstimate); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.LastWarmAt = time.Unix(lastWarmAt, 0)
	return &c, nil
}

// PutCacheState replaces the cache bookkeeping row for a session.
func (s *Store) PutCacheState(ctx context.Context, c *CacheState) error {
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO cache_state (session_id, static_prefix_hash, section_hashes, last_warm_at, token_estimate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			static_prefix_hash = excluded.static_prefix_hash,
			section_hashes = excluded.section_hashes,
			last_warm_at = excluded.last_warm_at,
			token_estimate = excluded.token_estimate
	`, c.SessionID, c.StaticPrefixHash, c.SectionHashes, c.LastWarmAt.Unix(), c.TokenEstimate)
	return err
}

// SaveCheckpoint stores a TTL-bound state snapshot.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	cp.CreatedAt = time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, label, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.SessionID, cp.Label, cp.State, cp.CreatedAt.Unix(), cp.ExpiresAt.Unix())
	return err
}

// LatestCheckpoint returns the most recent non-expired checkpoint for a
// session.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, session_id, label, state, created_at, expires_at FROM checkpoints
		WHERE session_id = ? AND expires_at > ? ORDER BY created_at DESC LIMIT 1
	`, sessionID, time.Now().Unix())
	var cp Checkpoint
	var createdAt, expiresAt int64
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.Label, &cp.State, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.CreatedAt = time.Unix(createdAt, 0)
	cp.ExpiresAt = time.Unix(expiresAt, 0)
	return &cp, nil
}

// ClearCheckpoints removes all checkpoints for a session (e.g. on successful
// completion of the work they were protecting).
func (s *Store) ClearCheckpoints(ctx context.Context, sessionID string) error {
	_, err := s.Main.DB().ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}

// SweepExpiredCheckpoints deletes checkpoints past their TTL.
func (s *Store) SweepExpiredCheckpoints(ctx context.Context) (int64, error) {
	res, err := s.Main.DB().ExecContext(ctx, `DELETE FROM checkpoints WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
