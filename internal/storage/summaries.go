package storage

import (
	"context"
	"database/sql"
	"time"
)

// AddRollingSummary inserts a compressed batch at the given level.
func (s *Store) AddRollingSummary(ctx context.Context, sum *RollingSummary) error {
	sum.CreatedAt = time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO rolling_summaries (id, session_id, level, content, covers_from, covers_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sum.ID, sum.SessionID, sum.Level, sum.Content, sum.CoversFrom, sum.CoversTo, sum.CreatedAt.Unix())
	return err
}

// RecentSummaries returns the n most recent rolling summaries at a given
// level for a session, newest last (so callers can append them in reading
// order).
func (s *Store) RecentSummaries(ctx context.Context, sessionID string, level, n int) ([]*RollingSummary, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, session_id, level, content, covers_from, covers_to, created_at
		FROM rolling_summaries WHERE session_id = ? AND level = ?
		ORDER BY covers_to DESC LIMIT ?
	`, sessionID, level, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RollingSummary
	for rows.Next() {
		var r RollingSummary
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Level, &r.Content, &r.CoversFrom, &r.CoversTo, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &r)
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// CountSummaries returns the number of summaries at the given level for a
// session, used to decide when a meta-summary is due.
func (s *Store) CountSummaries(ctx context.Context, sessionID string, level int) (int, error) {
	var n int
	err := s.Main.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rolling_summaries WHERE session_id = ? AND level = ?
	`, sessionID, level).Scan(&n)
	return n, err
}

// SaveCompactionBlob stores a handoff-mode snapshot.
func (s *Store) SaveCompactionBlob(ctx context.Context, blob *CompactionBlob) error {
	blob.CreatedAt = time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO compaction_blobs (id, session_id, content, created_at) VALUES (?, ?, ?, ?)
	`, blob.ID, blob.SessionID, blob.Content, blob.CreatedAt.Unix())
	return err
}

// LatestCompactionBlob returns the most recent handoff blob for a session,
// if any.
func (s *Store) LatestCompactionBlob(ctx context.Context, sessionID string) (*CompactionBlob, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, session_id, content, created_at FROM compaction_blobs
		WHERE session_id = ? ORDER BY created_at DESC LIMIT 1
	`, sessionID)
	var b CompactionBlob
	var createdAt int64
	if err := row.Scan(&b.ID, &b.SessionID, &b.Content, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = time.Unix(createdAt, 0)
	return &b, nil
}

// DeleteCompactionBlobs removes every handoff blob for a session, used to
// enforce the consume-once semantics of handoff mode.
func (s *Store) DeleteCompactionBlobs(ctx context.Context, sessionID string) error {
	_, err := s.Main.DB().ExecContext(ctx, `DELETE FROM compaction_blobs WHERE session_id = ?`, sessionID)
	return err
}
