package storage

import (
	"context"
	"time"
)

// AppendBehaviorLog records one passive-capture event at the next sequence
// position within its session. Unlike message/pattern writes this is
// best-effort: callers should log and swallow failures rather than block
// the tool-calling loop on behavior-log contention.
func (s *Store) AppendBehaviorLog(ctx context.Context, entry *BehaviorLogEntry) error {
	tx, err := s.Main.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_position), 0) FROM session_behavior_log WHERE session_id = ?
	`, entry.SessionID).Scan(&maxSeq); err != nil {
		return err
	}
	entry.SequencePosition = maxSeq + 1
	entry.CreatedAt = time.Now()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_behavior_log (id, session_id, event_type, event_data, sequence_position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.SessionID, entry.EventType, entry.EventData, entry.SequencePosition, entry.CreatedAt.Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentBehaviorLog returns the most recent n events for a session, oldest
// first.
func (s *Store) RecentBehaviorLog(ctx context.Context, sessionID string, n int) ([]*BehaviorLogEntry, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, session_id, event_type, event_data, sequence_position, created_at
		FROM session_behavior_log WHERE session_id = ? ORDER BY sequence_position DESC LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BehaviorLogEntry
	for rows.Next() {
		var e BehaviorLogEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.EventData, &e.SequencePosition, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
