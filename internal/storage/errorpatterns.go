package storage

import (
	"context"
	"database/sql"
	"time"
)

// StoreErrorPattern upserts by fingerprint: a fresh fingerprint inserts at
// occurrence_count=1, a repeat bumps occurrence_count and last_seen without
// touching first_seen or any resolution already recorded. Mirrors the
// UPSERT semantics of the fingerprinting engine this is grounded on.
func (s *Store) StoreErrorPattern(ctx context.Context, id, fingerprint, toolName, template string) error {
	now := time.Now()
	return WithCriticalWrite(ctx, func() error {
		_, err := s.Main.DB().ExecContext(ctx, `
			INSERT INTO error_patterns (id, fingerprint, tool_name, template, occurrence_count, resolved, first_seen, last_seen)
			VALUES (?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				occurrence_count = occurrence_count + 1,
				last_seen = excluded.last_seen
		`, id, fingerprint, toolName, template, now.Unix(), now.Unix())
		return err
	})
}

// GetErrorPatternByFingerprint fetches a pattern row, or ErrNotFound.
func (s *Store) GetErrorPatternByFingerprint(ctx context.Context, fingerprint string) (*ErrorPattern, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, fingerprint, tool_name, template, occurrence_count, resolved, resolution, first_seen, last_seen
		FROM error_patterns WHERE fingerprint = ?
	`, fingerprint)
	return scanErrorPattern(row)
}

func scanErrorPattern(row *sql.Row) (*ErrorPattern, error) {
	var e ErrorPattern
	var resolution sql.NullString
	var resolved int
	var firstSeen, lastSeen int64
	if err := row.Scan(&e.ID, &e.Fingerprint, &e.ToolName, &e.Template, &e.OccurrenceCount, &resolved,
		&resolution, &firstSeen, &lastSeen); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Resolved = resolved != 0
	e.Resolution = resolution.String
	e.FirstSeen = time.Unix(firstSeen, 0)
	e.LastSeen = time.Unix(lastSeen, 0)
	return &e, nil
}

// UnresolvedPatternsForTool returns unresolved patterns for toolName with at
// least minOccurrences global occurrences, ordered by occurrence_count desc.
func (s *Store) UnresolvedPatternsForTool(ctx context.Context, toolName string, minOccurrences int) ([]*ErrorPattern, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, fingerprint, tool_name, template, occurrence_count, resolved, resolution, first_seen, last_seen
		FROM error_patterns WHERE tool_name = ? AND resolved = 0 AND occurrence_count >= ?
		ORDER BY occurrence_count DESC
	`, toolName, minOccurrences)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ErrorPattern
	for rows.Next() {
		var e ErrorPattern
		var resolution sql.NullString
		var resolved int
		var firstSeen, lastSeen int64
		if err := rows.Scan(&e.ID, &e.Fingerprint, &e.ToolName, &e.Template, &e.OccurrenceCount, &resolved,
			&resolution, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		e.Resolved = resolved != 0
		e.Resolution = resolution.String
		e.FirstSeen = time.Unix(firstSeen, 0)
		e.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SessionFailureCount counts session_behavior_log rows in sessionID whose
// event_data.error_fingerprint matches fingerprint, and returns the highest
// sequence_position among them (0 if none). This is the session-scoped half
// of the auto-resolution gate: a fingerprint must have both >= 3 global
// occurrences (checked by the caller via UnresolvedPatternsForTool) and
// >= 3 session-local failures before it is eligible for auto-resolution.
func (s *Store) SessionFailureCount(ctx context.Context, sessionID, fingerprint string) (count int, maxSequence int64, err error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(sequence_position), 0)
		FROM session_behavior_log
		WHERE session_id = ? AND json_extract(event_data, '$.error_fingerprint') = ?
	`, sessionID, fingerprint)
	err = row.Scan(&count, &maxSequence)
	return
}

// ResolveErrorPattern marks a pattern resolved with the given resolution
// text. Idempotent: resolving an already-resolved pattern affects 0 rows,
// matching the original engine's re-resolve-is-a-no-op behavior.
func (s *Store) ResolveErrorPattern(ctx context.Context, fingerprint, resolution string) (int64, error) {
	res, err := s.Main.DB().ExecContext(ctx, `
		UPDATE error_patterns SET resolved = 1, resolution = ? WHERE fingerprint = ? AND resolved = 0
	`, resolution, fingerprint)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
