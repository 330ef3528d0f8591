package storage

import (
	"context"
	"database/sql"
	"time"
)

// UpsertMemoryFact inserts a new fact or merges into an existing one keyed
// by (project, team, scope, key). Business rules (confidence bump, status
// promotion at 3 distinct sessions) live in internal/memory; this layer
// only executes the resulting row values atomically against concurrent
// writers by re-reading inside the same transaction.
func (s *Store) UpsertMemoryFact(ctx context.Context, fact *MemoryFact, merge func(existing *MemoryFact) *MemoryFact) (*MemoryFact, error) {
	var result *MemoryFact
	err := WithCriticalWrite(ctx, func() error {
		tx, err := s.Main.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		existing, err := queryMemoryFact(ctx, tx, fact.ProjectID, fact.Team, fact.Scope, fact.Key)
		if err != nil && err != ErrNotFound {
			return err
		}

		now := time.Now()
		var final *MemoryFact
		if existing == nil {
			fact.CreatedAt, fact.UpdatedAt = now, now
			if fact.SessionCount == 0 {
				fact.SessionCount = 1
			}
			final = fact
		} else {
			final = merge(existing)
			final.UpdatedAt = now
		}

		var expiresAt any
		if final.ExpiresAt != nil {
			expiresAt = final.ExpiresAt.Unix()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_facts (id, project_id, team, scope, key, value, status, confidence, session_count, last_session_id, created_at, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, team, scope, key) DO UPDATE SET
				value = excluded.value,
				status = excluded.status,
				confidence = excluded.confidence,
				session_count = excluded.session_count,
				last_session_id = excluded.last_session_id,
				updated_at = excluded.updated_at,
				expires_at = excluded.expires_at
		`, final.ID, final.ProjectID, final.Team, final.Scope, final.Key, final.Value, final.Status,
			final.Confidence, final.SessionCount, final.LastSessionID, final.CreatedAt.Unix(), final.UpdatedAt.Unix(), expiresAt)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = final
		return nil
	})
	return result, err
}

// GetMemoryFact fetches a fact by its natural key.
func (s *Store) GetMemoryFact(ctx context.Context, projectID, team, scope, key string) (*MemoryFact, error) {
	return queryMemoryFact(ctx, s.Main.DB(), projectID, team, scope, key)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMemoryFact(ctx context.Context, q querier, projectID, team, scope, key string) (*MemoryFact, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, team, scope, key, value, status, confidence, session_count, last_session_id, created_at, updated_at, expires_at
		FROM memory_facts WHERE project_id = ? AND team = ? AND scope = ? AND key = ?
	`, projectID, team, scope, key)
	return scanMemoryFact(row)
}

func scanMemoryFact(row *sql.Row) (*MemoryFact, error) {
	var f MemoryFact
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Team, &f.Scope, &f.Key, &f.Value, &f.Status, &f.Confidence,
		&f.SessionCount, &f.LastSessionID, &createdAt, &updatedAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.CreatedAt = time.Unix(createdAt, 0)
	f.UpdatedAt = time.Unix(updatedAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		f.ExpiresAt = &t
	}
	return &f, nil
}

// ListMemoryFacts returns non-expired facts for a project/scope.
func (s *Store) ListMemoryFacts(ctx context.Context, projectID, scope string) ([]*MemoryFact, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, project_id, team, scope, key, value, status, confidence, session_count, last_session_id, created_at, updated_at, expires_at
		FROM memory_facts WHERE project_id = ? AND scope = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY updated_at DESC
	`, projectID, scope, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MemoryFact
	for rows.Next() {
		var f MemoryFact
		var createdAt, updatedAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Team, &f.Scope, &f.Key, &f.Value, &f.Status, &f.Confidence,
			&f.SessionCount, &f.LastSessionID, &createdAt, &updatedAt, &expiresAt); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		f.UpdatedAt = time.Unix(updatedAt, 0)
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			f.ExpiresAt = &t
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// UpsertObservation inserts or replaces a keyed observation, resetting its
// TTL — observations are overwrite-latest, unlike memory facts which merge.
func (s *Store) UpsertObservation(ctx context.Context, obs *SystemObservation) error {
	now := time.Now()
	obs.CreatedAt = now
	var expiresAt any
	if obs.ExpiresAt != nil {
		expiresAt = obs.ExpiresAt.Unix()
	}
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO system_observations (id, project_id, observation_type, key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, observation_type, key) DO UPDATE SET
			payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at
	`, obs.ID, obs.ProjectID, obs.ObservationType, obs.Key, obs.Payload, now.Unix(), expiresAt)
	return err
}

// ListObservations returns non-expired observations of a type for a project.
func (s *Store) ListObservations(ctx context.Context, projectID, observationType string) ([]*SystemObservation, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, project_id, observation_type, key, payload, created_at, expires_at
		FROM system_observations WHERE project_id = ? AND observation_type = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
	`, projectID, observationType, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SystemObservation
	for rows.Next() {
		var o SystemObservation
		var createdAt int64
		var expiresAt sql.NullInt64
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.ObservationType, &o.Key, &o.Payload, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		if expiresAt.Valid {
			t := time.Unix(expiresAt.Int64, 0)
			o.ExpiresAt = &t
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// SweepExpiredObservations deletes observation rows past their TTL. Returns
// the number of rows removed.
func (s *Store) SweepExpiredObservations(ctx context.Context) (int64, error) {
	res, err := s.Main.DB().ExecContext(ctx, `
		DELETE FROM system_observations WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
