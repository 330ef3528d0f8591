package storage

import (
	"context"
	"database/sql"
	"time"
)

// StorePattern inserts a new reasoning pattern.
func (s *Store) StorePattern(ctx context.Context, p *ReasoningPattern) error {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO reasoning_patterns (id, name, trigger, description, success_count, use_count, success_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Trigger, p.Description, p.SuccessCount, p.UseCount, p.SuccessRate, now.Unix(), now.Unix())
	return err
}

// UpdatePattern overwrites the mutable fields of an existing pattern.
func (s *Store) UpdatePattern(ctx context.Context, p *ReasoningPattern) error {
	_, err := s.Main.DB().ExecContext(ctx, `
		UPDATE reasoning_patterns SET name = ?, trigger = ?, description = ?, updated_at = ? WHERE id = ?
	`, p.Name, p.Trigger, p.Description, time.Now().Unix(), p.ID)
	return err
}

// DeletePattern removes a pattern and its usage history.
func (s *Store) DeletePattern(ctx context.Context, id string) error {
	_, err := s.Main.DB().ExecContext(ctx, `DELETE FROM reasoning_patterns WHERE id = ?`, id)
	return err
}

// ListPatterns returns every stored pattern.
func (s *Store) ListPatterns(ctx context.Context) ([]*ReasoningPattern, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, name, trigger, description, success_count, use_count, success_rate, created_at, updated_at
		FROM reasoning_patterns ORDER BY success_rate DESC, use_count DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// FindPatternsByTrigger returns patterns whose trigger matches exactly, used
// as the fast path before a fuzzier recommendation pass.
func (s *Store) FindPatternsByTrigger(ctx context.Context, trigger string) ([]*ReasoningPattern, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, name, trigger, description, success_count, use_count, success_rate, created_at, updated_at
		FROM reasoning_patterns WHERE trigger = ? ORDER BY success_rate DESC
	`, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// RecommendedPatterns returns the top n patterns by success_rate among those
// with at least minUses recorded usages, filtering out untested patterns
// from crowding out proven ones.
func (s *Store) RecommendedPatterns(ctx context.Context, minUses, n int) ([]*ReasoningPattern, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, name, trigger, description, success_count, use_count, success_rate, created_at, updated_at
		FROM reasoning_patterns WHERE use_count >= ? ORDER BY success_rate DESC LIMIT ?
	`, minUses, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatterns(rows)
}

func collectPatterns(rows *sql.Rows) ([]*ReasoningPattern, error) {
	var out []*ReasoningPattern
	for rows.Next() {
		var p ReasoningPattern
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Trigger, &p.Description, &p.SuccessCount, &p.UseCount,
			&p.SuccessRate, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// StorePatternUsage records a usage and recomputes success_count/use_count/
// success_rate on the parent pattern in the same transaction:
// success_rate = success_count / use_count.
func (s *Store) StorePatternUsage(ctx context.Context, usageID, patternID, sessionID string, success bool) error {
	return WithCriticalWrite(ctx, func() error {
		tx, err := s.Main.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pattern_usages (id, pattern_id, session_id, success, created_at) VALUES (?, ?, ?, ?, ?)
		`, usageID, patternID, sessionID, boolToInt(success), now.Unix()); err != nil {
			return err
		}

		successIncrement := 0
		if success {
			successIncrement = 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE reasoning_patterns
			SET use_count = use_count + 1,
			    success_count = success_count + ?,
			    success_rate = CAST(success_count + ? AS REAL) / (use_count + 1),
			    updated_at = ?
			WHERE id = ?
		`, successIncrement, successIncrement, now.Unix(), patternID); err != nil {
			return err
		}
		return tx.Commit()
	})
}
