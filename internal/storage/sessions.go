package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	var parentID any
	if sess.ParentID != "" {
		parentID = sess.ParentID
	}
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, parent_id, title, mode, agent, shared, reverted_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.ProjectID, parentID, sess.Title, sess.Mode, sess.Agent, boolToInt(sess.Shared), nullIfEmpty(sess.RevertedTo), now.Unix(), now.Unix())
	return err
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, project_id, parent_id, title, mode, agent, shared, reverted_to, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// UpdateSession persists title/mode/agent/shared/reverted_to changes.
func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	_, err := s.Main.DB().ExecContext(ctx, `
		UPDATE sessions SET title = ?, mode = ?, agent = ?, shared = ?, reverted_to = ?, updated_at = ?
		WHERE id = ?
	`, sess.Title, sess.Mode, sess.Agent, boolToInt(sess.Shared), nullIfEmpty(sess.RevertedTo), time.Now().Unix(), sess.ID)
	return err
}

// DeleteSession removes a session and cascades to its messages/parts/tool
// calls/summaries/checkpoints via foreign keys.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.Main.DB().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ListSessions returns sessions for a project, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, projectID string) ([]*Session, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, project_id, parent_id, title, mode, agent, shared, reverted_to, created_at, updated_at
		FROM sessions WHERE project_id = ? ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListAllSessions returns every session across every project, most recently
// updated first.
func (s *Store) ListAllSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, project_id, parent_id, title, mode, agent, shared, reverted_to, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListChildren returns sessions forked from parentID.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*Session, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, project_id, parent_id, title, mode, agent, shared, reverted_to, created_at, updated_at
		FROM sessions WHERE parent_id = ? ORDER BY created_at ASC
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	return scanSessionRows(row)
}

func scanSessionRows(row rowScanner) (*Session, error) {
	var sess Session
	var parentID, revertedTo sql.NullString
	var shared int
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.ProjectID, &parentID, &sess.Title, &sess.Mode, &sess.Agent,
		&shared, &revertedTo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.ParentID = parentID.String
	sess.RevertedTo = revertedTo.String
	sess.Shared = shared != 0
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
