package storage

import (
	"context"
	"database/sql"
	"time"
)

// UpsertProject inserts a project row or, if root_path already exists,
// returns the existing one untouched. Project identity is the root path,
// not a caller-supplied ID, so repeated opens of the same directory resolve
// to the same project.
func (s *Store) UpsertProject(ctx context.Context, id, rootPath, vcsDir string) (*Project, error) {
	now := time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO projects (id, root_path, vcs_dir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(root_path) DO NOTHING
	`, id, rootPath, vcsDir, now.Unix(), now.Unix())
	if err != nil {
		return nil, err
	}
	return s.GetProjectByRootPath(ctx, rootPath)
}

// GetProjectByRootPath fetches a project by its working directory.
func (s *Store) GetProjectByRootPath(ctx context.Context, rootPath string) (*Project, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, root_path, vcs_dir, created_at, updated_at FROM projects WHERE root_path = ?
	`, rootPath)
	return scanProject(row)
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.Main.DB().QueryRowContext(ctx, `
		SELECT id, root_path, vcs_dir, created_at, updated_at FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var vcsDir sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.RootPath, &vcsDir, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.VCSDir = vcsDir.String
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
