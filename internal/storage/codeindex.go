package storage

import (
	"context"
	"time"
)

// UpsertCodeSymbol indexes (or re-indexes) one symbol.
func (s *Store) UpsertCodeSymbol(ctx context.Context, sym *CodeSymbol) error {
	now := time.Now()
	_, err := s.CodeIndex.DB().ExecContext(ctx, `
		INSERT INTO code_symbols (id, project_id, file_path, symbol_name, kind, line_start, line_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, file_path, symbol_name, line_start) DO UPDATE SET
			kind = excluded.kind, line_end = excluded.line_end, updated_at = excluded.updated_at
	`, sym.ID, sym.ProjectID, sym.FilePath, sym.SymbolName, sym.Kind, sym.LineStart, sym.LineEnd, now.Unix())
	return err
}

// FindSymbol returns symbols matching a name within a project.
func (s *Store) FindSymbol(ctx context.Context, projectID, name string) ([]*CodeSymbol, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, file_path, symbol_name, kind, line_start, line_end, updated_at
		FROM code_symbols WHERE project_id = ? AND symbol_name = ?
	`, projectID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CodeSymbol
	for rows.Next() {
		var c CodeSymbol
		var updatedAt int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.SymbolName, &c.Kind, &c.LineStart, &c.LineEnd, &updatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SymbolsInFile returns all indexed symbols for a file.
func (s *Store) SymbolsInFile(ctx context.Context, projectID, filePath string) ([]*CodeSymbol, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, file_path, symbol_name, kind, line_start, line_end, updated_at
		FROM code_symbols WHERE project_id = ? AND file_path = ? ORDER BY line_start ASC
	`, projectID, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CodeSymbol
	for rows.Next() {
		var c CodeSymbol
		var updatedAt int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.SymbolName, &c.Kind, &c.LineStart, &c.LineEnd, &updatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SearchSymbols does a substring match over symbol names within a project,
// standing in for full semantic search until an embedding index exists.
func (s *Store) SearchSymbols(ctx context.Context, projectID, query string, limit int) ([]*CodeSymbol, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, file_path, symbol_name, kind, line_start, line_end, updated_at
		FROM code_symbols WHERE project_id = ? AND symbol_name LIKE ? ORDER BY symbol_name ASC LIMIT ?
	`, projectID, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CodeSymbol
	for rows.Next() {
		var c CodeSymbol
		var updatedAt int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.SymbolName, &c.Kind, &c.LineStart, &c.LineEnd, &updatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ProjectStats summarizes the code index for a project: symbol and edge counts.
type ProjectStats struct {
	SymbolCount    int
	CallEdgeCount  int
	ImportEdgeCount int
	FileCount      int
}

// CodeIndexStats computes aggregate counts over the code index for a project.
func (s *Store) CodeIndexStats(ctx context.Context, projectID string) (*ProjectStats, error) {
	var stats ProjectStats
	row := s.CodeIndex.DB().QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT file_path) FROM code_symbols WHERE project_id = ?
	`, projectID)
	if err := row.Scan(&stats.SymbolCount, &stats.FileCount); err != nil {
		return nil, err
	}
	row = s.CodeIndex.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM call_graph_edges WHERE project_id = ?
	`, projectID)
	if err := row.Scan(&stats.CallEdgeCount); err != nil {
		return nil, err
	}
	row = s.CodeIndex.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM import_edges WHERE project_id = ?
	`, projectID)
	if err := row.Scan(&stats.ImportEdgeCount); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeleteSymbolsInFile removes all indexed symbols for a file, used before
// re-indexing it from scratch.
func (s *Store) DeleteSymbolsInFile(ctx context.Context, projectID, filePath string) error {
	_, err := s.CodeIndex.DB().ExecContext(ctx, `
		DELETE FROM code_symbols WHERE project_id = ? AND file_path = ?
	`, projectID, filePath)
	return err
}

// AddCallGraphEdge records a caller -> callee edge observed in filePath.
func (s *Store) AddCallGraphEdge(ctx context.Context, edge *CallGraphEdge) error {
	edge.UpdatedAt = time.Now()
	_, err := s.CodeIndex.DB().ExecContext(ctx, `
		INSERT INTO call_graph_edges (id, project_id, caller_symbol, callee_symbol, file_path, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, edge.ID, edge.ProjectID, edge.CallerSymbol, edge.CalleeSymbol, edge.FilePath, edge.UpdatedAt.Unix())
	return err
}

// CallersOf returns edges where calleeSymbol is the callee.
func (s *Store) CallersOf(ctx context.Context, projectID, calleeSymbol string) ([]*CallGraphEdge, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, caller_symbol, callee_symbol, file_path, updated_at
		FROM call_graph_edges WHERE project_id = ? AND callee_symbol = ?
	`, projectID, calleeSymbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCallGraphEdges(rows)
}

// CalleesOf returns edges where callerSymbol is the caller.
func (s *Store) CalleesOf(ctx context.Context, projectID, callerSymbol string) ([]*CallGraphEdge, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, caller_symbol, callee_symbol, file_path, updated_at
		FROM call_graph_edges WHERE project_id = ? AND caller_symbol = ?
	`, projectID, callerSymbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCallGraphEdges(rows)
}

func collectCallGraphEdges(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*CallGraphEdge, error) {
	var out []*CallGraphEdge
	for rows.Next() {
		var e CallGraphEdge
		var updatedAt int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.CallerSymbol, &e.CalleeSymbol, &e.FilePath, &updatedAt); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AddImportEdge records a file -> imported-path relationship.
func (s *Store) AddImportEdge(ctx context.Context, edge *ImportEdge) error {
	edge.UpdatedAt = time.Now()
	_, err := s.CodeIndex.DB().ExecContext(ctx, `
		INSERT INTO import_edges (id, project_id, file_path, imported_path, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, edge.ID, edge.ProjectID, edge.FilePath, edge.ImportedPath, edge.UpdatedAt.Unix())
	return err
}

// ImportersOf returns files that import importedPath.
func (s *Store) ImportersOf(ctx context.Context, projectID, importedPath string) ([]string, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT DISTINCT file_path FROM import_edges WHERE project_id = ? AND imported_path = ?
	`, projectID, importedPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordCoChange bumps the co-change count between two files (file_a <
// file_b lexically, enforced by the caller) observed in the same commit.
func (s *Store) RecordCoChange(ctx context.Context, id, projectID, fileA, fileB string) error {
	now := time.Now()
	_, err := s.CodeIndex.DB().ExecContext(ctx, `
		INSERT INTO co_change_patterns (id, project_id, file_a, file_b, co_change_count, last_seen)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(project_id, file_a, file_b) DO UPDATE SET
			co_change_count = co_change_count + 1, last_seen = excluded.last_seen
	`, id, projectID, fileA, fileB, now.Unix())
	return err
}

// TopCoChanges returns the n files most often changed alongside filePath.
func (s *Store) TopCoChanges(ctx context.Context, projectID, filePath string, n int) ([]*CoChangePattern, error) {
	rows, err := s.CodeIndex.DB().QueryContext(ctx, `
		SELECT id, project_id, file_a, file_b, co_change_count, last_seen
		FROM co_change_patterns WHERE project_id = ? AND (file_a = ? OR file_b = ?)
		ORDER BY co_change_count DESC LIMIT ?
	`, projectID, filePath, filePath, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CoChangePattern
	for rows.Next() {
		var c CoChangePattern
		var lastSeen int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FileA, &c.FileB, &c.CoChangeCount, &lastSeen); err != nil {
			return nil, err
		}
		c.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}
