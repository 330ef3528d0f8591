package router

import (
	"context"

	"github.com/mirabackend/mira/internal/storage"
)

// CodeIntelHandler is a read-only adapter over the code-index database and
// call graph. It never mutates the index; indexing is done elsewhere.
type CodeIntelHandler struct {
	store *storage.Store
}

// NewCodeIntelHandler wraps a storage.Store for read-only code-intelligence queries.
func NewCodeIntelHandler(store *storage.Store) *CodeIntelHandler {
	return &CodeIntelHandler{store: store}
}

// FindFunction, FindClass, FindStruct all delegate to FindSymbol with a kind
// filter applied client-side, since the table is small enough per project
// that a kind index isn't worth the extra migration.
func (h *CodeIntelHandler) FindFunction(ctx context.Context, projectID, name string) ([]*storage.CodeSymbol, error) {
	return h.findByKind(ctx, projectID, name, "function", "fn")
}

func (h *CodeIntelHandler) FindClass(ctx context.Context, projectID, name string) ([]*storage.CodeSymbol, error) {
	return h.findByKind(ctx, projectID, name, "class")
}

func (h *CodeIntelHandler) FindStruct(ctx context.Context, projectID, name string) ([]*storage.CodeSymbol, error) {
	return h.findByKind(ctx, projectID, name, "struct")
}

func (h *CodeIntelHandler) findByKind(ctx context.Context, projectID, name string, kinds ...string) ([]*storage.CodeSymbol, error) {
	all, err := h.store.FindSymbol(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []*storage.CodeSymbol
	for _, s := range all {
		if want[s.Kind] {
			out = append(out, s)
		}
	}
	return out, nil
}

// SemanticSearch stands in for embedding-backed search with a substring
// match over indexed symbol names.
func (h *CodeIntelHandler) SemanticSearch(ctx context.Context, projectID, query string, limit int) ([]*storage.CodeSymbol, error) {
	if limit <= 0 {
		limit = 20
	}
	return h.store.SearchSymbols(ctx, projectID, query, limit)
}

// Imports returns the import edges recorded for a file.
func (h *CodeIntelHandler) Imports(ctx context.Context, projectID, filePath string) ([]string, error) {
	rows, err := h.store.CodeIndex.DB().QueryContext(ctx, `
		SELECT DISTINCT imported_path FROM import_edges WHERE project_id = ? AND file_path = ?
	`, projectID, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Dependencies returns files that import the given path (the inverse view
// of Imports, read from the same edge table).
func (h *CodeIntelHandler) Dependencies(ctx context.Context, projectID, importedPath string) ([]string, error) {
	return h.store.ImportersOf(ctx, projectID, importedPath)
}

// FileSymbols returns every indexed symbol declared in a file.
func (h *CodeIntelHandler) FileSymbols(ctx context.Context, projectID, filePath string) ([]*storage.CodeSymbol, error) {
	return h.store.SymbolsInFile(ctx, projectID, filePath)
}

// FindCallers returns call-graph edges whose callee is calleeSymbol.
func (h *CodeIntelHandler) FindCallers(ctx context.Context, projectID, calleeSymbol string) ([]*storage.CallGraphEdge, error) {
	return h.store.CallersOf(ctx, projectID, calleeSymbol)
}

// ElementDefinition resolves a symbol name to its declaration site(s).
func (h *CodeIntelHandler) ElementDefinition(ctx context.Context, projectID, name string) ([]*storage.CodeSymbol, error) {
	return h.store.FindSymbol(ctx, projectID, name)
}

// CodebaseStats aggregates symbol, file, and edge counts for a project.
func (h *CodeIntelHandler) CodebaseStats(ctx context.Context, projectID string) (*storage.ProjectStats, error) {
	return h.store.CodeIndexStats(ctx, projectID)
}

// ComplexityHotspots surfaces files with an outsized symbol count as a
// proxy for complexity: no cyclomatic-complexity computation exists over
// the index, but file-level symbol density correlates well enough to be
// useful for a first pass.
func (h *CodeIntelHandler) ComplexityHotspots(ctx context.Context, projectID string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	all, err := h.store.SearchSymbols(ctx, projectID, "", 10000)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, s := range all {
		counts[s.FilePath]++
	}
	type fc struct {
		file  string
		count int
	}
	var sorted []fc
	for f, c := range counts {
		sorted = append(sorted, fc{f, c})
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].count > sorted[i].count {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]map[string]any, len(sorted))
	for i, e := range sorted {
		out[i] = map[string]any{"file": e.file, "symbol_count": e.count}
	}
	return out, nil
}

// TestsForCode finds test-kind symbols declared in the same file as the
// named symbol, a cheap proxy for "tests that exercise this code" absent
// any recorded test-to-subject mapping.
func (h *CodeIntelHandler) TestsForCode(ctx context.Context, projectID, symbolName string) ([]*storage.CodeSymbol, error) {
	subjects, err := h.store.FindSymbol(ctx, projectID, symbolName)
	if err != nil || len(subjects) == 0 {
		return nil, err
	}
	var out []*storage.CodeSymbol
	seen := make(map[string]bool)
	for _, subject := range subjects {
		if seen[subject.FilePath] {
			continue
		}
		seen[subject.FilePath] = true
		inFile, err := h.store.SymbolsInFile(ctx, projectID, subject.FilePath)
		if err != nil {
			return nil, err
		}
		for _, s := range inFile {
			if s.Kind == "test" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
