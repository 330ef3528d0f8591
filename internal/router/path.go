package router

import (
	"path/filepath"
	"strings"

	"github.com/mirabackend/mira/internal/apperror"
)

// resolvePath joins path onto base and enforces the sandbox invariant:
// a ".." component anywhere in path is a PathTraversal, and the resolved
// path escaping base after joining is a PathEscape. unrestricted bypasses
// both checks entirely (used only by write_file).
func resolvePath(base, path string, unrestricted bool) (string, error) {
	if unrestricted {
		if filepath.IsAbs(path) {
			return filepath.Clean(path), nil
		}
		return filepath.Clean(filepath.Join(base, path)), nil
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", apperror.New(apperror.PathTraversal, "path must not contain \"..\": "+path)
		}
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(base, path))
	}

	cleanBase := filepath.Clean(base)
	if resolved != cleanBase && !strings.HasPrefix(resolved, cleanBase+string(filepath.Separator)) {
		return "", apperror.New(apperror.PathEscape, "path escapes base directory: "+path)
	}

	return resolved, nil
}
