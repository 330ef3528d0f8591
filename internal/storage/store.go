package storage

import (
	"fmt"
	"path/filepath"
)

// Store bundles the two pools the design requires: the main store for
// session/memory/pattern entities, and the code-index store for symbol and
// call-graph data. They are separate files so the code-index rebuild path
// (which can be dropped and rebuilt wholesale) never contends with session
// writes.
type Store struct {
	Main      *Pool
	CodeIndex *Pool
}

// Open opens both pools under dataDir (typically the per-user data
// directory, e.g. ~/.local/share/<app>), creating the directory and files on
// first use.
func Open(dataDir string) (*Store, error) {
	mainPath := filepath.Join(dataDir, "mira.db")
	main, err := OpenPool(mainPath, mainMigrations, "migrations/main")
	if err != nil {
		return nil, fmt.Errorf("open main store: %w", err)
	}

	indexPath := filepath.Join(dataDir, "code_index.db")
	index, err := OpenPool(indexPath, codeIndexMigrations, "migrations/codeindex")
	if err != nil {
		main.Close()
		return nil, fmt.Errorf("open code-index store: %w", err)
	}

	return &Store{Main: main, CodeIndex: index}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	err1 := s.Main.Close()
	err2 := s.CodeIndex.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
