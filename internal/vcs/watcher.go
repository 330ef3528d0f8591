// Package vcs provides version control and project-activity watching:
// git branch tracking and a file-system watcher that feeds the code-index
// store's co-change table from edits made outside the orchestrator's own
// tool calls (editor saves, external scripts).
package vcs

import (
	"context"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/storage"
)

// coChangeWindow is how close together two file writes must land to be
// recorded as a co-change pair.
const coChangeWindow = 2 * time.Minute

// Watcher watches a project's working tree for git branch changes and
// file writes, recording co-change edges in the code-index store.
type Watcher struct {
	watcher       *fsnotify.Watcher
	workDir       string
	gitDir        string
	currentBranch string

	store     *storage.Store
	projectID string
	recent    map[string]time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.RWMutex
}

// NewWatcher creates a new project watcher for the given work directory.
// store/projectID may be left nil/empty to run branch-tracking only.
// Returns nil if the directory is not a git repository.
func NewWatcher(workDir string, store *storage.Store, projectID string) (*Watcher, error) {
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		log.Debug().Str("workDir", workDir).Msg("not a git repository, VCS watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}
	if err := addTree(w, workDir); err != nil {
		log.Warn().Err(err).Str("workDir", workDir).Msg("partial file watch coverage")
	}

	branch := getCurrentBranch(workDir)
	log.Info().Str("branch", branch).Str("gitDir", gitDir).Msg("VCS watcher initialized")

	return &Watcher{
		watcher:       w,
		workDir:       workDir,
		gitDir:        gitDir,
		currentBranch: branch,
		store:         store,
		projectID:     projectID,
		recent:        make(map[string]time.Time),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// addTree registers every non-vendored source directory under root with the
// watcher. Best-effort: fsnotify has no recursive mode, so this walks once at
// startup and does not pick up newly created subdirectories.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == ".git" || base == "node_modules" || base == "vendor" || strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		_ = w.Add(path)
		return nil
	})
}

// Start begins watching for branch changes and file writes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if strings.HasSuffix(ev.Name, "HEAD") || strings.Contains(ev.Name, string(filepath.Separator)+".git"+string(filepath.Separator)) || strings.HasSuffix(ev.Name, string(filepath.Separator)+".git") {
				w.checkBranchChange()
				continue
			}
			w.recordActivity(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("VCS watcher error")
		}
	}
}

// recordActivity tracks a file write against the recent-writes window and
// records a co-change edge against every other file written within it.
func (w *Watcher) recordActivity(name string) {
	rel, err := filepath.Rel(w.workDir, name)
	if err != nil {
		rel = name
	}
	rel = filepath.ToSlash(rel)

	now := time.Now()

	w.mu.Lock()
	var partners []string
	for f, t := range w.recent {
		if now.Sub(t) > coChangeWindow {
			delete(w.recent, f)
			continue
		}
		if f != rel {
			partners = append(partners, f)
		}
	}
	w.recent[rel] = now
	w.mu.Unlock()

	event.PublishSync(event.Event{
		Type: event.RepoActivity,
		Data: event.RepoActivityData{ProjectID: w.projectID, File: rel},
	})

	if w.store == nil || w.projectID == "" {
		return
	}
	ctx := context.Background()
	for _, partner := range partners {
		fileA, fileB := rel, partner
		if fileB < fileA {
			fileA, fileB = fileB, fileA
		}
		if err := w.store.RecordCoChange(ctx, ulid.Make().String(), w.projectID, fileA, fileB); err != nil {
			log.Warn().Err(err).Str("fileA", fileA).Str("fileB", fileB).Msg("failed to record co-change")
		}
	}
}

func (w *Watcher) checkBranchChange() {
	newBranch := getCurrentBranch(w.workDir)

	w.mu.Lock()
	oldBranch := w.currentBranch
	changed := newBranch != oldBranch
	if changed {
		w.currentBranch = newBranch
	}
	w.mu.Unlock()

	if changed {
		log.Info().
			Str("from", oldBranch).
			Str("to", newBranch).
			Msg("branch changed")

		event.PublishSync(event.Event{
			Type: event.VcsBranchUpdated,
			Data: event.VcsBranchUpdatedData{Branch: newBranch},
		})
	}
}

// CurrentBranch returns the currently tracked branch name.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentBranch
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

// findGitDir finds the .git directory for a given work directory.
// Handles both regular repos (.git directory) and worktrees (.git file).
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}

	return gitDir
}

// getCurrentBranch gets the current git branch name.
func getCurrentBranch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// GetBranch returns the current branch for a given directory (static helper).
func GetBranch(workDir string) string {
	return getCurrentBranch(workDir)
}
