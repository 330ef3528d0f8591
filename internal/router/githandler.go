package router

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mirabackend/mira/internal/apperror"
)

// GitHandler is a stateless value sink over spawned git subprocesses,
// one per (projectID) working directory.
type GitHandler struct {
	fileHandler *FileHandler
}

// NewGitHandler creates a git handler that resolves project directories
// the same way the file handler does.
func NewGitHandler(fh *FileHandler) *GitHandler {
	return &GitHandler{fileHandler: fh}
}

func (g *GitHandler) run(ctx context.Context, projectID string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.fileHandler.baseFor(projectID)
	out, err := cmd.Output()
	if err != nil {
		return "", apperror.Wrap(apperror.IoError, "git "+strings.Join(args, " "), err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// Log returns the last n commits, newest first.
func (g *GitHandler) Log(ctx context.Context, projectID string, n int) (map[string]any, error) {
	if n <= 0 {
		n = 20
	}
	out, err := g.run(ctx, projectID, "log", "-n", strconv.Itoa(n), "--pretty=format:%H|%an|%ad|%s", "--date=iso")
	if err != nil {
		return nil, err
	}
	return map[string]any{"commits": parseLogLines(out)}, nil
}

// Blame annotates each line of a file with its last-touching commit.
func (g *GitHandler) Blame(ctx context.Context, projectID, path string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "blame", "--line-porcelain", path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "blame": out}, nil
}

// Diff returns the working-tree diff, optionally scoped to a path.
func (g *GitHandler) Diff(ctx context.Context, projectID, path string) (map[string]any, error) {
	args := []string{"diff"}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := g.run(ctx, projectID, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"diff": out}, nil
}

// FileHistory returns the commit log touching a single file.
func (g *GitHandler) FileHistory(ctx context.Context, projectID, path string, n int) (map[string]any, error) {
	if n <= 0 {
		n = 20
	}
	out, err := g.run(ctx, projectID, "log", "-n", strconv.Itoa(n), "--pretty=format:%H|%an|%ad|%s", "--date=iso", "--", path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "commits": parseLogLines(out)}, nil
}

// Branches lists local branches and marks the current one.
func (g *GitHandler) Branches(ctx context.Context, projectID string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "branch", "--list")
	if err != nil {
		return nil, err
	}
	var branches []map[string]any
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		current := strings.HasPrefix(line, "* ")
		name := strings.TrimPrefix(line, "* ")
		branches = append(branches, map[string]any{"name": name, "current": current})
	}
	return map[string]any{"branches": branches}, nil
}

// ShowCommit returns the full patch for a single commit.
func (g *GitHandler) ShowCommit(ctx context.Context, projectID, commit string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "show", commit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commit": commit, "show": out}, nil
}

// FileAtCommit returns a file's contents as of a given commit.
func (g *GitHandler) FileAtCommit(ctx context.Context, projectID, commit, path string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "show", commit+":"+path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commit": commit, "path": path, "content": out}, nil
}

// RecentChanges lists files touched across the last n commits.
func (g *GitHandler) RecentChanges(ctx context.Context, projectID string, n int) (map[string]any, error) {
	if n <= 0 {
		n = 10
	}
	out, err := g.run(ctx, projectID, "log", "-n", strconv.Itoa(n), "--name-only", "--pretty=format:commit:%H")
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": out}, nil
}

// Contributors summarizes commit counts per author.
func (g *GitHandler) Contributors(ctx context.Context, projectID string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "shortlog", "-sne", "HEAD")
	if err != nil {
		return nil, err
	}
	var contributors []map[string]any
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		count, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		contributors = append(contributors, map[string]any{"author": parts[1], "commits": count})
	}
	return map[string]any{"contributors": contributors}, nil
}

// Status returns the porcelain working-tree status.
func (g *GitHandler) Status(ctx context.Context, projectID string) (map[string]any, error) {
	out, err := g.run(ctx, projectID, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": out}, nil
}

func parseLogLines(out string) []map[string]any {
	if out == "" {
		return nil
	}
	var commits []map[string]any
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, map[string]any{
			"hash":    parts[0],
			"author":  parts[1],
			"date":    parts[2],
			"subject": parts[3],
		})
	}
	return commits
}
