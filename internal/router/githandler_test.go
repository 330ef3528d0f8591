package router

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644)
	run("add", ".")
	run("commit", "-q", "-m", "initial commit")

	return dir
}

func TestGitHandler_LogReturnsCommits(t *testing.T) {
	dir := initTestRepo(t)
	h := NewGitHandler(NewFileHandler(dir))

	out, err := h.Log(context.Background(), "", 5)
	if err != nil {
		t.Fatal(err)
	}
	commits, ok := out["commits"].([]map[string]any)
	if !ok || len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %v", out["commits"])
	}
	if commits[0]["subject"] != "initial commit" {
		t.Fatalf("unexpected subject: %v", commits[0]["subject"])
	}
}

func TestGitHandler_StatusReportsCleanTree(t *testing.T) {
	dir := initTestRepo(t)
	h := NewGitHandler(NewFileHandler(dir))

	out, err := h.Status(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if out["status"] == nil {
		t.Fatal("expected a status string")
	}
}

func TestGitHandler_FileAtCommitReturnsContent(t *testing.T) {
	dir := initTestRepo(t)
	h := NewGitHandler(NewFileHandler(dir))

	logOut, err := h.Log(context.Background(), "", 1)
	if err != nil {
		t.Fatal(err)
	}
	commits := logOut["commits"].([]map[string]any)
	hash := commits[0]["hash"].(string)

	out, err := h.FileAtCommit(context.Background(), "", hash, "README.md")
	if err != nil {
		t.Fatal(err)
	}
	if out["content"] != "hello" {
		t.Fatalf("unexpected content: %v", out["content"])
	}
}
