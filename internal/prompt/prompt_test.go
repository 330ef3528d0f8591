package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mirabackend/mira/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty string should estimate 0 tokens, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("4 chars should estimate 1 token, got %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Fatalf("5 chars should round up to 2 tokens, got %d", got)
	}
}

func TestStaticPrefix_HashStableAcrossRendersWithSameInputs(t *testing.T) {
	p := StaticPrefix{Persona: "You are Mira.", ToolDescriptions: []string{"read_file", "write_file"}, IncludeTools: true}
	q := StaticPrefix{Persona: "You are Mira.", ToolDescriptions: []string{"read_file", "write_file"}, IncludeTools: true}
	if p.Hash() != q.Hash() {
		t.Fatal("expected identical hash for identical static prefix inputs")
	}
}

func TestStaticPrefix_HashChangesWithIncludeToolsFlag(t *testing.T) {
	p := StaticPrefix{Persona: "You are Mira.", ToolDescriptions: []string{"read_file"}, IncludeTools: true}
	q := p
	q.IncludeTools = false
	if p.Hash() == q.Hash() {
		t.Fatal("expected hash to change when include_tools_flag differs")
	}
}

func TestBuild_ColdCacheEmitsEveryPrimarySectionInFull(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	static := StaticPrefix{Persona: "persona"}
	sections := []Section{
		{Name: "project", Content: "project context"},
		{Name: "memory", Content: "memory context"},
	}

	out, err := Build(ctx, store, "sess1", static, sections, now)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Text, "[SECTION: unchanged") {
		t.Fatal("a cold cache must not emit any unchanged placeholder")
	}
	if !strings.Contains(out.Text, "project context") || !strings.Contains(out.Text, "memory context") {
		t.Fatal("expected both sections emitted in full")
	}
}

func TestBuild_WarmUnchangedSectionEmitsPlaceholder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	static := StaticPrefix{Persona: "persona"}
	sections := []Section{{Name: "project", Content: "unchanged content"}}

	if _, err := Build(ctx, store, "sess1", static, sections, t0); err != nil {
		t.Fatal(err)
	}

	t1 := t0.Add(1 * time.Minute)
	out, err := Build(ctx, store, "sess1", static, sections, t1)
	if err != nil {
		t.Fatal(err)
	}
	if !out.SectionOutcomes["project"].Cached {
		t.Fatal("expected the unchanged section to be cached on a warm, unchanged second call")
	}
	if !strings.Contains(out.Text, "[SECTION: unchanged since") {
		t.Fatal("expected an unchanged-since placeholder in the rendered text")
	}
}

func TestBuild_ChangedSectionIsReEmittedEvenWhenWarm(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	static := StaticPrefix{Persona: "persona"}
	if _, err := Build(ctx, store, "sess1", static, []Section{{Name: "project", Content: "v1"}}, t0); err != nil {
		t.Fatal(err)
	}

	t1 := t0.Add(1 * time.Minute)
	out, err := Build(ctx, store, "sess1", static, []Section{{Name: "project", Content: "v2"}}, t1)
	if err != nil {
		t.Fatal(err)
	}
	if out.SectionOutcomes["project"].Cached {
		t.Fatal("a changed section must never be reported as cached")
	}
	if !strings.Contains(out.Text, "v2") {
		t.Fatal("expected the new content to be emitted")
	}
}

func TestBuild_StaleCacheBeyondWarmWindowReEmitsInFull(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	static := StaticPrefix{Persona: "persona"}
	sections := []Section{{Name: "project", Content: "same content"}}

	if _, err := Build(ctx, store, "sess1", static, sections, t0); err != nil {
		t.Fatal(err)
	}

	t1 := t0.Add(10 * time.Minute)
	out, err := Build(ctx, store, "sess1", static, sections, t1)
	if err != nil {
		t.Fatal(err)
	}
	if out.SectionOutcomes["project"].Cached {
		t.Fatal("expected a cache older than the warm window to be treated as cold")
	}
}
