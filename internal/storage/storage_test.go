package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ProjectUpsertIsIdempotentByRootPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p1, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", ".git")
	require.NoError(t, err)

	p2, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", ".git")
	require.NoError(t, err)

	require.Equal(t, p1.ID, p2.ID)
}

func TestStore_SessionCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	proj, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", "")
	require.NoError(t, err)

	sess := &Session{ID: ulid.Make().String(), ProjectID: proj.ID, Title: "initial", Mode: "build", Agent: "primary"}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "initial", got.Title)

	got.Title = "renamed"
	require.NoError(t, s.UpdateSession(ctx, got))

	got2, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got2.Title)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendMessageAssignsIncreasingSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	proj, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", "")
	require.NoError(t, err)
	sess := &Session{ID: ulid.Make().String(), ProjectID: proj.ID}
	require.NoError(t, s.CreateSession(ctx, sess))

	for i := 0; i < 3; i++ {
		msg := &Message{ID: ulid.Make().String(), SessionID: sess.ID, Role: "user", Content: "hi"}
		require.NoError(t, s.AppendMessage(ctx, msg))
	}

	msgs, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, int64(0), msgs[0].SequencePosition)
	require.Equal(t, int64(1), msgs[1].SequencePosition)
	require.Equal(t, int64(2), msgs[2].SequencePosition)
}

func TestStore_RecentMessagesWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	proj, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", "")
	require.NoError(t, err)
	sess := &Session{ID: ulid.Make().String(), ProjectID: proj.ID}
	require.NoError(t, s.CreateSession(ctx, sess))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: ulid.Make().String(), SessionID: sess.ID, Role: "user"}))
	}

	recent, err := s.RecentMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, int64(3), recent[0].SequencePosition)
	require.Equal(t, int64(4), recent[1].SequencePosition)
}

func TestStore_MemoryFactUpsertMergesByNaturalKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fact := &MemoryFact{
		ID: ulid.Make().String(), ProjectID: "proj-1", Team: "", Scope: "global",
		Key: "build-command", Value: "make build", Status: "tentative", Confidence: 0.5,
		SessionCount: 1, LastSessionID: "sess-1",
	}
	stored, err := s.UpsertMemoryFact(ctx, fact, nil)
	require.NoError(t, err)
	require.Equal(t, "tentative", stored.Status)

	merged, err := s.UpsertMemoryFact(ctx, fact, func(existing *MemoryFact) *MemoryFact {
		existing.Value = "make build-release"
		existing.SessionCount++
		existing.LastSessionID = "sess-2"
		return existing
	})
	require.NoError(t, err)
	require.Equal(t, "make build-release", merged.Value)
	require.Equal(t, 2, merged.SessionCount)
	require.Equal(t, stored.ID, merged.ID)
}

func TestStore_ObservationSweepRemovesExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpsertObservation(ctx, &SystemObservation{
		ID: ulid.Make().String(), ProjectID: "proj-1", ObservationType: "todo_snapshot",
		Key: "k1", Payload: "{}", ExpiresAt: &past,
	}))

	n, err := s.SweepExpiredObservations(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	obs, err := s.ListObservations(ctx, "proj-1", "todo_snapshot")
	require.NoError(t, err)
	require.Empty(t, obs)
}

func TestStore_ErrorPatternUpsertAndResolveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := ulid.Make().String()
	require.NoError(t, s.StoreErrorPattern(ctx, id, "fp-1", "write_file", "permission denied: <PATH>"))
	require.NoError(t, s.StoreErrorPattern(ctx, id, "fp-1", "write_file", "permission denied: <PATH>"))

	pat, err := s.GetErrorPatternByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	require.Equal(t, 2, pat.OccurrenceCount)
	require.False(t, pat.Resolved)

	n, err := s.ResolveErrorPattern(ctx, "fp-1", "caller created parent directory first")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Re-resolving an already-resolved pattern is a no-op.
	n, err = s.ResolveErrorPattern(ctx, "fp-1", "something else")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestStore_PatternUsageRecomputesSuccessRate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &ReasoningPattern{ID: ulid.Make().String(), Name: "retry-with-backoff", Trigger: "transient_network_error"}
	require.NoError(t, s.StorePattern(ctx, p))

	require.NoError(t, s.StorePatternUsage(ctx, ulid.Make().String(), p.ID, "sess-1", true))
	require.NoError(t, s.StorePatternUsage(ctx, ulid.Make().String(), p.ID, "sess-1", false))

	list, err := s.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 2, list[0].UseCount)
	require.Equal(t, 1, list[0].SuccessCount)
	require.InDelta(t, 0.5, list[0].SuccessRate, 0.0001)
}

func TestStore_ConcurrentAppendMessageOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	proj, err := s.UpsertProject(ctx, ulid.Make().String(), "/work/repo", "")
	require.NoError(t, err)
	sess := &Session{ID: ulid.Make().String(), ProjectID: proj.ID}
	require.NoError(t, s.CreateSession(ctx, sess))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendMessage(ctx, &Message{ID: ulid.Make().String(), SessionID: sess.ID, Role: "user"})
		}()
	}
	wg.Wait()

	msgs, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	seen := make(map[int64]bool)
	for _, m := range msgs {
		require.False(t, seen[m.SequencePosition], "duplicate sequence position")
		seen[m.SequencePosition] = true
	}
}

func TestStore_DataFileIsolatedFromCodeIndexFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NotEqual(t, filepath.Clean(dir+"/mira.db"), filepath.Clean(dir+"/code_index.db"))
}
