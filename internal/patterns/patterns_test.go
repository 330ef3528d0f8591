package patterns

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirabackend/mira/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestPatternUsage_TracksSuccessRate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.StorePattern(ctx, "retry-with-backoff", "transient_network_error", "")
	require.NoError(t, err)

	require.NoError(t, s.StoreUsage(ctx, p.ID, "sess-1", true))
	require.NoError(t, s.StoreUsage(ctx, p.ID, "sess-1", true))
	require.NoError(t, s.StoreUsage(ctx, p.ID, "sess-1", false))

	list, err := s.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 3, list[0].UseCount)
	require.Equal(t, 2, list[0].SuccessCount)
	require.InDelta(t, 2.0/3.0, list[0].SuccessRate, 0.0001)
}

func TestTryAutoResolve_RequiresBothGlobalAndSessionThresholds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Fingerprint A: 3 global occurrences, but only 2 session-local failures.
	var fpA string
	for i := 0; i < 3; i++ {
		var err error
		fpA, err = s.RecordError(ctx, "write_file", "disk quota exceeded")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.LogSessionFailure(ctx, "sess-1", fmt.Sprintf(`{"error_fingerprint":%q}`, fpA)))
	}

	resolved, err := s.TryAutoResolve(ctx, "write_file", "sess-1", "caller freed disk space")
	require.NoError(t, err)
	require.Empty(t, resolved, "should not resolve with only 2 session-local failures")
}

func TestTryAutoResolve_ResolvesHighestSequenceAmongQualifyingCandidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mkFingerprint := func(msg string, occurrences, sessionFailures int) string {
		var fp string
		for i := 0; i < occurrences; i++ {
			var err error
			fp, err = s.RecordError(ctx, "bash", msg)
			require.NoError(t, err)
		}
		for i := 0; i < sessionFailures; i++ {
			require.NoError(t, s.LogSessionFailure(ctx, "sess-1", fmt.Sprintf(`{"error_fingerprint":%q}`, fp)))
		}
		return fp
	}

	// Both fingerprints clear the global and session thresholds; B is logged
	// after A, so B's last failure has the higher sequence_position.
	fpA := mkFingerprint("permission denied: /tmp/a.txt", 3, 3)
	fpB := mkFingerprint("command not found: ripgrep", 4, 3)

	resolved, err := s.TryAutoResolve(ctx, "bash", "sess-1", "installed ripgrep")
	require.NoError(t, err)
	require.Equal(t, fpB, resolved)

	// fpA remains unresolved.
	unresolved, err := s.db.UnresolvedPatternsForTool(ctx, "bash", minGlobalOccurrences)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Equal(t, fpA, unresolved[0].Fingerprint)
}

func TestTryAutoResolve_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var fp string
	for i := 0; i < 3; i++ {
		var err error
		fp, err = s.RecordError(ctx, "grep_files", "pattern not found")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogSessionFailure(ctx, "sess-1", fmt.Sprintf(`{"error_fingerprint":%q}`, fp)))
	}

	resolved, err := s.TryAutoResolve(ctx, "grep_files", "sess-1", "fixed the regex")
	require.NoError(t, err)
	require.Equal(t, fp, resolved)

	resolved2, err := s.TryAutoResolve(ctx, "grep_files", "sess-1", "fixed again")
	require.NoError(t, err)
	require.Empty(t, resolved2, "a resolved pattern must not be returned again")
}
