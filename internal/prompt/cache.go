// Package prompt builds the per-turn system prompt with a byte-identical
// static prefix and hash-diffed dynamic sections, so provider-side prefix
// caching actually pays off across turns.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mirabackend/mira/internal/storage"
)

// warmWindow is how long a section's prior hash remains trustworthy for the
// "unchanged since" shortcut before it must be re-emitted in full.
const warmWindow = 5 * time.Minute

// Section is one of the dynamic sections assembled per turn: project,
// memory, code_intelligence, or file.
type Section struct {
	Name    string
	Content string
}

// SectionOutcome records whether a section's content was cached (placeholder
// emitted) or emitted in full, and the hash recorded for next time.
type SectionOutcome struct {
	Hash   string
	Cached bool
}

// BuildResult is the assembled prompt plus per-section cache bookkeeping.
type BuildResult struct {
	Text            string
	StaticTokens    int
	ObservedTokens  int
	CachedTokens    int
	SectionOutcomes map[string]SectionOutcome
}

type priorState struct {
	hashes     map[string]string
	lastWarmAt time.Time
}

// Build assembles the full prompt text for one turn: the static prefix
// verbatim, followed by each dynamic section either in full or, when warm
// and unchanged, as an "unchanged since" placeholder. It then persists the
// new cache state for the next call.
func Build(ctx context.Context, store *storage.Store, sessionID string, static StaticPrefix, sections []Section, now time.Time) (*BuildResult, error) {
	prior, err := loadPriorState(ctx, store, sessionID)
	if err != nil {
		return nil, err
	}

	staticText := static.Render()
	staticTokens := EstimateTokens(staticText)

	var sb []byte
	sb = append(sb, staticText...)

	newHashes := make(map[string]string, len(sections))
	outcomes := make(map[string]SectionOutcome, len(sections))
	observedTokens := staticTokens
	cachedTokens := 0

	warm := prior != nil && now.Sub(prior.lastWarmAt) < warmWindow

	for _, section := range sections {
		hashNew := sectionHash(section.Content)
		newHashes[section.Name] = hashNew

		var cached bool
		if prior != nil && warm {
			if hashPrev, ok := prior.hashes[section.Name]; ok && hashPrev == hashNew {
				cached = true
			}
		}

		if cached {
			placeholder := fmt.Sprintf("[SECTION: unchanged since %s]", prior.lastWarmAt.UTC().Format(time.RFC3339))
			sb = append(sb, '\n', '\n')
			sb = append(sb, placeholder...)
			cachedTokens += EstimateTokens(section.Content)
		} else {
			sb = append(sb, '\n', '\n')
			sb = append(sb, section.Content...)
			observedTokens += EstimateTokens(section.Content)
		}

		outcomes[section.Name] = SectionOutcome{Hash: hashNew, Cached: cached}
	}

	if err := updateCacheState(ctx, store, sessionID, static.Hash(), staticTokens, newHashes, now); err != nil {
		return nil, err
	}

	return &BuildResult{
		Text:            string(sb),
		StaticTokens:    staticTokens,
		ObservedTokens:  observedTokens,
		CachedTokens:    cachedTokens,
		SectionOutcomes: outcomes,
	}, nil
}

func loadPriorState(ctx context.Context, store *storage.Store, sessionID string) (*priorState, error) {
	state, err := store.GetCacheState(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string)
	if state.SectionHashes != "" {
		if err := json.Unmarshal([]byte(state.SectionHashes), &hashes); err != nil {
			return nil, err
		}
	}
	return &priorState{hashes: hashes, lastWarmAt: state.LastWarmAt}, nil
}

func updateCacheState(ctx context.Context, store *storage.Store, sessionID, staticHash string, staticTokens int, newHashes map[string]string, now time.Time) error {
	encoded, err := json.Marshal(newHashes)
	if err != nil {
		return err
	}
	return store.PutCacheState(ctx, &storage.CacheState{
		SessionID:        sessionID,
		StaticPrefixHash: staticHash,
		SectionHashes:    string(encoded),
		LastWarmAt:       now,
		TokenEstimate:    staticTokens,
	})
}
