package session

import (
	"context"
	"sort"
	"strings"

	"github.com/mirabackend/mira/internal/memory"
	"github.com/mirabackend/mira/internal/patterns"
	"github.com/mirabackend/mira/internal/router"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
)

const (
	maxRecentMessages     = 5
	maxSummariesInContext = 5
	maxSemanticHits       = 3
	minSemanticScore      = 0.75
	maxCodeIndexHints     = 5
	maxRepoActivity       = 5
	maxDecisionMatches    = 5
	maxRelatedFiles       = 8
	maxCallContext        = 15
	minKeywordLen         = 3
	maxKeywords           = 5
)

// EmbeddingSearch looks up chat memory by semantic similarity. The
// embedding model and vector store live outside this module; callers wire
// a concrete implementation in. A nil search leaves semantic_context empty.
type EmbeddingSearch func(ctx context.Context, projectID, query string, limit int, minScore float64) ([]string, error)

// AssembledContext is everything the prompt builder folds into a turn.
type AssembledContext struct {
	RecentMessages     []*types.Message
	MiraContext        []string
	Summaries          []string
	CodeCompaction     string
	PreviousResponseID string
	SemanticContext    []string
	CodeIndexHints     []*storage.CodeSymbol
	RepoActivity       map[string]any
	RejectedApproaches []string
	PastDecisions      []string
	RelatedFiles       []string
	CallContext        []*storage.CallGraphEdge
}

// ContextAssembler builds AssembledContext for a query against a session's
// project, drawing on persisted history, remembered facts, the code index
// and git history.
type ContextAssembler struct {
	store      *storage.Store
	memory     *memory.Store
	patterns   *patterns.Store
	router     *router.Router
	summarizer *Summarizer
	embed      EmbeddingSearch
}

// NewContextAssembler wires the assembler's collaborators. embed may be
// nil if no vector store is configured.
func NewContextAssembler(store *storage.Store, mem *memory.Store, pat *patterns.Store, r *router.Router, sum *Summarizer, embed EmbeddingSearch) *ContextAssembler {
	return &ContextAssembler{store: store, memory: mem, patterns: pat, router: r, summarizer: sum, embed: embed}
}

// Assemble builds the context for one turn. touchedFiles is the set of
// files the orchestrator has recently read or edited in this session, used
// to seed the related-files and call-context lookups.
func (a *ContextAssembler) Assemble(ctx context.Context, sess *types.Session, query string, touchedFiles []string) (*AssembledContext, error) {
	out := &AssembledContext{}

	// Handoff mode: a freshly consumed chain-reset blob replaces
	// summaries/recents/mira_context for this one call to avoid
	// duplicating what it already carries; query-specific sections below
	// still load normally.
	var handoff string
	if a.summarizer != nil {
		if blob, err := a.summarizer.ConsumeHandoff(ctx, sess.ID); err == nil {
			handoff = blob
		}
	}

	if handoff != "" {
		out.Summaries = []string{handoff}
	} else {
		recent, err := a.store.RecentMessages(ctx, sess.ID, maxRecentMessages)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			msg, err := messageFromStorage(m)
			if err != nil {
				continue
			}
			out.RecentMessages = append(out.RecentMessages, msg)
			// storage.Message.PreviousResponseID is the provider's own
			// continuation handle when the orchestrator recorded one;
			// fall back to the last assistant message's own ID otherwise.
			if m.PreviousResponseID != "" {
				out.PreviousResponseID = m.PreviousResponseID
			} else if msg.Role == "assistant" {
				out.PreviousResponseID = msg.ID
			}
		}

		out.MiraContext = a.miraContext(ctx, sess.ProjectID)
		out.Summaries = a.summaries(ctx, sess.ID)
	}

	// Outside handoff mode this surfaces whatever blob exists; in handoff
	// mode ConsumeHandoff already deleted it (and folded it into
	// Summaries above), so this naturally comes back empty.
	if blob, err := a.store.LatestCompactionBlob(ctx, sess.ID); err == nil && blob != nil {
		out.CodeCompaction = blob.Content
	}

	if a.embed != nil {
		hits, err := a.embed(ctx, sess.ProjectID, query, maxSemanticHits, minSemanticScore)
		if err == nil {
			out.SemanticContext = hits
		}
	}

	if a.router != nil && a.router.CodeIntel != nil {
		hints, err := a.router.CodeIntel.SemanticSearch(ctx, sess.ProjectID, query, maxCodeIndexHints)
		if err == nil {
			out.CodeIndexHints = hints
		}
	}

	if a.router != nil && a.router.Git != nil {
		if activity, err := a.router.Git.RecentChanges(ctx, sess.ProjectID, maxRepoActivity); err == nil {
			out.RepoActivity = activity
		}
	}

	keywords := extractKeywords(query)
	out.PastDecisions = a.keywordMatchFacts(ctx, sess.ProjectID, "decision", keywords, maxDecisionMatches)
	out.RejectedApproaches = a.keywordMatchFacts(ctx, sess.ProjectID, "rejected_approach", keywords, maxDecisionMatches)

	out.RelatedFiles = a.relatedFiles(ctx, sess.ProjectID, touchedFiles)
	out.CallContext = a.callContext(ctx, sess.ProjectID, out.CodeIndexHints)

	return out, nil
}

// miraContext surfaces confirmed/candidate facts across every scope,
// most recently touched first, as plain sentences for the prompt.
func (a *ContextAssembler) miraContext(ctx context.Context, projectID string) []string {
	if a.memory == nil {
		return nil
	}
	var lines []string
	for _, scope := range []string{"preference", "decision", "goal", "general"} {
		facts, err := a.memory.List(ctx, projectID, scope)
		if err != nil {
			continue
		}
		for _, f := range facts {
			lines = append(lines, f.Value)
		}
	}
	if len(lines) > 10 {
		lines = lines[:10]
	}
	return lines
}

// summaries loads level-1 batch summaries and the level-2 meta-summary (if
// any), merges them in chronological order and caps the total.
func (a *ContextAssembler) summaries(ctx context.Context, sessionID string) []string {
	level1, err := a.store.RecentSummaries(ctx, sessionID, 1, maxSummariesInContext)
	if err != nil {
		level1 = nil
	}
	level2, err := a.store.RecentSummaries(ctx, sessionID, 2, 1)
	if err != nil {
		level2 = nil
	}
	all := append(append([]*storage.RollingSummary{}, level2...), level1...)
	sort.Slice(all, func(i, j int) bool { return all[i].CoversTo < all[j].CoversTo })
	if len(all) > maxSummariesInContext {
		all = all[len(all)-maxSummariesInContext:]
	}
	out := make([]string, 0, len(all))
	for _, s := range all {
		out = append(out, s.Content)
	}
	return out
}

// keywordMatchFacts finds facts in scope whose value contains any of the
// query's keywords, most recently updated first, capped at n.
func (a *ContextAssembler) keywordMatchFacts(ctx context.Context, projectID, scope string, keywords []string, n int) []string {
	if a.store == nil || len(keywords) == 0 {
		return nil
	}
	facts, err := a.store.ListMemoryFacts(ctx, projectID, scope)
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range facts {
		if containsAny(strings.ToLower(f.Value), keywords) {
			out = append(out, f.Value)
			if len(out) >= n {
				break
			}
		}
	}
	return out
}

// relatedFiles looks up co-change partners for each touched file, dedupes
// against the touched set and itself, and caps the result.
func (a *ContextAssembler) relatedFiles(ctx context.Context, projectID string, touchedFiles []string) []string {
	if a.store == nil {
		return nil
	}
	seen := make(map[string]bool, len(touchedFiles))
	for _, f := range touchedFiles {
		seen[f] = true
	}
	var out []string
	for _, f := range touchedFiles {
		partners, err := a.store.TopCoChanges(ctx, projectID, f, maxRelatedFiles)
		if err != nil {
			continue
		}
		for _, p := range partners {
			other := p.FileB
			if other == f {
				other = p.FileA
			}
			if seen[other] {
				continue
			}
			seen[other] = true
			out = append(out, other)
			if len(out) >= maxRelatedFiles {
				return out
			}
		}
	}
	return out
}

// callContext gathers callers and callees of whatever symbols the
// code-index hints surfaced, capped across both directions combined.
func (a *ContextAssembler) callContext(ctx context.Context, projectID string, hints []*storage.CodeSymbol) []*storage.CallGraphEdge {
	if a.router == nil || a.router.CodeIntel == nil {
		return nil
	}
	var out []*storage.CallGraphEdge
	for _, h := range hints {
		callers, err := a.router.CodeIntel.FindCallers(ctx, projectID, h.SymbolName)
		if err == nil {
			out = append(out, callers...)
		}
		if len(out) >= maxCallContext {
			return out[:maxCallContext]
		}
	}
	if len(out) > maxCallContext {
		out = out[:maxCallContext]
	}
	return out
}

// extractKeywords pulls distinctive tokens (length > minKeywordLen) out of
// a query, capped at maxKeywords.
func extractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) <= minKeywordLen || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
