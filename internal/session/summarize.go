package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
)

const (
	recentRawCount       = 5
	summarizeBatchSize   = 5
	metaSummaryThreshold = 10
	checkpointTTL        = 24 * time.Hour
)

const summarizeSystemPrompt = `You compress a batch of conversation turns into a short summary.

Keep: decisions made, files touched, unresolved questions, next steps.
Drop: small talk, restated context, anything already implied by the decisions.
Output 3-6 sentences, no preamble.`

const metaSummarizeSystemPrompt = `You compress several summaries of a conversation into one higher-level summary.

Keep: the overall goal, major decisions, current state, open threads.
Output 3-6 sentences, no preamble.`

// Summarizer drives the rolling-summary and checkpoint machinery for a
// session: batching raw messages into level-1 summaries once the session
// grows past its recent-message window, rolling those up into a
// meta-summary once enough accumulate, and persisting/clearing
// TTL-bound checkpoints around risky operations.
type Summarizer struct {
	store            *storage.Store
	providerRegistry *provider.Registry
}

// NewSummarizer wires a Summarizer against the store and provider registry
// used to drive the summarization completions.
func NewSummarizer(store *storage.Store, providerRegistry *provider.Registry) *Summarizer {
	return &Summarizer{store: store, providerRegistry: providerRegistry}
}

// MaybeSummarize checks whether the session has grown past its raw-message
// budget and, if so, compresses the oldest unsummarized batch into a new
// level-1 summary, then checks whether enough level-1 summaries have
// accumulated to roll up into a meta-summary. While a summarization
// completion is in flight it flags the session as compacting and clears
// the flag again on return, so clients watching session.updated know not
// to treat the session as idle.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sess *types.Session) error {
	sessionID := sess.ID
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(msgs) <= recentRawCount+summarizeBatchSize {
		return nil
	}

	s.setCompacting(sess, true)
	defer s.setCompacting(sess, false)

	latest, err := s.store.RecentSummaries(ctx, sessionID, 1, 1)
	if err != nil {
		return err
	}
	var coveredThrough int64 = -1
	if len(latest) > 0 {
		coveredThrough = latest[len(latest)-1].CoversTo
	}

	var batch []*storage.Message
	for _, m := range msgs {
		if m.SequencePosition <= coveredThrough {
			continue
		}
		batch = append(batch, m)
		if len(batch) == summarizeBatchSize {
			break
		}
	}
	if len(batch) < summarizeBatchSize {
		return nil
	}

	content, err := s.summarizeBatch(ctx, batch)
	if err != nil {
		return err
	}

	sum := &storage.RollingSummary{
		ID:         generateID(),
		SessionID:  sessionID,
		Level:      1,
		Content:    content,
		CoversFrom: batch[0].SequencePosition,
		CoversTo:   batch[len(batch)-1].SequencePosition,
	}
	if err := s.store.AddRollingSummary(ctx, sum); err != nil {
		return err
	}

	count, err := s.store.CountSummaries(ctx, sessionID, 1)
	if err != nil {
		return err
	}
	if count >= metaSummaryThreshold {
		if err := s.rollUpMeta(ctx, sessionID); err != nil {
			return err
		}
	}

	event.PublishSync(event.Event{
		Type: event.SessionCompacted,
		Data: map[string]any{"sessionID": sessionID, "level": 1, "coversTo": sum.CoversTo},
	})
	return nil
}

// setCompacting toggles the session's ephemeral compacting flag and
// publishes session.updated so connected clients see it. The flag itself
// lives only on the in-memory types.Session the caller passed in; it has
// no storage column since it only matters while this call is running.
func (s *Summarizer) setCompacting(sess *types.Session, compacting bool) {
	if compacting {
		now := time.Now().UnixMilli()
		sess.Time.Compacting = &now
	} else {
		sess.Time.Compacting = nil
	}
	event.PublishSync(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: sess},
	})
}

// rollUpMeta compresses the accumulated level-1 summaries into a single
// level-2 meta-summary covering their full range.
func (s *Summarizer) rollUpMeta(ctx context.Context, sessionID string) error {
	level1, err := s.store.RecentSummaries(ctx, sessionID, 1, metaSummaryThreshold)
	if err != nil {
		return err
	}
	if len(level1) == 0 {
		return nil
	}

	content, err := s.metaSummarize(ctx, level1)
	if err != nil {
		return err
	}

	meta := &storage.RollingSummary{
		ID:         generateID(),
		SessionID:  sessionID,
		Level:      2,
		Content:    content,
		CoversFrom: level1[0].CoversFrom,
		CoversTo:   level1[len(level1)-1].CoversTo,
	}
	return s.store.AddRollingSummary(ctx, meta)
}

func (s *Summarizer) summarizeBatch(ctx context.Context, batch []*storage.Message) (string, error) {
	var b strings.Builder
	for _, m := range batch {
		msg, err := messageFromStorage(m)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, s.textPreview(ctx, m.ID))
	}
	return s.complete(ctx, summarizeSystemPrompt, b.String())
}

// textPreview concatenates a message's text parts, which is all a batch
// summary needs to anchor what was said; tool input/output and reasoning
// traces are deliberately left out of the summarizer's prompt.
func (s *Summarizer) textPreview(ctx context.Context, messageID string) string {
	parts, err := s.store.GetParts(ctx, messageID)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		part, err := partFromStorage(p)
		if err != nil {
			continue
		}
		if tp, ok := part.(*types.TextPart); ok {
			b.WriteString(tp.Text)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String())
}

func (s *Summarizer) metaSummarize(ctx context.Context, summaries []*storage.RollingSummary) (string, error) {
	var b strings.Builder
	for _, sum := range summaries {
		b.WriteString(sum.Content)
		b.WriteString("\n")
	}
	return s.complete(ctx, metaSummarizeSystemPrompt, b.String())
}

func (s *Summarizer) complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	model, err := s.providerRegistry.DefaultModel()
	if err != nil {
		return "", err
	}
	prov, err := s.providerRegistry.Get(model.ProviderID)
	if err != nil {
		return "", err
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model.ID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: systemPrompt},
			{Role: schema.User, Content: userContent},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		out.WriteString(msg.Content)
	}
	return strings.TrimSpace(out.String()), nil
}

// SaveCheckpoint stores a 24h TTL-bound snapshot under the given label
// (e.g. a tool name about to modify a file), so a failed operation can be
// rolled back to a known-good state.
func (s *Summarizer) SaveCheckpoint(ctx context.Context, sessionID, label, state string) error {
	return s.store.SaveCheckpoint(ctx, &storage.Checkpoint{
		ID:        generateID(),
		SessionID: sessionID,
		Label:     label,
		State:     state,
		ExpiresAt: time.Now().Add(checkpointTTL),
	})
}

// LoadCheckpoint returns the most recent non-expired checkpoint for a
// session, or storage.ErrNotFound if none exists.
func (s *Summarizer) LoadCheckpoint(ctx context.Context, sessionID string) (*storage.Checkpoint, error) {
	return s.store.LatestCheckpoint(ctx, sessionID)
}

// ClearCheckpoints drops all checkpoints for a session once the work they
// guarded has completed successfully.
func (s *Summarizer) ClearCheckpoints(ctx context.Context, sessionID string) error {
	return s.store.ClearCheckpoints(ctx, sessionID)
}

// ConsumeHandoff loads and deletes the session's compaction blob, applying
// chain-reset handoff semantics: a blob is read exactly once. The returned
// content, when non-empty, replaces summaries/recents/mira_context for the
// next assemble_context call.
func (s *Summarizer) ConsumeHandoff(ctx context.Context, sessionID string) (string, error) {
	blob, err := s.store.LatestCompactionBlob(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	if err := s.store.DeleteCompactionBlobs(ctx, sessionID); err != nil {
		return "", err
	}
	return blob.Content, nil
}

// SaveHandoff stores a new handoff blob after a chain reset, replacing any
// prior one the next ConsumeHandoff call would have returned.
func (s *Summarizer) SaveHandoff(ctx context.Context, sessionID, content string) error {
	return s.store.SaveCompactionBlob(ctx, &storage.CompactionBlob{
		ID:        generateID(),
		SessionID: sessionID,
		Content:   content,
	})
}
