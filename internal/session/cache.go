package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/metrics"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/pkg/types"
)

// responseCacheTTL is how long a completion stays eligible for reuse. Kept
// short: the cache exists to absorb retried/duplicate calls within a single
// burst of activity, not to serve stale completions across a session.
const responseCacheTTL = 2 * time.Minute

// cachedToolCall is one tool invocation captured from a cached turn.
type cachedToolCall struct {
	ToolName string
	Input    map[string]any
}

// cachedTurn is everything a completion contributed to the assistant
// message, captured so a later identical request can be replayed without
// calling the provider again.
type cachedTurn struct {
	Text      string
	ToolCalls []cachedToolCall
	Finish    string
	Tokens    *types.TokenUsage
	cachedAt  time.Time
}

// responseCache is a small in-memory, mutex-guarded, TTL-bound map from a
// request's content hash to the turn it produced, keyed across the full
// message sequence, tool list, model id, and agent so a retried identical
// call can be served at zero cost instead of hitting the provider again.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]*cachedTurn
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]*cachedTurn)}
}

// responseCacheKey hashes everything that determines a completion's output:
// the message sequence, the enabled tool set, the model id, and the agent
// (standing in for the reasoning-effort tag, since agents are this
// system's equivalent knob).
func (p *Processor) responseCacheKey(req *provider.CompletionRequest, modelID, agentName string) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(req.Messages)
	_ = enc.Encode(req.Tools)
	_, _ = h.Write([]byte(modelID))
	_, _ = h.Write([]byte(agentName))
	return hex.EncodeToString(h.Sum(nil))
}

// lookupCache returns a fresh cached turn for key, if any.
func (p *Processor) lookupCache(key string) (*cachedTurn, bool) {
	p.mu.Lock()
	if p.cache == nil {
		p.cache = newResponseCache()
	}
	cache := p.cache
	p.mu.Unlock()

	cache.mu.Lock()
	defer cache.mu.Unlock()

	entry, ok := cache.entries[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if time.Since(entry.cachedAt) >= responseCacheTTL {
		delete(cache.entries, key)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry, true
}

// storeCache records a freshly produced turn under key.
func (p *Processor) storeCache(key string, turn *cachedTurn) {
	p.mu.Lock()
	if p.cache == nil {
		p.cache = newResponseCache()
	}
	cache := p.cache
	p.mu.Unlock()

	turn.cachedAt = time.Now()
	cache.mu.Lock()
	cache.entries[key] = turn
	cache.mu.Unlock()
}

// applyCachedTurn synthesizes the parts a live stream would have produced
// for a cached turn, without re-calling the provider. It mirrors
// processStream's step-start/step-finish bracketing so downstream consumers
// (callbacks, event subscribers) can't tell the difference.
func (p *Processor) applyCachedTurn(ctx context.Context, turn *cachedTurn, state *sessionState, callback ProcessCallback) (string, error) {
	stepStart := &types.StepStartPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-start",
	}
	state.parts = append(state.parts, stepStart)
	p.savePart(ctx, state.message.ID, stepStart)
	event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: stepStart}})
	callback(state.message, state.parts)

	if turn.Text != "" {
		now := time.Now().UnixMilli()
		textPart := &types.TextPart{
			ID:        generatePartID(),
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			Type:      "text",
			Text:      turn.Text,
			Time:      types.PartTime{Start: &now, End: &now},
		}
		state.parts = append(state.parts, textPart)
		p.savePart(ctx, state.message.ID, textPart)
		event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: textPart, Delta: turn.Text}})
		event.Publish(event.Event{
			Type: event.Streaming,
			Data: event.StreamingData{SessionID: state.message.SessionID, MessageID: state.message.ID, Delta: turn.Text},
		})
		callback(state.message, state.parts)
	}

	for _, tc := range turn.ToolCalls {
		now := time.Now().UnixMilli()
		toolPart := &types.ToolPart{
			ID:         generatePartID(),
			SessionID:  state.message.SessionID,
			MessageID:  state.message.ID,
			Type:       "tool",
			ToolCallID: generatePartID(),
			ToolName:   tc.ToolName,
			Input:      tc.Input,
			State:      "running",
			Time:       types.PartTime{Start: &now},
		}
		state.parts = append(state.parts, toolPart)
		p.savePart(ctx, state.message.ID, toolPart)
		event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: toolPart}})
		callback(state.message, state.parts)
	}

	state.message.Tokens = turn.Tokens

	stepFinish := &types.StepFinishPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-finish",
		Reason:    turn.Finish,
		Cost:      state.message.Cost,
		Tokens:    turn.Tokens,
	}
	state.parts = append(state.parts, stepFinish)
	p.savePart(ctx, state.message.ID, stepFinish)
	event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: stepFinish}})
	callback(state.message, state.parts)

	return turn.Finish, nil
}

// captureTurn reconstructs a cachedTurn from the parts a live iteration just
// appended to state.parts (those after startIdx), for storage in the cache.
func captureTurn(state *sessionState, startIdx int, finish string) *cachedTurn {
	turn := &cachedTurn{Finish: finish, Tokens: state.message.Tokens}
	for _, part := range state.parts[startIdx:] {
		switch pt := part.(type) {
		case *types.TextPart:
			turn.Text += pt.Text
		case *types.ToolPart:
			turn.ToolCalls = append(turn.ToolCalls, cachedToolCall{ToolName: pt.ToolName, Input: pt.Input})
		}
	}
	return turn
}
