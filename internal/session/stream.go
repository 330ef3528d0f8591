package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/pkg/types"
)

// MinEventInterval is the minimum time between streaming events, slightly
// above a typical client's batching window so deltas aren't coalesced away.
const MinEventInterval = 20 * time.Millisecond

// processStream drains one LLM completion stream into parts, publishing
// part-updated and streaming events as content arrives. It returns the
// stream's finish reason.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	currentToolParts := make(map[string]*types.ToolPart)
	accumulatedToolInputs := make(map[string]string)
	var accumulatedContent string
	var finishReason string
	var lastEventTime time.Time

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

	for {
		select {
		case <-ctx.Done():
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "error", err
		}

		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs, &lastEventTime)

		if finishReason != "" {
			break
		}
	}

	if currentTextPart != nil {
		now := time.Now().UnixMilli()
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
	}
	if currentReasoningPart != nil {
		now := time.Now().UnixMilli()
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	for _, toolPart := range currentToolParts {
		if raw, ok := accumulatedToolInputs[toolPart.ToolCallID]; ok && toolPart.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(raw), &input); err == nil {
				toolPart.Input = input
			}
		}
		toolPart.State = "running"
		p.savePart(ctx, state.message.ID, toolPart)
	}

	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	stepFinish := &types.StepFinishPart{
		ID:        generatePartID(),
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		Type:      "step-finish",
		Reason:    finishReason,
		Cost:      state.message.Cost,
		Tokens:    state.message.Tokens,
	}
	state.parts = append(state.parts, stepFinish)
	p.savePart(ctx, state.message.ID, stepFinish)
	event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: stepFinish}})
	callback(state.message, state.parts)

	return finishReason, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// throttledPublish publishes an event, sleeping just enough to keep
// consecutive deltas at least MinEventInterval apart so slow clients don't
// coalesce them into a jump.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		if elapsed := time.Since(*lastEventTime); elapsed < MinEventInterval {
			time.Sleep(MinEventInterval - elapsed)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream,
// returning a non-empty finish reason once the model signals completion.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) string {
	var finishReason string

	if msg.Content != "" {
		var delta string
		if *currentTextPart == nil {
			now := time.Now().UnixMilli()
			*currentTextPart = &types.TextPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "text",
				Text:      msg.Content,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentTextPart)
			*accumulatedContent = msg.Content
			delta = msg.Content
		} else if strings.HasPrefix(msg.Content, *accumulatedContent) {
			delta = msg.Content[len(*accumulatedContent):]
			(*currentTextPart).Text = msg.Content
			*accumulatedContent = msg.Content
		} else {
			delta = msg.Content
			*accumulatedContent += msg.Content
			(*currentTextPart).Text = *accumulatedContent
		}

		throttledPublish(event.Event{
			Type: event.PartUpdated,
			Data: event.MessagePartUpdatedData{Part: *currentTextPart, Delta: delta},
		}, lastEventTime)
		event.Publish(event.Event{
			Type: event.Streaming,
			Data: event.StreamingData{SessionID: state.message.SessionID, MessageID: state.message.ID, Delta: delta},
		})
		callback(state.message, state.parts)
	}

	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
		}
		callback(state.message, state.parts)
	}

	// eino streaming tool calls: a start chunk carries Index/ID/Name, delta
	// chunks carry only Index/Arguments.
	for _, tc := range msg.ToolCalls {
		var lookupKey string
		switch {
		case tc.Index != nil:
			lookupKey = fmt.Sprintf("idx:%d", *tc.Index)
		case tc.ID != "":
			lookupKey = tc.ID
		default:
			continue
		}

		toolPart, exists := currentToolParts[lookupKey]

		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:         generatePartID(),
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				Type:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				Input:      make(map[string]any),
				State:      "pending",
				Time:       types.PartTime{Start: &now},
			}
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[tc.ID] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		if tc.Function.Arguments != "" && toolPart != nil {
			accumulatedToolInputs[toolPart.ToolCallID] += tc.Function.Arguments
			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[toolPart.ToolCallID]), &input); err == nil {
				toolPart.Input = input
			}
			event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: toolPart}})
			callback(state.message, state.parts)
		}
	}

	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}
		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
