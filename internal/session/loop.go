package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/pkg/types"
)

const (
	// MaxIterations bounds how many model-call-then-tool-call rounds a
	// single turn may take before it's forced to stop.
	MaxIterations = 10
	// MaxRetries is the maximum number of retries for API errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
	// contextApproachingRatio/contextNearRatio/contextOverRatio are the
	// fractions of a model's context window that trigger each warning
	// level, checked against the running token total for the turn.
	contextApproachingRatio = 0.75
	contextNearRatio        = 0.90
	contextOverRatio        = 1.0
)

// newRetryBackoff creates a new exponential backoff with jitter for API retries.
// Uses cenkalti/backoff for better retry behavior including jitter to prevent
// thundering herd problems and context-aware cancellation.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// runLoop executes the agentic loop: build a request from the session's
// history, stream a completion, execute any tool calls it produced, and
// repeat until the model stops calling tools or MaxIterations is reached.
func (p *Processor) runLoop(
	ctx context.Context,
	sessionID string,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	sess, err := p.findSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}

	messages, err := p.loadMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return fmt.Errorf("no messages in session")
	}

	lastMsg := messages[len(messages)-1]
	if lastMsg.Role != "user" {
		return fmt.Errorf("expected user message, got %s", lastMsg.Role)
	}

	if p.budget != nil {
		if err := p.budget.Check(sessionID); err != nil {
			return err
		}
	}

	providerID := p.defaultProviderID
	modelID := p.defaultModelID
	if lastMsg.Model != nil {
		providerID = lastMsg.Model.ProviderID
		modelID = lastMsg.Model.ModelID
	}

	prov, err := p.providerRegistry.Get(providerID)
	if err != nil {
		return fmt.Errorf("provider not found: %w", err)
	}
	model, err := p.providerRegistry.GetModel(providerID, modelID)
	if err != nil {
		return fmt.Errorf("model not found: %w", err)
	}

	now := time.Now().UnixMilli()
	assistantMsg := &types.Message{
		ID:         generatePartID(),
		SessionID:  sessionID,
		Role:       "assistant",
		ProviderID: providerID,
		ModelID:    modelID,
		Time:       types.MessageTime{Created: now},
	}
	state.message = assistantMsg

	if err := p.saveNewMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	defer func() {
		cost := tokensOrZero(assistantMsg.Tokens, false) + tokensOrZero(assistantMsg.Tokens, true)
		recordBudget(p.budget, sessionID, cost)
	}()

	callback(assistantMsg, nil)
	event.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: assistantMsg}})

	if agent == nil {
		agent = DefaultAgent()
	}
	maxIterations := agent.MaxSteps
	if maxIterations <= 0 {
		maxIterations = MaxIterations
	}

	iteration := 0
	retryBackoff := newRetryBackoff(ctx)

	for {
		select {
		case <-ctx.Done():
			assistantMsg.Error = &types.MessageError{Type: "abort", Message: "Processing aborted"}
			p.saveMessage(ctx, assistantMsg)
			return ctx.Err()
		default:
		}

		if iteration >= maxIterations {
			assistantMsg.Error = &types.MessageError{Type: "max_steps", Message: "Maximum iterations reached"}
			p.saveMessage(ctx, assistantMsg)
			return fmt.Errorf("max iterations exceeded")
		}

		if p.summarizer != nil {
			if err := p.summarizer.MaybeSummarize(ctx, sess); err == nil {
				messages, _ = p.loadMessages(ctx, sessionID)
			}
		}

		req, err := p.buildCompletionRequest(ctx, sess, messages, assistantMsg, agent, model)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}

		p.emitContextWarning(sessionID, req, model)

		cacheKey := p.responseCacheKey(req, model.ID, agent.Name)
		partsBeforeIteration := len(state.parts)

		var finishReason string
		var fromCache bool

		if cached, ok := p.lookupCache(cacheKey); ok {
			finishReason, _ = p.applyCachedTurn(ctx, cached, state, callback)
			fromCache = true
		} else {
			stream, err := prov.CreateCompletion(ctx, req)
			if err != nil {
				nextInterval := retryBackoff.NextBackOff()
				if nextInterval == backoff.Stop {
					assistantMsg.Error = &types.MessageError{Type: "api", Message: err.Error()}
					p.saveMessage(ctx, assistantMsg)
					return err
				}
				time.Sleep(nextInterval)
				continue
			}

			finishReason, err = p.processStream(ctx, stream, state, callback)
			stream.Close()

			if err != nil {
				nextInterval := retryBackoff.NextBackOff()
				if nextInterval == backoff.Stop {
					assistantMsg.Error = &types.MessageError{Type: "api", Message: err.Error()}
					p.saveMessage(ctx, assistantMsg)
					return err
				}
				time.Sleep(nextInterval)
				continue
			}
			p.storeCache(cacheKey, captureTurn(state, partsBeforeIteration, finishReason))
		}
		retryBackoff.Reset()

		event.Publish(event.Event{
			Type: event.UsageInfo,
			Data: event.UsageInfoData{
				SessionID:    sessionID,
				InputTokens:  tokensOrZero(assistantMsg.Tokens, false),
				OutputTokens: tokensOrZero(assistantMsg.Tokens, true),
				PricingTier:  model.ID,
				FromCache:    fromCache,
			},
		})

		switch finishReason {
		case "stop", "end_turn":
			finish := "stop"
			assistantMsg.Finish = &finish
			p.saveMessage(ctx, assistantMsg)
			return nil

		case "tool_use", "tool-calls":
			if err := p.executeToolCalls(ctx, sess, state, agent, callback); err != nil {
				// individual failures are captured on their tool parts
			}
			messages, _ = p.loadMessages(ctx, sessionID)
			iteration++
			continue

		case "max_tokens", "length":
			finish := "max_tokens"
			assistantMsg.Finish = &finish
			assistantMsg.Error = &types.MessageError{Type: "output_length", Message: "Output length limit reached"}
			p.saveMessage(ctx, assistantMsg)
			return nil

		case "error":
			nextInterval := retryBackoff.NextBackOff()
			if nextInterval == backoff.Stop {
				return fmt.Errorf("stream error: max retries exceeded")
			}
			time.Sleep(nextInterval)
			continue

		default:
			assistantMsg.Finish = &finishReason
			p.saveMessage(ctx, assistantMsg)
			return nil
		}
	}
}

func tokensOrZero(t *types.TokenUsage, output bool) int {
	if t == nil {
		return 0
	}
	if output {
		return t.Output
	}
	return t.Input
}

// emitContextWarning compares the request's approximate token footprint
// against the model's context window and publishes a warning once it
// crosses each threshold.
func (p *Processor) emitContextWarning(sessionID string, req *provider.CompletionRequest, model *types.Model) {
	if model.ContextLength <= 0 {
		return
	}
	approxTokens := 0
	for _, m := range req.Messages {
		approxTokens += len(m.Content) / 4
	}
	ratio := float64(approxTokens) / float64(model.ContextLength)

	var level event.ContextWarningLevel
	switch {
	case ratio >= contextOverRatio:
		level = event.ContextOverThreshold
	case ratio >= contextNearRatio:
		level = event.ContextNearThreshold
	case ratio >= contextApproachingRatio:
		level = event.ContextApproaching
	default:
		return
	}

	event.Publish(event.Event{
		Type: event.ContextWarning,
		Data: event.ContextWarningData{SessionID: sessionID, Level: level, Tokens: approxTokens},
	})
}

// findSession loads a session and hydrates its working directory from the
// owning project, the way Service.hydrate does.
func (p *Processor) findSession(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	directory := ""
	if project, err := p.store.GetProject(ctx, sess.ProjectID); err == nil {
		directory = project.RootPath
	}
	return toTypesSession(sess, directory), nil
}

// loadMessages loads all messages for a session in sequence order.
func (p *Processor) loadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := p.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := messageFromStorage(r)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// saveNewMessage persists a freshly created assistant message's initial row.
func (p *Processor) saveNewMessage(ctx context.Context, msg *types.Message) error {
	row, err := messageToStorage(msg)
	if err != nil {
		return err
	}
	return p.store.AppendMessage(ctx, row)
}

// saveMessage rewrites an assistant message's row with its latest content
// and publishes message.updated.
func (p *Processor) saveMessage(ctx context.Context, msg *types.Message) error {
	now := time.Now().UnixMilli()
	msg.Time.Updated = &now

	row, err := messageToStorage(msg)
	if err != nil {
		return err
	}
	if err := p.store.UpdateMessage(ctx, row); err != nil {
		return err
	}

	event.Publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{Info: msg}})
	return nil
}

// savePart appends a part to a message's part list, assigning it the next
// sequence number for that message.
func (p *Processor) savePart(ctx context.Context, messageID string, part types.Part) error {
	p.mu.Lock()
	if p.partSeq == nil {
		p.partSeq = make(map[string]int)
	}
	seq := p.partSeq[messageID]
	p.partSeq[messageID] = seq + 1
	p.mu.Unlock()

	row, err := partToStorage(messageID, seq, part)
	if err != nil {
		return err
	}
	return p.store.AddPart(ctx, row)
}

// buildCompletionRequest assembles system prompt, conversation history, and
// the resolved tool list into a provider-ready request.
func (p *Processor) buildCompletionRequest(
	ctx context.Context,
	sess *types.Session,
	messages []*types.Message,
	currentMsg *types.Message,
	agent *Agent,
	model *types.Model,
) (*provider.CompletionRequest, error) {
	systemPrompt := NewSystemPrompt(sess, agent, currentMsg.ProviderID, currentMsg.ModelID)

	einoMessages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt.Build()},
	}

	partsMap := make(map[string][]types.Part, len(messages))
	for _, msg := range messages {
		rows, err := p.store.GetParts(ctx, msg.ID)
		if err != nil {
			continue
		}
		parts := make([]types.Part, 0, len(rows))
		for _, r := range rows {
			part, err := partFromStorage(r)
			if err != nil {
				continue
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 && msg.Error != nil {
			continue
		}
		partsMap[msg.ID] = parts
	}

	turns := make([]*types.Message, 0, len(messages))
	for _, msg := range messages {
		if _, ok := partsMap[msg.ID]; ok {
			turns = append(turns, msg)
		}
	}

	converted := provider.ConvertToEinoMessages(turns, partsMap)
	for i, msg := range turns {
		if msg.Role != "tool" {
			continue
		}
		for _, part := range partsMap[msg.ID] {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			if tp.Output != nil {
				converted[i].Content = *tp.Output
			} else if tp.Error != nil {
				converted[i].Content = "Error: " + *tp.Error
			}
			converted[i].ToolCallID = tp.ToolCallID
		}
	}
	einoMessages = append(einoMessages, converted...)

	tools, err := p.resolveTools(agent, model)
	if err != nil {
		return nil, err
	}

	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &provider.CompletionRequest{
		Model:       model.ID,
		Messages:    einoMessages,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: agent.Temperature,
		TopP:        agent.TopP,
	}, nil
}

// resolveTools returns the meta-tool schemas enabled for the agent, or nil
// if the model doesn't support tool calling at all.
func (p *Processor) resolveTools(agent *Agent, model *types.Model) ([]*schema.ToolInfo, error) {
	if !model.SupportsTools {
		return nil, nil
	}

	var result []*schema.ToolInfo
	for _, t := range metaTools {
		if !agent.ToolEnabled(t.Name) {
			continue
		}
		params := parseJSONSchemaToParams(t.Parameters)
		result = append(result, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return result, nil
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}

// generatePartID generates a new ULID for parts.
func generatePartID() string {
	return ulid.Make().String()
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T {
	return &v
}
