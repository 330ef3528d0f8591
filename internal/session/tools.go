package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mirabackend/mira/internal/capture"
	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/logging"
	"github.com/mirabackend/mira/internal/permission"
	"github.com/mirabackend/mira/pkg/types"
)

// executeToolCalls runs every pending tool call the current iteration
// produced, in part order, against the router.
func (p *Processor) executeToolCalls(
	ctx context.Context,
	sess *types.Session,
	state *sessionState,
	agent *Agent,
	callback ProcessCallback,
) error {
	var pendingTools []*types.ToolPart
	for _, part := range state.parts {
		if toolPart, ok := part.(*types.ToolPart); ok && toolPart.State == "pending" {
			pendingTools = append(pendingTools, toolPart)
		}
	}

	for _, toolPart := range pendingTools {
		if err := p.executeSingleTool(ctx, sess, state, agent, toolPart, callback); err != nil {
			// Error is already captured on the tool part; keep processing
			// the rest of the batch rather than aborting the iteration.
			continue
		}
	}

	return nil
}

// executeSingleTool runs one tool call through the permission checker, the
// doom-loop detector, and finally the router, then records the outcome.
func (p *Processor) executeSingleTool(
	ctx context.Context,
	sess *types.Session,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
	callback ProcessCallback,
) error {
	toolPart.State = "running"
	now := time.Now().UnixMilli()
	toolPart.Time.Start = &now

	if hookName, err := p.runPreToolHooks(ctx, toolPart.ToolName, toolPart.Input); err != nil {
		msg := fmt.Sprintf("blocked by %s: %s", hookName, err.Error())
		logging.ForSession(state.message.SessionID).Warn().Str("tool", toolPart.ToolName).Str("hook", hookName).Msg(msg)
		_ = p.failTool(ctx, state, toolPart, callback, msg)
		event.Publish(event.Event{Type: event.ToolExecuted, Data: event.ToolExecutedData{
			SessionID: state.message.SessionID,
			ToolName:  toolPart.ToolName,
			ToolType:  toolKind(toolPart.ToolName),
			Summary:   toolSummary(toolPart.ToolName, toolPart.Input),
			Success:   false,
		}})
		return fmt.Errorf("%s", msg)
	}

	if err := p.checkToolPermission(ctx, state, agent, toolPart); err != nil {
		return p.failTool(ctx, state, toolPart, callback, err.Error())
	}

	if p.doomLoop != nil && p.doomLoop.Check(state.message.SessionID, toolPart.ToolName, toolPart.Input) {
		if err := p.checkDoomLoopPermission(ctx, state, agent, toolPart); err != nil {
			return p.failTool(ctx, state, toolPart, callback, err.Error())
		}
	} else if p.doomLoop != nil {
		p.doomLoop.Reset(state.message.SessionID)
	}

	if p.summarizer != nil && fileModifyingTools[toolPart.ToolName] {
		path := checkpointPath(toolPart.Input)
		snapshot, _ := json.Marshal(toolPart.Input)
		if err := p.summarizer.SaveCheckpoint(ctx, state.message.SessionID, path, string(snapshot)); err != nil {
			logging.Error().Err(err).Str("tool", toolPart.ToolName).Str("path", path).Msg("failed to save checkpoint")
		}
	}

	result, err := p.router.Route(ctx, toolPart.ToolName, toolPart.Input, sess.ProjectID, state.message.SessionID)
	success := err == nil
	if err != nil {
		_ = p.failTool(ctx, state, toolPart, callback, err.Error())
	} else {
		p.completeTool(ctx, state, toolPart, callback, result)
	}

	if p.capture != nil {
		if captureErr := p.capture.Process(ctx, capture.Event{
			SessionID: state.message.SessionID,
			ProjectID: sess.ProjectID,
			ToolName:  teacherToolName(toolPart.ToolName),
			ToolInput: teacherToolInput(toolPart.ToolName, toolPart.Input),
		}); captureErr != nil {
			logging.Error().Err(captureErr).Str("tool", toolPart.ToolName).Msg("capture hook failed")
		}
	}

	event.Publish(event.Event{Type: event.ToolExecuted, Data: event.ToolExecutedData{
		SessionID: state.message.SessionID,
		ToolName:  toolPart.ToolName,
		ToolType:  toolKind(toolPart.ToolName),
		Summary:   toolSummary(toolPart.ToolName, toolPart.Input),
		Success:   success,
	}})

	if err != nil {
		return err
	}
	return nil
}

// completeTool records a successful router result onto the tool part.
func (p *Processor) completeTool(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
	callback ProcessCallback,
	result json.RawMessage,
) {
	now := time.Now().UnixMilli()
	output := string(result)
	toolPart.State = "completed"
	toolPart.Output = &output
	toolPart.Time.End = &now

	p.savePart(ctx, state.message.ID, toolPart)
	event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: toolPart}})
	callback(state.message, state.parts)
}

// failTool marks a tool call as failed.
func (p *Processor) failTool(
	ctx context.Context,
	state *sessionState,
	toolPart *types.ToolPart,
	callback ProcessCallback,
	errMsg string,
) error {
	now := time.Now().UnixMilli()
	toolPart.State = "error"
	toolPart.Error = &errMsg
	toolPart.Time.End = &now

	p.savePart(ctx, state.message.ID, toolPart)
	event.Publish(event.Event{Type: event.PartUpdated, Data: event.MessagePartUpdatedData{Part: toolPart}})
	callback(state.message, state.parts)
	return fmt.Errorf("%s", errMsg)
}

// checkToolPermission applies the agent's bash/write/webfetch policy to a
// tool call before it reaches the router.
func (p *Processor) checkToolPermission(
	ctx context.Context,
	state *sessionState,
	agent *Agent,
	toolPart *types.ToolPart,
) error {
	if p.permissionChecker == nil {
		return nil
	}

	var permType permission.PermissionType
	var policy string
	var pattern []string

	switch toolPart.ToolName {
	case "shell_command":
		permType = permission.PermBash
		policy = agent.Permission.Bash
		if cmd, ok := toolPart.Input["command"].(string); ok {
			pattern = []string{cmd}
		}
	case "write_project_file", "edit_project_file":
		permType = permission.PermEdit
		policy = agent.Permission.Write
		if path, ok := toolPart.Input["path"].(string); ok {
			pattern = []string{path}
		}
	case "url_fetch":
		permType = permission.PermWebFetch
		policy = agent.Permission.WebFetch
		if url, ok := toolPart.Input["url"].(string); ok {
			pattern = []string{url}
		}
	default:
		return nil
	}

	var action permission.PermissionAction
	switch policy {
	case "allow":
		action = permission.ActionAllow
	case "deny":
		action = permission.ActionDeny
	default:
		action = permission.ActionAsk
	}

	req := permission.Request{
		Type:      permType,
		Pattern:   pattern,
		SessionID: state.message.SessionID,
		MessageID: state.message.ID,
		CallID:    toolPart.ToolCallID,
		Title:     fmt.Sprintf("Allow %s?", toolPart.ToolName),
	}
	return p.permissionChecker.Check(ctx, req, action)
}

// checkDoomLoopPermission applies the agent's doom-loop policy once the
// detector flags a repeated call.
func (p *Processor) checkDoomLoopPermission(ctx context.Context, state *sessionState, agent *Agent, toolPart *types.ToolPart) error {
	switch agent.Permission.DoomLoop {
	case "allow":
		return nil
	case "deny":
		return fmt.Errorf("doom loop detected: %s called %d times with identical input", toolPart.ToolName, permission.DoomLoopThreshold)
	default:
		if p.permissionChecker == nil {
			return nil
		}
		req := permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{toolPart.ToolName},
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			CallID:    toolPart.ToolCallID,
			Title:     fmt.Sprintf("Allow repeated %s call?", toolPart.ToolName),
		}
		return p.permissionChecker.Ask(ctx, req)
	}
}

// teacherToolName maps a router tool name onto the name the capture hook's
// switch recognizes, since the hook predates the router's naming.
func teacherToolName(toolName string) string {
	switch toolName {
	case "write_project_file":
		return "Write"
	case "edit_project_file":
		return "Edit"
	case "shell_command":
		return "Bash"
	case "search_codebase", "semantic_search":
		return "Grep"
	case "web_search":
		return "WebSearch"
	default:
		return toolName
	}
}

// teacherToolInput renames the argument keys the capture hook reads
// ("file_path", "content") to match the router's call shape ("path").
func teacherToolInput(toolName string, input map[string]any) map[string]any {
	switch toolName {
	case "write_project_file", "edit_project_file":
		out := map[string]any{}
		for k, v := range input {
			out[k] = v
		}
		if path, ok := input["path"]; ok {
			out["file_path"] = path
		}
		return out
	default:
		return input
	}
}

// toolKind classifies a tool name into the coarse category event consumers
// group on (file, shell, git, search, web).
func toolKind(toolName string) string {
	switch toolName {
	case "read_project_file", "write_project_file", "edit_project_file", "list_project_files",
		"get_file_summary", "get_file_structure", "count_lines":
		return "file"
	case "shell_command":
		return "shell"
	case "web_search", "url_fetch":
		return "web"
	default:
		if len(toolName) >= 4 && toolName[:4] == "git_" {
			return "git"
		}
		return "search"
	}
}

// toolSummary renders a short human-readable label for a tool call.
func toolSummary(toolName string, input map[string]any) string {
	if path := checkpointPath(input); path != "" {
		return fmt.Sprintf("%s %s", toolName, path)
	}
	if q, ok := input["query"].(string); ok {
		return fmt.Sprintf("%s %q", toolName, q)
	}
	return toolName
}
