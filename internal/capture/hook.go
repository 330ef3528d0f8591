// Package capture implements the post-tool passive capture hook: it watches
// PostToolUse events from the orchestrator and, for a closed set of tool
// names, debounces on a content-derived key and writes at most one
// remembered action every debounceWindow. TodoWrite state, plan-mode
// transitions, and working-doc edits bypass the debounced remember path and
// sync straight into a TTL-bound observation instead.
package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/mirabackend/mira/internal/apperror"
	"github.com/mirabackend/mira/internal/logging"
	"github.com/mirabackend/mira/internal/memory"
)

// Event is one PostToolUse occurrence handed to the hook.
type Event struct {
	SessionID string
	ProjectID string
	ToolName  string
	ToolInput map[string]any
}

// Hook dispatches PostToolUse events into memory facts and observations.
type Hook struct {
	mem *memory.Store
	deb *debouncer
}

// New returns a Hook backed by mem.
func New(mem *memory.Store) *Hook {
	return &Hook{mem: mem, deb: newDebouncer()}
}

// Process handles one PostToolUse event. Errors are the caller's to log and
// ignore; a capture failure must never fail the tool call it observed.
func (h *Hook) Process(ctx context.Context, ev Event) error {
	var act *action

	switch ev.ToolName {
	case "Edit", "Write":
		if path, ok := stringArg(ev.ToolInput, "file_path"); ok {
			if isWorkingDoc(path) {
				if err := h.saveWorkingDoc(ctx, ev, path); err != nil {
					logging.Error().Err(err).Str("path", path).Msg("capture: failed to save working doc")
				}
			}
			act = extractFileAction(ev.ToolName, path)
		}
	case "Bash":
		act = extractBashAction(ev.ToolInput)
	case "Task":
		act = extractTaskAction(ev.ToolInput)
	case "Grep":
		act = extractGrepAction(ev.ToolInput)
	case "WebSearch":
		act = extractSearchAction(ev.ToolInput)
	case "TodoWrite":
		if err := h.saveTodoState(ctx, ev); err != nil {
			logging.Error().Err(err).Msg("capture: failed to save todo state")
		}
		return nil
	case "EnterPlanMode":
		if err := h.savePlanState(ctx, ev, "planning", ""); err != nil {
			logging.Error().Err(err).Msg("capture: failed to save plan state")
		}
		return nil
	case "ExitPlanMode":
		content := tryReadPlanFile()
		if err := h.savePlanState(ctx, ev, "ready", content); err != nil {
			logging.Error().Err(err).Msg("capture: failed to save plan state")
		}
		return nil
	}

	if act == nil {
		return nil
	}
	if !h.deb.shouldSave(act.key) {
		return nil
	}
	if err := h.saveAction(ctx, ev, act); err != nil {
		return err
	}
	h.deb.markSaved(act.key)
	return nil
}

func (h *Hook) saveAction(ctx context.Context, ev Event, act *action) error {
	_, err := h.mem.Remember(ctx, memory.RememberInput{
		ProjectID: ev.ProjectID,
		Scope:     act.category,
		Key:       "auto-" + act.key,
		Value:     act.content,
		SessionID: ev.SessionID,
	})
	if err != nil {
		return apperror.Wrap(apperror.DbError, "remember captured action", err)
	}
	return nil
}

func (h *Hook) saveWorkingDoc(ctx context.Context, ev Event, path string) error {
	content, ok := stringArg(ev.ToolInput, "content")
	if !ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		content = string(data)
	}
	if len(content) <= 50 {
		return nil
	}

	filename := filepath.Base(path)
	payload, err := json.Marshal(map[string]any{
		"path":       path,
		"filename":   filename,
		"content":    content,
		"updated_at": time.Now().Unix(),
	})
	if err != nil {
		return apperror.Wrap(apperror.InvalidArgs, "marshal working doc", err)
	}

	return h.mem.Observe(ctx, memory.ObserveInput{
		ProjectID:       ev.ProjectID,
		ObservationType: "working_doc",
		Key:             "doc-" + filename,
		Payload:         string(payload),
		TTL:             "+72 hours",
	})
}

func (h *Hook) saveTodoState(ctx context.Context, ev Event) error {
	todos, ok := ev.ToolInput["todos"]
	if !ok {
		return nil
	}
	payload, err := json.Marshal(todos)
	if err != nil {
		return apperror.Wrap(apperror.InvalidArgs, "marshal todos", err)
	}

	return h.mem.Observe(ctx, memory.ObserveInput{
		ProjectID:       ev.ProjectID,
		ObservationType: "active_todos",
		Key:             "session-" + ev.SessionID,
		Payload:         string(payload),
		TTL:             "+24 hours",
	})
}

func (h *Hook) savePlanState(ctx context.Context, ev Event, status, content string) error {
	var contentVal any
	if content != "" {
		contentVal = content
	}
	payload, err := json.Marshal(map[string]any{
		"status":     status,
		"content":    contentVal,
		"updated_at": time.Now().Unix(),
	})
	if err != nil {
		return apperror.Wrap(apperror.InvalidArgs, "marshal plan state", err)
	}

	return h.mem.Observe(ctx, memory.ObserveInput{
		ProjectID:       ev.ProjectID,
		ObservationType: "active_plan",
		Key:             "session-" + ev.SessionID,
		Payload:         string(payload),
		TTL:             "+48 hours",
	})
}

var planFileCandidates = []string{"PLAN.md", "plan.md", ".plan.md", "implementation-plan.md"}

// tryReadPlanFile does a best-effort read of a plan file in the current
// working directory or its parent, returning "" if none is found or it
// looks too short to be a real plan.
func tryReadPlanFile() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dirs := []string{wd, filepath.Dir(wd)}

	for _, dir := range dirs {
		for _, name := range planFileCandidates {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil || len(data) <= 50 {
				continue
			}
			return string(data)
		}
	}
	return ""
}
