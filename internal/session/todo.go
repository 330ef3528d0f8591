// Package session provides session management functionality.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mirabackend/mira/internal/event"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
)

// todoObservationType/todoKeyPrefix must match internal/capture's
// saveTodoState exactly: that hook is what actually persists TodoWrite
// state on every tool call via memory.Store.Observe, and this package only
// needs to read the same row back.
const (
	todoObservationType = "active_todos"
	todoKeyPrefix       = "session-"
	todoObservationTTL  = 24 * time.Hour
)

// GetTodos retrieves the todo list most recently captured for a session.
func GetTodos(ctx context.Context, store *storage.Store, projectID, sessionID string) ([]types.TodoInfo, error) {
	obs, err := store.ListObservations(ctx, projectID, todoObservationType)
	if err != nil {
		return nil, err
	}
	key := todoKeyPrefix + sessionID
	for _, o := range obs {
		if o.Key != key {
			continue
		}
		var todos []types.TodoInfo
		if err := json.Unmarshal([]byte(o.Payload), &todos); err != nil {
			return nil, err
		}
		return todos, nil
	}
	return []types.TodoInfo{}, nil
}

// UpdateTodos replaces the session's todo list and publishes an event. The
// orchestrator's post-tool capture hook (internal/capture) is what drives
// this on every TodoWrite call in the normal path; this entry point exists
// for callers (e.g. a direct API mutation) that need to set the list
// without going through a tool call.
func UpdateTodos(ctx context.Context, store *storage.Store, projectID, sessionID string, todos []types.TodoInfo) error {
	payload, err := json.Marshal(todos)
	if err != nil {
		return err
	}
	expires := time.Now().Add(todoObservationTTL)
	if err := store.UpsertObservation(ctx, &storage.SystemObservation{
		ID:              generateID(),
		ProjectID:       projectID,
		ObservationType: todoObservationType,
		Key:             todoKeyPrefix + sessionID,
		Payload:         string(payload),
		ExpiresAt:       &expires,
	}); err != nil {
		return err
	}

	event.Publish(event.Event{
		Type: event.TodoUpdated,
		Data: map[string]any{
			"sessionID": sessionID,
			"todos":     todos,
		},
	})
	return nil
}
