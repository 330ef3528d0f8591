package session

import (
	"encoding/json"
	"fmt"

	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
)

// toTypesSession maps a storage row onto the wire-facing Session, filling in
// the working directory from the owning project.
func toTypesSession(sess *storage.Session, directory string) *types.Session {
	out := &types.Session{
		ID:        sess.ID,
		ProjectID: sess.ProjectID,
		Directory: directory,
		Title:     sess.Title,
		Version:   "1",
		Time: types.SessionTime{
			Created: sess.CreatedAt.UnixMilli(),
			Updated: sess.UpdatedAt.UnixMilli(),
		},
	}
	if sess.ParentID != "" {
		parent := sess.ParentID
		out.ParentID = &parent
	}
	if sess.Shared {
		out.Share = &types.SessionShare{URL: shareURLFor(sess.ID)}
	}
	if sess.RevertedTo != "" {
		out.Revert = &types.SessionRevert{MessageID: sess.RevertedTo}
	}
	return out
}

func shareURLFor(sessionID string) string {
	return fmt.Sprintf("https://mira.dev/share/%s", sessionID)
}

// messageToStorage serializes a wire-facing Message into its storage row.
// The full struct (including provider metadata, token counts, and errors
// that the storage schema has no dedicated column for) round-trips through
// Content as JSON, mirroring how CacheState and Checkpoint already carry
// opaque JSON blobs in a TEXT column.
func messageToStorage(msg *types.Message) (*storage.Message, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return &storage.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Content:   string(encoded),
	}, nil
}

// messageFromStorage decodes a storage row back into the wire-facing
// Message, then overlays the columns the database owns authoritatively
// (identity, ordering) in case the encoded blob predates a schema change.
func messageFromStorage(m *storage.Message) (*types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal([]byte(m.Content), &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	msg.ID = m.ID
	msg.SessionID = m.SessionID
	msg.Role = m.Role
	return &msg, nil
}

// partToStorage serializes a content part. The part's own "type" field
// inside the JSON blob is what types.UnmarshalPart dispatches on, so Type
// here only needs to be good enough for SQL-side filtering (e.g. the
// tests-for-code kind match code intelligence does on code_symbols.kind).
func partToStorage(messageID string, seq int, part types.Part) (*storage.Part, error) {
	encoded, err := json.Marshal(part)
	if err != nil {
		return nil, fmt.Errorf("encode part: %w", err)
	}
	row := &storage.Part{
		ID:        part.PartID(),
		MessageID: messageID,
		Type:      part.PartType(),
		Content:   string(encoded),
		Seq:       seq,
	}
	if tp, ok := part.(*types.ToolPart); ok {
		row.ToolCallID = tp.ToolCallID
	}
	return row, nil
}

func partFromStorage(p *storage.Part) (types.Part, error) {
	part, err := types.UnmarshalPart([]byte(p.Content))
	if err != nil {
		return nil, fmt.Errorf("decode part %s: %w", p.ID, err)
	}
	return part, nil
}

func decodeJSON(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
