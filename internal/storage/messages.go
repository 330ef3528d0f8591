package storage

import (
	"context"
	"database/sql"
	"time"
)

// AppendMessage inserts a message at the next sequence position for its
// session (max(sequence_position)+1, or 0 for the first), so callers never need to track
// ordering themselves.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	return WithCriticalWrite(ctx, func() error {
		tx, err := s.Main.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence_position) FROM messages WHERE session_id = ?`, msg.SessionID).Scan(&maxSeq); err != nil {
			return err
		}
		msg.SequencePosition = 0
		if maxSeq.Valid {
			msg.SequencePosition = maxSeq.Int64 + 1
		}
		msg.CreatedAt = time.Now()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, content, previous_response_id, sequence_position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.SessionID, msg.Role, msg.Content, nullIfEmpty(msg.PreviousResponseID), msg.SequencePosition, msg.CreatedAt.Unix())
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// UpdateMessage rewrites a message's content and continuation handle in
// place. Used by the orchestrator to persist the final state of an
// assistant message once a turn finishes streaming.
func (s *Store) UpdateMessage(ctx context.Context, msg *Message) error {
	_, err := s.Main.DB().ExecContext(ctx, `
		UPDATE messages SET content = ?, previous_response_id = ? WHERE id = ?
	`, msg.Content, nullIfEmpty(msg.PreviousResponseID), msg.ID)
	return err
}

// GetMessages returns all messages for a session in sequence order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, session_id, role, content, previous_response_id, sequence_position, created_at
		FROM messages WHERE session_id = ? ORDER BY sequence_position ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var prevResp sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &prevResp, &m.SequencePosition, &createdAt); err != nil {
			return nil, err
		}
		m.PreviousResponseID = prevResp.String
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// RecentMessages returns the last n messages for a session in chronological
// order (oldest first), matching the orchestrator's "recent raw messages"
// window.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	all, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// AddPart appends a content part to a message.
func (s *Store) AddPart(ctx context.Context, part *Part) error {
	part.CreatedAt = time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO parts (id, message_id, type, content, tool_call_id, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, part.ID, part.MessageID, part.Type, part.Content, nullIfEmpty(part.ToolCallID), part.Seq, part.CreatedAt.Unix())
	return err
}

// GetParts returns all parts for a message in order.
func (s *Store) GetParts(ctx context.Context, messageID string) ([]*Part, error) {
	rows, err := s.Main.DB().QueryContext(ctx, `
		SELECT id, message_id, type, content, tool_call_id, seq, created_at
		FROM parts WHERE message_id = ? ORDER BY seq ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Part
	for rows.Next() {
		var p Part
		var toolCallID sql.NullString
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.MessageID, &p.Type, &p.Content, &toolCallID, &p.Seq, &createdAt); err != nil {
			return nil, err
		}
		p.ToolCallID = toolCallID.String
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// RecordToolCall inserts a tool call row at start time.
func (s *Store) RecordToolCall(ctx context.Context, tc *ToolCall) error {
	tc.CreatedAt = time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		INSERT INTO tool_calls (id, message_id, session_id, tool_name, args, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tc.ID, tc.MessageID, tc.SessionID, tc.ToolName, tc.Args, tc.CreatedAt.Unix())
	return err
}

// CompleteToolCall records the outcome of a previously-recorded tool call.
func (s *Store) CompleteToolCall(ctx context.Context, id string, result string, success bool) error {
	now := time.Now()
	_, err := s.Main.DB().ExecContext(ctx, `
		UPDATE tool_calls SET result = ?, success = ?, completed_at = ? WHERE id = ?
	`, result, boolToInt(success), now.Unix(), id)
	return err
}
