// Package session provides session management functionality.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mirabackend/mira/internal/capture"
	"github.com/mirabackend/mira/internal/permission"
	"github.com/mirabackend/mira/internal/provider"
	"github.com/mirabackend/mira/internal/router"
	"github.com/mirabackend/mira/internal/storage"
	"github.com/mirabackend/mira/pkg/types"
)

// Service manages session operations.
type Service struct {
	store  *storage.Store
	router *router.Router

	// Active session processing
	mu       sync.RWMutex
	active   map[string]*ActiveSession
	abortChs map[string]chan struct{}

	// Processor for agentic loop
	processor *Processor
}

// ActiveSession tracks an active processing session.
type ActiveSession struct {
	SessionID string
	AbortCh   chan struct{}
	StartTime time.Time
}

// NewService creates a new session service.
func NewService(store *storage.Store) *Service {
	return &Service{
		store:    store,
		active:   make(map[string]*ActiveSession),
		abortChs: make(map[string]chan struct{}),
	}
}

// NewServiceWithProcessor creates a new session service with processor
// dependencies. summarizer, contextAssembler, and captureHook may be nil.
func NewServiceWithProcessor(
	store *storage.Store,
	providerReg *provider.Registry,
	r *router.Router,
	permChecker *permission.Checker,
	summarizer *Summarizer,
	contextAssembler *ContextAssembler,
	captureHook *capture.Hook,
	defaultProviderID string,
	defaultModelID string,
) *Service {
	s := &Service{
		store:    store,
		router:   r,
		active:   make(map[string]*ActiveSession),
		abortChs: make(map[string]chan struct{}),
	}
	s.processor = NewProcessor(providerReg, r, store, permChecker, summarizer, contextAssembler, captureHook, defaultProviderID, defaultModelID)
	return s
}

// GetProcessor returns the session processor.
func (s *Service) GetProcessor() *Processor {
	return s.processor
}

// Create creates a new session, resolving directory to its project (one
// project per working directory, stable across restarts).
func (s *Service) Create(ctx context.Context, directory string, title string) (*types.Session, error) {
	project, err := s.store.UpsertProject(ctx, generateID(), directory, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project: %w", err)
	}

	if title == "" {
		title = "New Session"
	}

	sess := &storage.Session{
		ID:        generateID(),
		ProjectID: project.ID,
		Title:     title,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return toTypesSession(sess, directory), nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, sess)
}

// hydrate resolves a session's working directory from its project.
func (s *Service) hydrate(ctx context.Context, sess *storage.Session) (*types.Session, error) {
	project, err := s.store.GetProject(ctx, sess.ProjectID)
	directory := ""
	if err == nil {
		directory = project.RootPath
	}
	return toTypesSession(sess, directory), nil
}

// Update updates a session with the given updates.
func (s *Service) Update(ctx context.Context, sessionID string, updates map[string]any) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if title, ok := updates["title"].(string); ok {
		sess.Title = title
	}
	if mode, ok := updates["mode"].(string); ok {
		sess.Mode = mode
	}
	if agent, ok := updates["agent"].(string); ok {
		sess.Agent = agent
	}

	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	return s.hydrate(ctx, sess)
}

// Delete deletes a session. Messages, parts, tool calls, summaries, and
// checkpoints cascade via the schema's foreign keys.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// List lists sessions for a directory.
// If directory is empty, lists all sessions across all known projects.
func (s *Service) List(ctx context.Context, directory string) ([]*types.Session, error) {
	if directory == "" {
		return s.listAll(ctx)
	}

	project, err := s.store.GetProjectByRootPath(ctx, directory)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.store.ListSessions(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTypesSession(r, directory))
	}
	return out, nil
}

// listAll collects sessions across every project known to the store.
func (s *Service) listAll(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.store.ListAllSessions(ctx)
	if err != nil {
		return nil, err
	}

	projectDirs := make(map[string]string)
	out := make([]*types.Session, 0, len(rows))
	for _, r := range rows {
		dir, ok := projectDirs[r.ProjectID]
		if !ok {
			if project, err := s.store.GetProject(ctx, r.ProjectID); err == nil {
				dir = project.RootPath
			}
			projectDirs[r.ProjectID] = dir
		}
		out = append(out, toTypesSession(r, dir))
	}
	return out, nil
}

// GetChildren returns child sessions (forks).
func (s *Service) GetChildren(ctx context.Context, sessionID string) ([]*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListChildren(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	project, _ := s.store.GetProject(ctx, sess.ProjectID)
	directory := ""
	if project != nil {
		directory = project.RootPath
	}

	out := make([]*types.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTypesSession(r, directory))
	}
	return out, nil
}

// Fork creates a fork of a session at a specific message, copying messages
// up to and including the fork point.
func (s *Service) Fork(ctx context.Context, sessionID, messageID string) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, sess.ProjectID)
	if err != nil {
		return nil, err
	}

	forked := &storage.Session{
		ID:        generateID(),
		ProjectID: sess.ProjectID,
		ParentID:  sess.ID,
		Title:     sess.Title + " (fork)",
		Mode:      sess.Mode,
		Agent:     sess.Agent,
	}
	if err := s.store.CreateSession(ctx, forked); err != nil {
		return nil, err
	}

	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		copied := *msg
		copied.ID = generateID()
		copied.SessionID = forked.ID
		if err := s.AddMessage(ctx, forked.ID, &copied); err != nil {
			return nil, err
		}
		if msg.ID == messageID {
			break
		}
	}

	return toTypesSession(forked, project.RootPath), nil
}

// Abort aborts an active session.
func (s *Service) Abort(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.abortChs[sessionID]; ok {
		close(ch)
		delete(s.abortChs, sessionID)
	}

	return nil
}

// Share shares a session and returns a share URL.
func (s *Service) Share(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	sess.Shared = true
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return "", err
	}

	return shareURLFor(sess.ID), nil
}

// Unshare removes sharing from a session.
func (s *Service) Unshare(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Shared = false
	return s.store.UpdateSession(ctx, sess)
}

// Summarize returns the session's most recent rolling summary, if any.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*types.SessionSummary, error) {
	summaries, err := s.store.RecentSummaries(ctx, sessionID, 1, 1)
	if err != nil {
		return nil, err
	}
	out := &types.SessionSummary{}
	if len(summaries) > 0 {
		out.Diffs = []types.FileDiff{{Path: "__summary__", After: summaries[0].Content}}
	}
	return out, nil
}

// GetDiffs returns file diffs recorded in the session's latest summary.
func (s *Service) GetDiffs(ctx context.Context, sessionID string) ([]types.FileDiff, error) {
	summary, err := s.Summarize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return summary.Diffs, nil
}

// GetTodos returns the session's structured task list, captured passively
// via the post-tool capture hook's sync_work_state path.
func (s *Service) GetTodos(ctx context.Context, sessionID string) ([]types.TodoInfo, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return GetTodos(ctx, s.store, sess.ProjectID, sessionID)
}

// Revert reverts a session to a specific message.
func (s *Service) Revert(ctx context.Context, sessionID, messageID string, partID *string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RevertedTo = messageID
	return s.store.UpdateSession(ctx, sess)
}

// Unrevert removes the revert state from a session.
func (s *Service) Unrevert(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.RevertedTo = ""
	return s.store.UpdateSession(ctx, sess)
}

// ExecuteCommand executes a slash command.
func (s *Service) ExecuteCommand(ctx context.Context, sessionID, command string) (map[string]any, error) {
	return map[string]any{"result": "command executed"}, nil
}

// RespondPermission responds to a permission request.
func (s *Service) RespondPermission(ctx context.Context, sessionID, permissionID string, granted bool) error {
	return nil
}

// AddMessage adds a message to a session, assigning it the next sequence
// position automatically.
func (s *Service) AddMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	msg.SessionID = sessionID
	row, err := messageToStorage(msg)
	if err != nil {
		return err
	}
	return s.store.AppendMessage(ctx, row)
}

// GetMessage returns a single message by ID.
func (s *Service) GetMessage(ctx context.Context, sessionID, messageID string) (*types.Message, error) {
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, storage.ErrNotFound
}

// SavePart appends a content part to a message, assigning it the next
// sequence position automatically.
func (s *Service) SavePart(ctx context.Context, messageID string, part types.Part) error {
	existing, err := s.store.GetParts(ctx, messageID)
	if err != nil {
		return err
	}
	return s.AddPart(ctx, messageID, len(existing), part)
}

// RunShell runs a shell command in the session's project directory via the
// router's external-command handler.
func (s *Service) RunShell(ctx context.Context, sessionID, command string, timeoutMS int) (json.RawMessage, error) {
	if s.router == nil {
		return nil, fmt.Errorf("shell execution not configured")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	args := map[string]any{"command": command}
	if timeoutMS > 0 {
		args["timeout_ms"] = timeoutMS
	}
	return s.router.Route(ctx, "shell_command", args, sess.ProjectID, sessionID)
}

// GetMessages returns all messages for a session in chronological order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.store.GetMessages(ctx, sessionID)
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

// AddPart appends a content part to a message.
func (s *Service) AddPart(ctx context.Context, messageID string, seq int, part types.Part) error {
	row, err := partToStorage(messageID, seq, part)
	if err != nil {
		return err
	}
	return s.store.AddPart(ctx, row)
}

// GetParts returns all parts for a message.
func (s *Service) GetParts(ctx context.Context, messageID string) ([]types.Part, error) {
	rows, err := s.store.GetParts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Part, 0, len(rows))
	for _, r := range rows {
		part, err := partFromStorage(r)
		if err != nil {
			return nil, err
		}
		out = append(out, part)
	}
	return out, nil
}

// ProcessMessage processes a user message and generates an assistant response.
// This is the main agentic loop's entry point.
func (s *Service) ProcessMessage(
	ctx context.Context,
	session *types.Session,
	content string,
	model *types.ModelRef,
	onUpdate func(msg *types.Message, parts []types.Part),
) (*types.Message, []types.Part, error) {
	userMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      "user",
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if model != nil {
		userMsg.Model = model
	}

	if err := s.AddMessage(ctx, session.ID, userMsg); err != nil {
		return nil, nil, err
	}

	userPart := &types.TextPart{
		ID:        generateID(),
		SessionID: session.ID,
		MessageID: userMsg.ID,
		Type:      "text",
		Text:      content,
	}
	if err := s.AddPart(ctx, userMsg.ID, 0, userPart); err != nil {
		return nil, nil, err
	}

	if s.processor != nil {
		var finalMsg *types.Message
		var finalParts []types.Part

		err := s.processor.Process(ctx, session.ID, DefaultAgent(), func(msg *types.Message, parts []types.Part) {
			finalMsg = msg
			finalParts = parts
			if onUpdate != nil {
				onUpdate(msg, parts)
			}
		})

		return finalMsg, finalParts, err
	}

	assistantMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      "assistant",
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if model != nil {
		assistantMsg.ProviderID = model.ProviderID
		assistantMsg.ModelID = model.ModelID
	}

	parts := []types.Part{
		&types.TextPart{
			ID:        generateID(),
			SessionID: session.ID,
			MessageID: assistantMsg.ID,
			Type:      "text",
			Text:      "Processor not initialized. Please configure providers.",
		},
	}

	if err := s.AddMessage(ctx, session.ID, assistantMsg); err != nil {
		return nil, nil, err
	}

	if onUpdate != nil {
		onUpdate(assistantMsg, parts)
	}

	return assistantMsg, parts, nil
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
