package event

import "github.com/mirabackend/mira/pkg/types"

// SessionCreatedData is the data for session.created events.
// SDK compatible: uses "info" field for session object.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
// SDK compatible: uses "info" field for session object.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
// SDK compatible: uses "info" field for session object.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	SessionID string              `json:"sessionID,omitempty"`
	Error     *types.MessageError `json:"error,omitempty"`
}

// MessageCreatedData is the data for message.created events.
// SDK compatible: uses "info" field for message object.
type MessageCreatedData struct {
	Info *types.Message `json:"info"`
}

// MessageUpdatedData is the data for message.updated events.
// SDK compatible: uses "info" field for message object.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// MessagePartUpdatedData is the data for part.updated (PartUpdated) events.
// SDK compatible: uses "part" and "delta" fields.
type MessagePartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"` // For streaming text
}

// Deprecated: Use MessagePartUpdatedData instead
type PartUpdatedData = MessagePartUpdatedData

// MessagePartRemovedData is the data for message.part.removed events.
type MessagePartRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}

// PermissionUpdatedData is the data for permission.required
// (PermissionRequired) events.
// SDK compatible format for permission requests.
type PermissionUpdatedData struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionID"`
	PermissionType string   `json:"permissionType"` // "bash" | "edit" | "external_directory"
	Pattern        []string `json:"pattern"`
	Title          string   `json:"title"`
}

// Deprecated: Use PermissionUpdatedData instead
type PermissionRequiredData = PermissionUpdatedData

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	PermissionID string `json:"permissionID"`
	SessionID    string `json:"sessionID"`
	Response     string `json:"response"` // "once" | "always" | "reject"
}

// Deprecated: Use PermissionRepliedData instead
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Granted   bool   `json:"granted"`
}

// UsageInfoData is the data for usage.info events, emitted once per
// orchestrator iteration regardless of whether the completion was served
// from cache.
type UsageInfoData struct {
	SessionID   string `json:"sessionID"`
	InputTokens int    `json:"inputTokens"`
	OutputTokens int   `json:"outputTokens"`
	PricingTier string `json:"pricingTier"`
	FromCache   bool   `json:"fromCache"`
}

// ContextWarningLevel is how close a session is to its context-window limit.
type ContextWarningLevel string

const (
	ContextApproaching  ContextWarningLevel = "approaching"
	ContextNearThreshold ContextWarningLevel = "near_threshold"
	ContextOverThreshold ContextWarningLevel = "over_threshold"
)

// ContextWarningData is the data for context.warning events.
type ContextWarningData struct {
	SessionID string              `json:"sessionID"`
	Level     ContextWarningLevel `json:"level"`
	Tokens    int                 `json:"tokens"`
}

// StreamingData is the data for message.streaming events, carrying one
// incremental text delta for an in-flight orchestrator iteration.
type StreamingData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Delta     string `json:"delta"`
}

// ToolExecutedData is the data for tool.executed events, emitted once per
// tool call regardless of outcome.
type ToolExecutedData struct {
	SessionID string `json:"sessionID"`
	ToolName  string `json:"toolName"`
	ToolType  string `json:"toolType"`
	Summary   string `json:"summary"`
	Success   bool   `json:"success"`
	Details   string `json:"details,omitempty"`
}

// VcsBranchUpdatedData is the data for vcs.branch_updated events.
type VcsBranchUpdatedData struct {
	Branch string `json:"branch"`
}

// RepoActivityData is the data for repo.activity events, emitted when the
// project file watcher observes a write/create outside the orchestrator's
// own tool calls (e.g. an editor save) and records a co-change edge.
type RepoActivityData struct {
	ProjectID string `json:"projectID"`
	File      string `json:"file"`
}
