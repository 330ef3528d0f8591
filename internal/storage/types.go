package storage

import "time"

// Project is the root unit of storage isolation: one row per working
// directory the server has been pointed at.
type Project struct {
	ID        string
	RootPath  string
	VCSDir    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is a single conversation thread, optionally forked from a parent.
type Session struct {
	ID         string
	ProjectID  string
	ParentID   string
	Title      string
	Mode       string
	Agent      string
	Shared     bool
	RevertedTo string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is one turn (user, assistant, or system) in a session.
type Message struct {
	ID                  string
	SessionID           string
	Role                string
	Content             string
	PreviousResponseID  string
	SequencePosition    int64
	CreatedAt           time.Time
}

// Part is a single content unit within a message (text, tool-call, tool-result).
type Part struct {
	ID         string
	MessageID  string
	Type       string
	Content    string
	ToolCallID string
	Seq        int
	CreatedAt  time.Time
}

// ToolCall records one tool invocation and its outcome.
type ToolCall struct {
	ID          string
	MessageID   string
	SessionID   string
	ToolName    string
	Args        string
	Result      string
	Success     *bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// RollingSummary is a compressed batch of older messages at a given level
// (1 = batch summary, 2 = meta-summary over level-1 summaries).
type RollingSummary struct {
	ID         string
	SessionID  string
	Level      int
	Content    string
	CoversFrom int64
	CoversTo   int64
	CreatedAt  time.Time
}

// CompactionBlob is a handoff-mode snapshot consumed on session resume.
type CompactionBlob struct {
	ID        string
	SessionID string
	Content   string
	CreatedAt time.Time
}

// MemoryFact is a durable, project-scoped key/value fact with confidence
// tracking across sessions.
type MemoryFact struct {
	ID            string
	ProjectID     string
	Team          string
	Scope         string
	Key           string
	Value         string
	Status        string
	Confidence    float64
	SessionCount  int
	LastSessionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     *time.Time
}

// SystemObservation is a passively captured, TTL-bound observation about
// ongoing work (e.g. a todo-list snapshot, a working-doc edit, a code-health
// finding).
type SystemObservation struct {
	ID              string
	ProjectID       string
	ObservationType string
	Key             string
	Payload         string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
}

// ReasoningPattern is a reusable approach with a tracked success rate.
type ReasoningPattern struct {
	ID           string
	Name         string
	Trigger      string
	Description  string
	SuccessCount int
	UseCount     int
	SuccessRate  float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrorPattern is a fingerprinted, deduplicated recurring failure.
type ErrorPattern struct {
	ID              string
	Fingerprint     string
	ToolName        string
	Template        string
	OccurrenceCount int
	Resolved        bool
	Resolution      string
	FirstSeen       time.Time
	LastSeen        time.Time
}

// BehaviorLogEntry is one row of the passive capture / auto-resolution
// timeline, ordered by SequencePosition within a session.
type BehaviorLogEntry struct {
	ID               string
	SessionID        string
	EventType        string
	EventData        string
	SequencePosition int64
	CreatedAt        time.Time
}

// CacheState is the per-session prompt-cache bookkeeping row.
type CacheState struct {
	SessionID        string
	StaticPrefixHash string
	SectionHashes    string
	LastWarmAt       time.Time
	TokenEstimate    int
}

// Checkpoint is a saved, TTL-bound session state snapshot.
type Checkpoint struct {
	ID        string
	SessionID string
	Label     string
	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CodeSymbol is one indexed symbol in a project's code-index store.
type CodeSymbol struct {
	ID         string
	ProjectID  string
	FilePath   string
	SymbolName string
	Kind       string
	LineStart  int
	LineEnd    int
	UpdatedAt  time.Time
}

// CallGraphEdge is a caller -> callee relationship.
type CallGraphEdge struct {
	ID            string
	ProjectID     string
	CallerSymbol  string
	CalleeSymbol  string
	FilePath      string
	UpdatedAt     time.Time
}

// ImportEdge is a file -> imported-path relationship.
type ImportEdge struct {
	ID            string
	ProjectID     string
	FilePath      string
	ImportedPath  string
	UpdatedAt     time.Time
}

// CoChangePattern tracks how often two files change together across commits.
type CoChangePattern struct {
	ID            string
	ProjectID     string
	FileA         string
	FileB         string
	CoChangeCount int
	LastSeen      time.Time
}
