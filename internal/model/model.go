// Package model holds the entities shared across handoff's components: the
// agent session, its child records (approvals, continuation prompts,
// checkpoints, stall alerts, steering messages, task-inbox items), and the
// in-memory workspace policy. Every entity carries a string UUID, RFC-3339
// timestamps, and (except Session, TaskInboxItem, CompiledPolicy) a
// session_id back-reference.
package model

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionCreated     SessionStatus = "created"
	SessionActive      SessionStatus = "active"
	SessionPaused      SessionStatus = "paused"
	SessionTerminated  SessionStatus = "terminated"
	SessionInterrupted SessionStatus = "interrupted"
)

// Valid reports whether s is one of the enumerated session statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionActive, SessionPaused, SessionTerminated, SessionInterrupted:
		return true
	}
	return false
}

// OperationalMode selects which surface a session is reachable through.
type OperationalMode string

const (
	ModeRemote OperationalMode = "remote" // chat only
	ModeLocal  OperationalMode = "local"  // IPC only
	ModeHybrid OperationalMode = "hybrid" // both
)

func (m OperationalMode) Valid() bool {
	switch m {
	case ModeRemote, ModeLocal, ModeHybrid:
		return true
	}
	return false
}

// ProgressStatus is the status of a single ProgressStep.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressDone       ProgressStatus = "done"
	ProgressBlocked    ProgressStatus = "blocked"
)

func (p ProgressStatus) Valid() bool {
	switch p {
	case ProgressPending, ProgressInProgress, ProgressDone, ProgressBlocked:
		return true
	}
	return false
}

// ProgressStep is one entry of a session's progress snapshot.
type ProgressStep struct {
	Label  string         `json:"label"`
	Status ProgressStatus `json:"status"`
}

// Session is one agent run, bound to a workspace and owned by a chat user.
type Session struct {
	ID               string          `json:"id" db:"id"`
	OwnerUserID      string          `json:"owner_user_id" db:"owner_user_id"`
	WorkspaceRoot    string          `json:"workspace_root" db:"workspace_root"`
	Status           SessionStatus   `json:"status" db:"status"`
	Prompt           *string         `json:"prompt,omitempty" db:"prompt"`
	Mode             OperationalMode `json:"mode" db:"mode"`
	LastTool         *string         `json:"last_tool,omitempty" db:"last_tool"`
	NudgeCount       int             `json:"nudge_count" db:"nudge_count"`
	StallPaused      bool            `json:"stall_paused" db:"stall_paused"`
	ProgressSnapshot []ProgressStep  `json:"progress_snapshot,omitempty" db:"-"`
	ProgressJSON     string          `json:"-" db:"progress_snapshot"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	TerminatedAt     *time.Time      `json:"terminated_at,omitempty" db:"terminated_at"`
}

// RiskLevel is the declared risk of an approval request's diff.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank returns an ordinal for comparing risk levels (higher = riskier).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskHigh:
		return 1
	case RiskCritical:
		return 2
	}
	return 99
}

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalExpired     ApprovalStatus = "expired"
	ApprovalConsumed    ApprovalStatus = "consumed"
	ApprovalInterrupted ApprovalStatus = "interrupted"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired, ApprovalConsumed, ApprovalInterrupted:
		return true
	}
	return false
}

// ApprovalRequest is an agent-proposed diff awaiting human clearance.
type ApprovalRequest struct {
	ID             string         `json:"id" db:"id"`
	SessionID      string         `json:"session_id" db:"session_id"`
	Title          string         `json:"title" db:"title"`
	Description    *string        `json:"description,omitempty" db:"description"`
	DiffContent    string         `json:"diff_content" db:"diff_content"`
	FilePath       string         `json:"file_path" db:"file_path"`
	RiskLevel      RiskLevel      `json:"risk_level" db:"risk_level"`
	Status         ApprovalStatus `json:"status" db:"status"`
	OriginalHash   string         `json:"original_hash" db:"original_hash"`
	ChatMessageRef *string        `json:"chat_message_ref,omitempty" db:"chat_message_ref"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ConsumedAt     *time.Time     `json:"consumed_at,omitempty" db:"consumed_at"`
}

// PromptType classifies a ContinuationPrompt.
type PromptType string

const (
	PromptContinuation  PromptType = "continuation"
	PromptClarification PromptType = "clarification"
	PromptErrorRecovery PromptType = "error_recovery"
	PromptResourceWarn  PromptType = "resource_warning"
)

func (t PromptType) Valid() bool {
	switch t {
	case PromptContinuation, PromptClarification, PromptErrorRecovery, PromptResourceWarn:
		return true
	}
	return false
}

// PromptDecision is the operator's resolution of a ContinuationPrompt.
type PromptDecision string

const (
	DecisionContinue PromptDecision = "continue"
	DecisionRefine   PromptDecision = "refine"
	DecisionStop     PromptDecision = "stop"
)

func (d PromptDecision) Valid() bool {
	switch d {
	case DecisionContinue, DecisionRefine, DecisionStop:
		return true
	}
	return false
}

// ContinuationPrompt is a forwarded meta-prompt awaiting an operator decision.
type ContinuationPrompt struct {
	ID             string          `json:"id" db:"id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	PromptText     string          `json:"prompt_text" db:"prompt_text"`
	PromptType     PromptType      `json:"prompt_type" db:"prompt_type"`
	ElapsedSeconds *int            `json:"elapsed_seconds,omitempty" db:"elapsed_seconds"`
	ActionsTaken   *string         `json:"actions_taken,omitempty" db:"actions_taken"`
	Decision       *PromptDecision `json:"decision,omitempty" db:"decision"`
	Instruction    *string         `json:"instruction,omitempty" db:"instruction"`
	ChatMessageRef *string         `json:"chat_message_ref,omitempty" db:"chat_message_ref"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Checkpoint is a persisted session-state snapshot used for recovery.
type Checkpoint struct {
	ID               string            `json:"id" db:"id"`
	SessionID        string            `json:"session_id" db:"session_id"`
	Label            *string           `json:"label,omitempty" db:"label"`
	SessionState     string            `json:"session_state" db:"session_state"` // opaque JSON
	FileHashes       map[string]string `json:"file_hashes" db:"-"`
	FileHashesJSON   string            `json:"-" db:"file_hashes"`
	WorkspaceRoot    string            `json:"workspace_root" db:"workspace_root"`
	ProgressSnapshot []ProgressStep    `json:"progress_snapshot,omitempty" db:"-"`
	ProgressJSON     string            `json:"-" db:"progress_snapshot"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

// DivergenceKind classifies a file's state relative to a checkpoint.
type DivergenceKind string

const (
	DivergenceUnchanged DivergenceKind = "unchanged"
	DivergenceModified  DivergenceKind = "modified"
	DivergenceDeleted   DivergenceKind = "deleted"
	DivergenceAdded     DivergenceKind = "added"
)

// Divergence is one file's classification during restore.
type Divergence struct {
	Path string         `json:"path"`
	Kind DivergenceKind `json:"kind"`
}

// StallAlertStatus is the lifecycle state of a StallAlert.
type StallAlertStatus string

const (
	StallPending       StallAlertStatus = "pending"
	StallNudged        StallAlertStatus = "nudged"
	StallSelfRecovered StallAlertStatus = "self_recovered"
	StallEscalated     StallAlertStatus = "escalated"
	StallDismissed     StallAlertStatus = "dismissed"
)

func (s StallAlertStatus) Valid() bool {
	switch s {
	case StallPending, StallNudged, StallSelfRecovered, StallEscalated, StallDismissed:
		return true
	}
	return false
}

// StallAlert is a watchdog record for an inactive session.
type StallAlert struct {
	ID               string           `json:"id" db:"id"`
	SessionID        string           `json:"session_id" db:"session_id"`
	LastTool         *string          `json:"last_tool,omitempty" db:"last_tool"`
	LastActivityAt   time.Time        `json:"last_activity_at" db:"last_activity_at"`
	IdleSeconds      int              `json:"idle_seconds" db:"idle_seconds"`
	NudgeCount       int              `json:"nudge_count" db:"nudge_count"`
	Status           StallAlertStatus `json:"status" db:"status"`
	NudgeMessage     *string          `json:"nudge_message,omitempty" db:"nudge_message"`
	ProgressSnapshot []ProgressStep   `json:"progress_snapshot,omitempty" db:"-"`
	ProgressJSON     string           `json:"-" db:"progress_snapshot"`
	ChatMessageRef   *string          `json:"chat_message_ref,omitempty" db:"chat_message_ref"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// SteeringSource is where a SteeringMessage originated.
type SteeringSource string

const (
	SourceChat SteeringSource = "chat"
	SourceIPC  SteeringSource = "ipc"
)

func (s SteeringSource) Valid() bool {
	switch s {
	case SourceChat, SourceIPC:
		return true
	}
	return false
}

// SteeringMessage is an operator-initiated proactive instruction to an
// active session.
type SteeringMessage struct {
	ID        string         `json:"id" db:"id"`
	SessionID string         `json:"session_id" db:"session_id"`
	Channel   *string        `json:"channel,omitempty" db:"channel"`
	Message   string         `json:"message" db:"message"`
	Source    SteeringSource `json:"source" db:"source"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	Consumed  bool           `json:"consumed" db:"consumed"`
}

// TaskInboxItem is channel-scoped work queued before any session exists.
type TaskInboxItem struct {
	ID        string         `json:"id" db:"id"`
	Channel   *string        `json:"channel,omitempty" db:"channel"`
	Message   string         `json:"message" db:"message"`
	Source    SteeringSource `json:"source" db:"source"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	Consumed  bool           `json:"consumed" db:"consumed"`
}

// WorkspacePolicy is the on-disk shape of <workspace>/.handoff/settings.json.
type WorkspacePolicy struct {
	Enabled          bool     `json:"enabled"`
	MaxRiskLevel     string   `json:"max_risk_level"`
	AllowedCommands  []string `json:"allowed_commands"`
	AllowedTools     []string `json:"allowed_tools"`
	ReadFilePatterns []string `json:"read_file_patterns"`
	WriteFilePatterns []string `json:"write_file_patterns"`
}
