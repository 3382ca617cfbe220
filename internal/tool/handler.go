// Package tool implements the nine always-advertised tool operations
// (spec §4.1): ask_approval, accept_diff, check_auto_approve,
// forward_prompt, remote_log, recover_state, set_operational_mode,
// wait_for_instruction, heartbeat. Every handler wraps its work in an
// obstrace span keyed by (tool, session_id), following the teacher's
// internal/mcpserver/tools.go registerTools/AddTool pattern.
package tool

import (
	"context"

	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/policy"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/handoffhq/handoff/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/handoffhq/handoff/internal/config"
	"github.com/handoffhq/handoff/internal/obslog"
)

// Handler wires the store, coordinator, policy watcher, session
// orchestrator, and chat adapter behind the nine tool operations.
type Handler struct {
	store        *store.Store
	coord        *coordinator.Coordinator
	policies     *policy.Watcher
	orchestrator *session.Orchestrator
	chat         *slackadapter.Adapter
	cfg          *config.Config
	log          *obslog.Logger
}

// New constructs a Handler. chat may be nil if the broker was started
// with chat disabled (local-only IPC mode).
func New(st *store.Store, coord *coordinator.Coordinator, policies *policy.Watcher, orch *session.Orchestrator, chat *slackadapter.Adapter, cfg *config.Config, log *obslog.Logger) *Handler {
	return &Handler{store: st, coord: coord, policies: policies, orchestrator: orch, chat: chat, cfg: cfg, log: log}
}

// Register advertises every tool on s, mirroring the teacher's
// registerTools(s, cfg, log) call shape.
func (h *Handler) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("ask_approval",
		mcp.WithDescription("Request human approval for a proposed file diff before applying it."),
		mcp.WithString("session_id", mcp.Description("The session making the request (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title for the change")),
		mcp.WithString("description", mcp.Description("Longer description of the change (optional)")),
		mcp.WithString("diff", mcp.Required(), mcp.Description("Unified diff of the proposed change")),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path (relative to workspace root) the diff applies to")),
		mcp.WithString("risk_level", mcp.Required(), mcp.Description("low, high, or critical")),
	), h.askApproval)

	s.AddTool(mcp.NewTool("accept_diff",
		mcp.WithDescription("Apply a previously approved diff (or full-file replacement) to disk."),
		mcp.WithString("approval_id", mcp.Required(), mcp.Description("The approval request ID returned by ask_approval")),
		mcp.WithBoolean("force", mcp.Description("Override a pre-image hash mismatch; posts an audited warning to chat (optional, default false)")),
	), h.acceptDiff)

	s.AddTool(mcp.NewTool("check_auto_approve",
		mcp.WithDescription("Check whether a proposed action would be auto-approved by workspace policy without requesting human approval."),
		mcp.WithString("session_id", mcp.Description("The session making the request (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("command, tool, file_read, or file_write")),
		mcp.WithString("target", mcp.Required(), mcp.Description("the command, tool name, or file path being evaluated")),
		mcp.WithString("risk_level", mcp.Description("low, high, or critical (optional, defaults to low)")),
	), h.checkAutoApprove)

	s.AddTool(mcp.NewTool("forward_prompt",
		mcp.WithDescription("Forward a continuation/clarification/error-recovery/resource-warning prompt to the operator and await a decision."),
		mcp.WithString("session_id", mcp.Description("The session making the request (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("prompt_text", mcp.Required(), mcp.Description("The prompt text to show the operator")),
		mcp.WithString("prompt_type", mcp.Required(), mcp.Description("continuation, clarification, error_recovery, or resource_warning")),
		mcp.WithString("actions_taken", mcp.Description("Summary of actions taken so far (optional)")),
	), h.forwardPrompt)

	s.AddTool(mcp.NewTool("remote_log",
		mcp.WithDescription("Post a non-blocking status update visible to the operator."),
		mcp.WithString("session_id", mcp.Description("The session emitting the log (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("severity", mcp.Required(), mcp.Description("info, success, warning, or error")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The log message")),
		mcp.WithString("thread_ref", mcp.Description("Reply into an existing chat thread (optional)")),
	), h.remoteLog)

	s.AddTool(mcp.NewTool("recover_state",
		mcp.WithDescription("Recover a session's last checkpoint and any pending approvals/prompts after a restart."),
		mcp.WithString("session_id", mcp.Description("The session to recover (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
	), h.recoverState)

	s.AddTool(mcp.NewTool("set_operational_mode",
		mcp.WithDescription("Switch a session between remote (chat-only), local (IPC-only), and hybrid reachability."),
		mcp.WithString("session_id", mcp.Description("The session to reconfigure (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("mode", mcp.Required(), mcp.Description("remote, local, or hybrid")),
	), h.setOperationalMode)

	s.AddTool(mcp.NewTool("wait_for_instruction",
		mcp.WithDescription("Suspend the session in an operator-controlled standby until the operator resumes it over IPC, or until timeout_seconds elapses."),
		mcp.WithString("session_id", mcp.Description("The session waiting for instruction (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("timeout_seconds", mcp.Description("Override the configured wait timeout, in seconds (optional)")),
	), h.waitForInstruction)

	s.AddTool(mcp.NewTool("heartbeat",
		mcp.WithDescription("Report liveness and optional progress, resetting the stall detector. Returns any steering messages queued for this session."),
		mcp.WithString("session_id", mcp.Description("The session reporting liveness (optional if owner_user_id is given)")),
		mcp.WithString("owner_user_id", mcp.Description("Resolves to the caller's most-recently-active session when session_id is omitted")),
		mcp.WithString("status_message", mcp.Description("Optional free-text status update (subject to chat detail-level filtering)")),
		mcp.WithArray("progress_snapshot", mcp.Description("Optional replacement progress snapshot: a list of {label, status} objects")),
	), h.heartbeat)
}

// recordActivity is called by every handler on success, resetting the
// stall detector and updating the session's last-tool/activity fields.
func (h *Handler) recordActivity(ctx context.Context, sessionID, toolName string) {
	if err := h.orchestrator.RecordActivity(ctx, sessionID, toolName); err != nil {
		h.log.Warn("failed to record tool activity", zapErr(err))
	}
}

// enqueueChat posts msg through the chat adapter's outbound queue, if a
// chat adapter is configured for this deployment.
func (h *Handler) enqueueChat(ctx context.Context, msg chatqueue.OutboundMessage) {
	if h.chat == nil {
		return
	}
	if err := h.chat.Queue().Enqueue(ctx, msg); err != nil {
		h.log.Warn("failed to enqueue chat message", zapErr(err))
	}
}
