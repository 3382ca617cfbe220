package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obstrace"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// remoteLog posts a visible status update to the operator's chat channel
// and mirrors it into the server log. It never blocks the calling agent
// on operator action and never fails the tool call on a chat delivery
// error — only a malformed request produces an error result.
func (h *Handler) remoteLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "remote_log", sessionID)
	defer span.End()

	severity := strings.ToLower(req.GetString("severity", "info"))
	message, err := req.RequireString("message")
	if err != nil {
		return errResult(err)
	}
	threadRef := req.GetString("thread_ref", "")

	fields := []zap.Field{zap.String("session_id", sessionID), zap.String("source", "agent")}
	switch severity {
	case "warning":
		h.log.Warn(message, fields...)
	case "error":
		h.log.Error(message, fields...)
	default:
		h.log.Info(message, fields...)
	}

	var ref string
	var posted bool
	if h.chat != nil {
		var sendErr error
		ref, sendErr = h.sendChatAndWait(ctx, chatqueue.OutboundMessage{
			Channel:   h.cfg.Slack.DefaultChannel,
			Text:      message,
			Blocks:    slackadapter.StatusPostBlocks(severity, message),
			ReplyToTS: threadRef,
		})
		if sendErr != nil {
			h.log.Warn("failed to post remote_log status to chat", zap.String("session_id", sessionID), zapErr(sendErr))
		} else {
			posted = true
		}
	}

	h.recordActivity(ctx, sessionID, "remote_log")
	return mcp.NewToolResultText(fmt.Sprintf(`{"posted":%t,"message_ref":%q}`, posted, ref)), nil
}

// recoverState returns the session's latest checkpoint, the divergence
// classification of every file it recorded, any approvals or
// continuation prompts still unresolved, and any task-inbox items
// queued for the session's channel — called after the agent itself
// restarts.
func (h *Handler) recoverState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "recover_state", sessionID)
	defer span.End()

	cp, divergences, err := h.orchestrator.Restore(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}

	pendingApprovals, err := h.store.ListPendingApprovalsForSession(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}
	pendingPrompts, err := h.store.ListUnresolvedContinuationPromptsForSession(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}

	// Task-inbox items are channel-scoped, not session-scoped; this
	// single-tenant broker routes every session through the one
	// configured channel, so that channel is the matching channel.
	var pendingTasks []*model.TaskInboxItem
	if h.cfg.Slack.DefaultChannel != "" {
		pendingTasks, err = h.store.ListUnconsumedTaskInboxForChannel(ctx, h.cfg.Slack.DefaultChannel)
		if err != nil {
			return errResult(err)
		}
		for _, item := range pendingTasks {
			if err := h.store.MarkTaskInboxConsumed(ctx, item.ID); err != nil {
				h.log.Warn("failed to mark task inbox item consumed", zapErr(err))
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "checkpoint: %s (session_state=%s)\n", cp.ID, cp.SessionState)
	for _, d := range divergences {
		fmt.Fprintf(&b, "  %s: %s\n", d.Path, d.Kind)
	}
	fmt.Fprintf(&b, "pending_approvals: %d\n", len(pendingApprovals))
	for _, ar := range pendingApprovals {
		fmt.Fprintf(&b, "  %s: %s (%s)\n", ar.ID, ar.Title, ar.Status)
	}
	fmt.Fprintf(&b, "pending_prompts: %d\n", len(pendingPrompts))
	for _, p := range pendingPrompts {
		fmt.Fprintf(&b, "  %s: %s\n", p.ID, p.PromptText)
	}
	fmt.Fprintf(&b, "pending_tasks: %d\n", len(pendingTasks))
	for _, item := range pendingTasks {
		fmt.Fprintf(&b, "  %s\n", item.Message)
	}

	h.recordActivity(ctx, sessionID, "recover_state")
	return mcp.NewToolResultText(b.String()), nil
}

// setOperationalMode switches which surface (chat, IPC, or both) a
// session is reachable through.
func (h *Handler) setOperationalMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "set_operational_mode", sessionID)
	defer span.End()

	modeRaw, err := req.RequireString("mode")
	if err != nil {
		return errResult(err)
	}
	mode := model.OperationalMode(modeRaw)
	if !mode.Valid() {
		return errResult(apperr.New(apperr.Tool, "mode must be one of: remote, local, hybrid"))
	}

	if err := h.store.UpdateSessionMode(ctx, sessionID, mode); err != nil {
		return errResult(err)
	}

	h.recordActivity(ctx, sessionID, "set_operational_mode")
	return mcp.NewToolResultText("mode set to " + string(mode)), nil
}

// heartbeat is an alias of the stall detector's reset operation: it
// resets the detector, optionally records a status message and a
// replacement progress snapshot, and returns any steering messages
// queued for this session since the last heartbeat.
func (h *Handler) heartbeat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "heartbeat", sessionID)
	defer span.End()

	statusMessage := req.GetString("status_message", "")
	if raw, ok := req.GetArguments()["progress_snapshot"]; ok {
		steps, err := parseProgressSnapshot(raw)
		if err != nil {
			return errResult(err)
		}
		if err := h.store.UpdateSessionProgress(ctx, sessionID, steps); err != nil {
			return errResult(err)
		}
	}

	if statusMessage != "" && h.chatDetailLevel() != "minimal" {
		h.enqueueChat(ctx, chatqueue.OutboundMessage{
			Channel: h.cfg.Slack.DefaultChannel,
			Text:    statusMessage,
		})
	}

	steering, err := h.store.ListUnconsumedSteeringForSession(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}
	for _, msg := range steering {
		if err := h.store.MarkSteeringConsumed(ctx, msg.ID); err != nil {
			h.log.Warn("failed to mark steering message consumed", zapErr(err))
		}
	}

	h.recordActivity(ctx, sessionID, "heartbeat")

	var b strings.Builder
	b.WriteString(`{"acknowledged":true,"session_id":"` + sessionID + `","pending_steering":[`)
	for i, msg := range steering {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.Quote(msg.Message))
	}
	b.WriteString("]}")
	return mcp.NewToolResultText(b.String()), nil
}

func parseProgressSnapshot(raw any) ([]model.ProgressStep, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, apperr.New(apperr.Tool, "progress_snapshot must be an array of {label, status} objects")
	}
	steps := make([]model.ProgressStep, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.New(apperr.Tool, "progress_snapshot entries must be objects")
		}
		label, _ := obj["label"].(string)
		status := model.ProgressStatus(fmt.Sprint(obj["status"]))
		if !status.Valid() {
			return nil, apperr.New(apperr.Tool, "progress_snapshot status must be one of: pending, in_progress, done, blocked")
		}
		steps = append(steps, model.ProgressStep{Label: label, Status: status})
	}
	return steps, nil
}

// chatDetailLevel defaults to "standard" if unset, matching config's
// default (spec §3's minimal|standard|verbose detail filter).
func (h *Handler) chatDetailLevel() string {
	if h.cfg.ChatDetailLevel == "" {
		return "standard"
	}
	return h.cfg.ChatDetailLevel
}
