package tool

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/diffengine"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/pathsafety"
	"github.com/handoffhq/handoff/internal/policy"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/handoffhq/handoff/internal/obstrace"
)

// askApproval creates a pending ApprovalRequest, posts it to chat, and
// blocks until the operator approves or rejects it (or the configured
// timeout elapses).
func (h *Handler) askApproval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "ask_approval", sessionID)
	defer span.End()

	title, err := req.RequireString("title")
	if err != nil {
		return errResult(err)
	}
	diff, err := req.RequireString("diff")
	if err != nil {
		return errResult(err)
	}
	filePath, err := req.RequireString("file_path")
	if err != nil {
		return errResult(err)
	}
	riskRaw, err := req.RequireString("risk_level")
	if err != nil {
		return errResult(err)
	}
	risk := model.RiskLevel(riskRaw)
	if !risk.Valid() {
		return errResult(apperr.New(apperr.Tool, "risk_level must be one of: low, high, critical"))
	}
	description := req.GetString("description", "")

	sess, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}

	resolved, err := pathsafety.Resolve(sess.WorkspaceRoot, filePath)
	if err != nil {
		return errResult(err)
	}
	originalHash, err := diffengine.HashFile(resolved)
	if err != nil {
		return errResult(err)
	}

	ar := &model.ApprovalRequest{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Title:        title,
		DiffContent:  diff,
		FilePath:     filePath,
		RiskLevel:    risk,
		Status:       model.ApprovalPending,
		OriginalHash: originalHash,
	}
	if description != "" {
		ar.Description = &description
	}
	if err := h.store.CreateApprovalRequest(ctx, ar); err != nil {
		return errResult(err)
	}

	if err := h.coord.Approvals.Register(ar.ID); err != nil {
		return errResult(err)
	}

	ref, err := h.sendChatAndWait(ctx, chatqueue.OutboundMessage{
		Channel: h.cfg.Slack.DefaultChannel,
		Text:    "Approval requested: " + title,
		Blocks:  slackadapter.ApprovalBlocks(ar),
	})
	if err != nil {
		h.log.Warn("failed to post approval request to chat", zap.String("approval_id", ar.ID), zapErr(err))
	} else if ref != "" {
		_ = h.store.SetApprovalChatMessageRef(ctx, ar.ID, ref)
	}

	if err := h.orchestrator.Pause(ctx, sessionID); err != nil {
		h.log.Warn("failed to pause session while awaiting approval", zapErr(err))
	}

	resp, err := h.coord.Approvals.Wait(ctx, ar.ID, h.cfg.Timeouts.AskApproval())
	resumeErr := h.orchestrator.Resume(ctx, sessionID)
	if resumeErr != nil {
		h.log.Warn("failed to resume session after approval decision", zapErr(resumeErr))
	}
	if err != nil {
		_ = h.store.ResolveApprovalRequest(ctx, ar.ID, model.ApprovalExpired)
		return errResult(err)
	}

	if err := h.store.ResolveApprovalRequest(ctx, ar.ID, resp.Status); err != nil {
		return errResult(err)
	}
	h.recordActivity(ctx, sessionID, "ask_approval")

	switch resp.Status {
	case model.ApprovalApproved:
		return mcp.NewToolResultText("approved: " + ar.ID), nil
	default:
		return mcp.NewToolResultText("rejected: " + ar.ID), nil
	}
}

// acceptDiff applies a previously approved diff to disk: patch mode
// verifies the pre-image hash still matches (the file has not drifted
// since approval) unless force overrides that check, full-file mode
// (diff_content with no unified-diff header) writes the content
// verbatim. The request is marked consumed exactly once. A force
// override that bypassed a real hash mismatch posts an audited warning
// to chat — it must never silently overwrite.
func (h *Handler) acceptDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID, err := req.RequireString("approval_id")
	if err != nil {
		return errResult(err)
	}
	force := req.GetBool("force", false)

	ar, err := h.store.GetApprovalRequest(ctx, approvalID)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "accept_diff", ar.SessionID)
	defer span.End()

	if ar.Status != model.ApprovalApproved {
		return errResult(apperr.New(apperr.Tool, "approval "+approvalID+" is not in approved status"))
	}

	sess, err := h.store.GetSession(ctx, ar.SessionID)
	if err != nil {
		return errResult(err)
	}

	var newHash, writtenPath string
	var overridden bool
	var bytesWritten int

	if diffengine.IsPatch(ar.DiffContent) {
		patch, perr := diffengine.Parse(ar.DiffContent)
		if perr != nil {
			return errResult(perr)
		}
		newHash, writtenPath, overridden, err = diffengine.Apply(sess.WorkspaceRoot, patch, ar.OriginalHash, force)
		if err != nil {
			return errResult(err)
		}
		bytesWritten = len(ar.DiffContent)
	} else {
		newHash, writtenPath, err = diffengine.ApplyFullFile(sess.WorkspaceRoot, ar.FilePath, []byte(ar.DiffContent))
		if err != nil {
			return errResult(err)
		}
		bytesWritten = len(ar.DiffContent)
	}

	if err := h.store.MarkApprovalConsumed(ctx, approvalID); err != nil {
		return errResult(err)
	}
	h.recordActivity(ctx, ar.SessionID, "accept_diff")

	if overridden {
		h.enqueueChat(ctx, chatqueue.OutboundMessage{
			Channel: h.cfg.Slack.DefaultChannel,
			Text:    "force override: " + ar.FilePath + " had diverged from its approved pre-image; wrote anyway (approval " + ar.ID + ")",
		})
	}

	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"applied","files_written":[%q],"bytes":%d,"new_hash":%q}`,
		filepath.Clean(writtenPath), bytesWritten, newHash)), nil
}

// checkAutoApprove evaluates the current workspace policy without
// creating any approval record or blocking, letting an agent skip
// ask_approval entirely for actions the operator has pre-authorized.
func (h *Handler) checkAutoApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "check_auto_approve", sessionID)
	defer span.End()

	kind, err := req.RequireString("kind")
	if err != nil {
		return errResult(err)
	}
	target, err := req.RequireString("target")
	if err != nil {
		return errResult(err)
	}
	risk := model.RiskLevel(req.GetString("risk_level", string(model.RiskLow)))

	sess, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return errResult(err)
	}
	cp := h.policies.Get(sess.WorkspaceRoot)

	var d policy.Decision
	switch kind {
	case "command":
		d = cp.EvaluateCommand(target, risk)
	case "tool":
		d = cp.EvaluateTool(target)
	case "file_read":
		d = cp.EvaluateFileRead(target)
	case "file_write":
		d = cp.EvaluateFileWrite(target, risk)
	default:
		return errResult(apperr.New(apperr.Tool, "kind must be one of: command, tool, file_read, file_write"))
	}

	h.recordActivity(ctx, sessionID, "check_auto_approve")

	if d.AutoApprove {
		return mcp.NewToolResultText("auto_approve=true: " + d.Reason), nil
	}
	return mcp.NewToolResultText("auto_approve=false: " + d.Reason), nil
}
