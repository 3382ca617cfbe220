package tool

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obstrace"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// forwardPrompt relays a continuation/clarification/error-recovery/
// resource-warning prompt to the operator and blocks for a decision:
// continue, refine (with a new instruction), or stop.
func (h *Handler) forwardPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "forward_prompt", sessionID)
	defer span.End()

	promptText, err := req.RequireString("prompt_text")
	if err != nil {
		return errResult(err)
	}
	typeRaw, err := req.RequireString("prompt_type")
	if err != nil {
		return errResult(err)
	}
	promptType := model.PromptType(typeRaw)
	if !promptType.Valid() {
		return errResult(apperr.New(apperr.Tool, "prompt_type must be one of: continuation, clarification, error_recovery, resource_warning"))
	}
	actionsTaken := req.GetString("actions_taken", "")

	cp := &model.ContinuationPrompt{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		PromptText: promptText,
		PromptType: promptType,
	}
	if actionsTaken != "" {
		cp.ActionsTaken = &actionsTaken
	}
	if err := h.store.CreateContinuationPrompt(ctx, cp); err != nil {
		return errResult(err)
	}

	if err := h.coord.Prompts.Register(cp.ID); err != nil {
		return errResult(err)
	}

	ref, err := h.sendChatAndWait(ctx, chatqueue.OutboundMessage{
		Channel: h.cfg.Slack.DefaultChannel,
		Text:    promptText,
		Blocks:  slackadapter.ContinuationPromptBlocks(cp.ID, promptText),
	})
	if err != nil {
		h.log.Warn("failed to post continuation prompt to chat", zap.String("prompt_id", cp.ID), zapErr(err))
	} else if ref != "" {
		_ = h.store.SetContinuationPromptChatMessageRef(ctx, cp.ID, ref)
	}

	if err := h.orchestrator.Pause(ctx, sessionID); err != nil {
		h.log.Warn("failed to pause session while awaiting prompt decision", zapErr(err))
	}

	resp, err := h.coord.Prompts.Wait(ctx, cp.ID, h.cfg.Timeouts.ForwardPrompt())
	if resumeErr := h.orchestrator.Resume(ctx, sessionID); resumeErr != nil {
		h.log.Warn("failed to resume session after prompt decision", zapErr(resumeErr))
	}
	decision := model.DecisionContinue
	var instructionPtr *string
	if err == nil {
		decision = resp.Decision
		instructionPtr = resp.Instruction
	}

	if err := h.store.ResolveContinuationPrompt(ctx, cp.ID, decision, instructionPtr); err != nil {
		return errResult(err)
	}
	h.recordActivity(ctx, sessionID, "forward_prompt")

	switch decision {
	case model.DecisionRefine:
		instruction := ""
		if instructionPtr != nil {
			instruction = *instructionPtr
		}
		return mcp.NewToolResultText("refine: " + instruction), nil
	case model.DecisionStop:
		return mcp.NewToolResultText("stop"), nil
	default:
		return mcp.NewToolResultText("continue"), nil
	}
}

// waitForInstruction is the operator-controlled standby: the session
// suspends until the local companion's IPC "resume" command resolves the
// coordinator's IPCReplies registry entry keyed by the session ID, or
// until timeout_seconds (falling back to the configured default)
// elapses.
func (h *Handler) waitForInstruction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := h.resolveSessionID(ctx, req)
	if err != nil {
		return errResult(err)
	}
	ctx, span := obstrace.StartToolSpan(ctx, "wait_for_instruction", sessionID)
	defer span.End()

	timeout := h.cfg.Timeouts.WaitForInstruction()
	if raw := req.GetString("timeout_seconds", ""); raw != "" {
		if secs, convErr := strconv.Atoi(raw); convErr == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	waitID := sessionID
	if err := h.coord.IPCReplies.Register(waitID); err != nil {
		return errResult(err)
	}
	if err := h.orchestrator.Pause(ctx, sessionID); err != nil {
		h.log.Warn("failed to pause session while waiting for instruction", zapErr(err))
	}

	resp, err := h.coord.IPCReplies.Wait(ctx, waitID, timeout)
	if resumeErr := h.orchestrator.Resume(ctx, sessionID); resumeErr != nil {
		h.log.Warn("failed to resume session after instruction wait", zapErr(resumeErr))
	}
	if err != nil {
		return mcp.NewToolResultText(`{"status":"timeout"}`), nil
	}
	h.recordActivity(ctx, sessionID, "wait_for_instruction")

	instruction, _ := resp.Payload["instruction"].(string)
	if instruction == "" {
		return mcp.NewToolResultText(`{"status":"resumed"}`), nil
	}
	return mcp.NewToolResultText(`{"status":"resumed","instruction":` + strconv.Quote(instruction) + `}`), nil
}
