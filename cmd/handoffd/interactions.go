package main

import (
	"context"
	"strings"

	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/handoffhq/handoff/internal/store"
	"go.uber.org/zap"
)

// wireChatHandlers registers every interactive-component handler the
// broker's rendered cards invoke: approve/reject on an ApprovalRequest,
// continue/refine/stop on a ContinuationPrompt, the refine modal's
// open-then-submit round trip, and dismiss on a stall alert (which calls
// the orchestrator's DismissStall). The approve/reject handlers replace
// the card and then resolve the coordinator registry; the prompt handlers
// only resolve it. None of them persists the decision — the blocked tool
// call that registered the waiter does that — so a stale click after it
// already fired gets NotFound (or AlreadyConsumed) from the registry,
// which is logged and otherwise ignored.
func wireChatHandlers(chat *slackadapter.Adapter, st *store.Store, coord *coordinator.Coordinator, orch *session.Orchestrator, log *obslog.Logger) {
	chat.On("approve:", func(ctx context.Context, in slackadapter.Interaction) error {
		return resolveApproval(ctx, chat, st, coord, log, in, model.ApprovalApproved)
	})
	chat.On("reject:", func(ctx context.Context, in slackadapter.Interaction) error {
		return resolveApproval(ctx, chat, st, coord, log, in, model.ApprovalRejected)
	})
	chat.On("continue:", func(ctx context.Context, in slackadapter.Interaction) error {
		return resolvePrompt(coord, log, idFromInteraction("continue:", in), model.DecisionContinue, nil)
	})
	chat.On("stop:", func(ctx context.Context, in slackadapter.Interaction) error {
		return resolvePrompt(coord, log, idFromInteraction("stop:", in), model.DecisionStop, nil)
	})
	chat.On("refine:", func(ctx context.Context, in slackadapter.Interaction) error {
		cpID := idFromInteraction("refine:", in)
		if in.ViewValues != nil {
			instruction := in.ViewValues["instruction_block"]
			return resolvePrompt(coord, log, cpID, model.DecisionRefine, &instruction)
		}
		return chat.OpenView(in.TriggerID, slackadapter.RefineModal(cpID))
	})
	chat.On("dismiss_stall:", func(ctx context.Context, in slackadapter.Interaction) error {
		alertID := idFromInteraction("dismiss_stall:", in)
		sa, err := st.GetStallAlert(ctx, alertID)
		if err != nil {
			return err
		}
		orch.DismissStall(ctx, sa.SessionID)
		return nil
	})
}

// resolveApproval replaces the rendered card with the outcome first,
// then resolves the approval registry. The card edit must land before
// the registry resolves: a second click racing this one reads the
// already-edited card (or, if it beats the edit, still only resolves
// the registry once — Resolve itself is exactly-once) rather than a
// window where the original buttons are still live after the decision
// has already been made.
func resolveApproval(ctx context.Context, chat *slackadapter.Adapter, st *store.Store, coord *coordinator.Coordinator, log *obslog.Logger, in slackadapter.Interaction, status model.ApprovalStatus) error {
	id := idFromInteraction("approve:", in)
	if status == model.ApprovalRejected {
		id = idFromInteraction("reject:", in)
	}

	ar, err := st.GetApprovalRequest(ctx, id)
	if err != nil {
		return err
	}

	ar.Status = status
	if err := chat.Send(ctx, chatqueue.OutboundMessage{
		Channel: in.ChannelID,
		EditRef: in.MessageTS,
		Text:    "approval " + string(status),
		Blocks:  slackadapter.RenderResolvedApproval(ar, in.UserID),
	}); err != nil {
		return err
	}

	if err := coord.Approvals.Resolve(id, coordinator.ApprovalResponse{Status: status}); err != nil {
		log.Warn("approval already resolved", zap.String("approval_id", id), zap.Error(err))
	}
	return nil
}

func resolvePrompt(coord *coordinator.Coordinator, log *obslog.Logger, id string, decision model.PromptDecision, instruction *string) error {
	err := coord.Prompts.Resolve(id, coordinator.PromptResponse{Decision: decision, Instruction: instruction})
	if err != nil {
		log.Warn("prompt already resolved", zap.String("prompt_id", id), zap.Error(err))
	}
	return nil
}

func idFromInteraction(prefix string, in slackadapter.Interaction) string {
	if in.Value != "" {
		return in.Value
	}
	return strings.TrimPrefix(in.ActionID, prefix)
}
