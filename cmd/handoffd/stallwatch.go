package main

import (
	"context"
	"fmt"
	"time"

	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/handoffhq/handoff/internal/stall"
	"github.com/handoffhq/handoff/internal/store"
	"go.uber.org/zap"
)

// dispatchStallEvents consumes every Detector's published events (spec
// §4.3): Stalled opens a new alert and posts it, AutoNudge updates the
// idle summary on the same card, Escalated calls it out distinctly, and
// SelfRecovered/Dismissed close the alert out and block-replace the
// card. Runs until ctx is cancelled; events still buffered at that point
// are not handled.
func dispatchStallEvents(ctx context.Context, events chan stall.Event, st *store.Store, chat *slackadapter.Adapter, log *obslog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			handleStallEvent(ctx, evt, st, chat, log)
		}
	}
}

func handleStallEvent(ctx context.Context, evt stall.Event, st *store.Store, chat *slackadapter.Adapter, log *obslog.Logger) {
	switch evt.Kind {
	case stall.EventReset:
		if err := st.SetSessionStallPaused(ctx, evt.SessionID, false); err != nil {
			log.Warn("failed to clear stall flag", zap.String("session_id", evt.SessionID), zap.Error(err))
		}

	case stall.EventStalled:
		openStallAlert(ctx, st, chat, evt, log)

	case stall.EventAutoNudge:
		nudgeStallAlert(ctx, st, chat, evt, log)

	case stall.EventEscalated:
		escalateStallAlert(ctx, st, chat, evt, log)

	case stall.EventSelfRecovered:
		if err := st.SetSessionStallPaused(ctx, evt.SessionID, false); err != nil {
			log.Warn("failed to clear stall flag", zap.String("session_id", evt.SessionID), zap.Error(err))
		}
		resolveStallAlert(ctx, st, chat, evt.SessionID, model.StallSelfRecovered, log)

	case stall.EventDismissed:
		resolveStallAlert(ctx, st, chat, evt.SessionID, model.StallDismissed, log)
	}
}

func openStallAlert(ctx context.Context, st *store.Store, chat *slackadapter.Adapter, evt stall.Event, log *obslog.Logger) {
	sess, err := st.GetSession(ctx, evt.SessionID)
	if err != nil {
		log.Warn("failed to load session for stall alert", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}

	sa := &model.StallAlert{
		SessionID:        evt.SessionID,
		LastTool:         sess.LastTool,
		LastActivityAt:   sess.UpdatedAt,
		IdleSeconds:      int(evt.IdleFor.Seconds()),
		Status:           model.StallPending,
		ProgressSnapshot: sess.ProgressSnapshot,
	}
	if err := st.CreateStallAlert(ctx, sa); err != nil {
		log.Warn("failed to persist stall alert", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}

	if chat == nil {
		return
	}
	idleSummary, progressSummary := stallSummaries(evt, sess)
	ref, err := sendChatAndWaitRef(ctx, chat, chatqueue.OutboundMessage{
		Text:   idleSummary,
		Blocks: slackadapter.StallNudgeBlocks(sa.ID, idleSummary, progressSummary),
	})
	if err != nil {
		log.Warn("failed to post stall alert", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}
	if err := st.SetStallAlertChatMessageRef(ctx, sa.ID, ref); err != nil {
		log.Warn("failed to record stall alert chat ref", zap.String("alert_id", sa.ID), zap.Error(err))
	}
}

// sendChatAndWaitRef enqueues msg and blocks for its SendResult,
// mirroring the tool handler's sendChatAndWait. The returned ref is
// always empty: chatqueue.Sender.Send reports only an error, so the
// queue never learns a post's message timestamp.
func sendChatAndWaitRef(ctx context.Context, chat *slackadapter.Adapter, msg chatqueue.OutboundMessage) (string, error) {
	result := make(chan chatqueue.SendResult, 1)
	msg.Result = result
	if err := chat.Queue().Enqueue(ctx, msg); err != nil {
		return "", err
	}
	select {
	case res := <-result:
		return res.MessageRef, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func nudgeStallAlert(ctx context.Context, st *store.Store, chat *slackadapter.Adapter, evt stall.Event, log *obslog.Logger) {
	sess, err := st.GetSession(ctx, evt.SessionID)
	if err != nil {
		log.Warn("failed to load session for stall nudge", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}
	sa, err := st.GetOpenStallAlertForSession(ctx, evt.SessionID)
	if err != nil || sa == nil {
		log.Warn("no open stall alert for nudge", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}
	if err := st.UpdateStallAlertIdle(ctx, sa.ID, int(evt.IdleFor.Seconds()), evt.Attempt); err != nil {
		log.Warn("failed to update stall alert idle", zap.String("alert_id", sa.ID), zap.Error(err))
	}

	if chat == nil || sa.ChatMessageRef == nil {
		return
	}
	idleSummary, progressSummary := stallSummaries(evt, sess)
	idleSummary = fmt.Sprintf("%s, nudge %d", idleSummary, evt.Attempt)
	if err := chat.Send(ctx, chatqueue.OutboundMessage{
		EditRef: *sa.ChatMessageRef,
		Text:    idleSummary,
		Blocks:  slackadapter.StallNudgeBlocks(sa.ID, idleSummary, progressSummary),
	}); err != nil {
		log.Warn("failed to update stall alert card", zap.String("alert_id", sa.ID), zap.Error(err))
	}
}

func escalateStallAlert(ctx context.Context, st *store.Store, chat *slackadapter.Adapter, evt stall.Event, log *obslog.Logger) {
	if err := st.SetSessionStallPaused(ctx, evt.SessionID, true); err != nil {
		log.Warn("failed to set stall flag", zap.String("session_id", evt.SessionID), zap.Error(err))
	}
	sa, err := st.GetOpenStallAlertForSession(ctx, evt.SessionID)
	if err != nil || sa == nil {
		log.Warn("no open stall alert to escalate", zap.String("session_id", evt.SessionID), zap.Error(err))
		return
	}
	if err := st.UpdateStallAlertStatus(ctx, sa.ID, model.StallEscalated); err != nil {
		log.Warn("failed to mark stall alert escalated", zap.String("alert_id", sa.ID), zap.Error(err))
	}

	if chat == nil {
		return
	}
	idleSummary := fmt.Sprintf("idle %s — escalated after %d nudges", evt.IdleFor.Round(time.Second), sa.NudgeCount)
	if err := chat.Queue().Enqueue(ctx, chatqueue.OutboundMessage{
		Text: "<!channel> " + idleSummary,
	}); err != nil {
		log.Warn("failed to enqueue stall escalation", zap.String("session_id", evt.SessionID), zap.Error(err))
	}
	if sa.ChatMessageRef != nil {
		if err := chat.Send(ctx, chatqueue.OutboundMessage{
			EditRef: *sa.ChatMessageRef,
			Text:    idleSummary,
			Blocks:  slackadapter.RenderResolvedStallAlert(model.StallEscalated, evt.IdleFor.Round(time.Second).String()),
		}); err != nil {
			log.Warn("failed to update stall alert card on escalation", zap.String("alert_id", sa.ID), zap.Error(err))
		}
	}
}

func resolveStallAlert(ctx context.Context, st *store.Store, chat *slackadapter.Adapter, sessionID string, status model.StallAlertStatus, log *obslog.Logger) {
	sa, err := st.GetOpenStallAlertForSession(ctx, sessionID)
	if err != nil {
		log.Warn("failed to load open stall alert", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if sa == nil {
		return
	}
	if err := st.UpdateStallAlertStatus(ctx, sa.ID, status); err != nil {
		log.Warn("failed to resolve stall alert", zap.String("alert_id", sa.ID), zap.Error(err))
	}

	if chat == nil || sa.ChatMessageRef == nil {
		return
	}
	idle := time.Duration(sa.IdleSeconds) * time.Second
	if err := chat.Send(ctx, chatqueue.OutboundMessage{
		EditRef: *sa.ChatMessageRef,
		Text:    "stall alert " + string(status),
		Blocks:  slackadapter.RenderResolvedStallAlert(status, idle.String()),
	}); err != nil {
		log.Warn("failed to block-replace resolved stall alert", zap.String("alert_id", sa.ID), zap.Error(err))
	}
}

func stallSummaries(evt stall.Event, sess *model.Session) (idleSummary, progressSummary string) {
	idleSummary = fmt.Sprintf("idle %s", evt.IdleFor.Round(time.Second))
	progressSummary = "no progress snapshot recorded"
	if len(sess.ProgressSnapshot) > 0 {
		last := sess.ProgressSnapshot[len(sess.ProgressSnapshot)-1]
		progressSummary = fmt.Sprintf("%s (%s)", last.Label, last.Status)
	}
	return idleSummary, progressSummary
}
