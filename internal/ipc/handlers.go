package ipc

import (
	"context"

	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/model"
)

func (s *Server) handleList(ctx context.Context) response {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return response{OK: false, Error: err.Error()}
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		lastTool := ""
		if sess.LastTool != nil {
			lastTool = *sess.LastTool
		}
		out = append(out, sessionSummary{
			ID:            sess.ID,
			OwnerUserID:   sess.OwnerUserID,
			WorkspaceRoot: sess.WorkspaceRoot,
			Status:        string(sess.Status),
			Mode:          string(sess.Mode),
			LastTool:      lastTool,
			StallPaused:   sess.StallPaused,
		})
	}
	return response{OK: true, Sessions: out}
}

// handleApprove resolves a pending ApprovalRequest through the same
// coordinator registry ask_approval waits on, so the exactly-one-
// resolution invariant (spec §4.2) holds regardless of whether chat or
// IPC wins the race.
func (s *Server) handleApprove(ctx context.Context, req request, approve bool) response {
	if req.ApprovalID == "" {
		return response{OK: false, Error: "approval_id is required"}
	}
	status := model.ApprovalRejected
	if approve {
		status = model.ApprovalApproved
	}
	err := s.coord.Approvals.Resolve(req.ApprovalID, coordinator.ApprovalResponse{Status: status})
	if err != nil {
		return response{OK: false, Error: err.Error()}
	}
	return response{OK: true}
}

// handleResume resolves a session's wait_for_instruction standby,
// optionally carrying a follow-up instruction to hand back to the agent.
func (s *Server) handleResume(ctx context.Context, req request) response {
	if req.SessionID == "" {
		return response{OK: false, Error: "session_id is required"}
	}
	payload := map[string]any{}
	if req.Instruction != "" {
		payload["instruction"] = req.Instruction
	}
	if err := s.coord.IPCReplies.Resolve(req.SessionID, coordinator.IPCReplyResponse{Payload: payload}); err != nil {
		return response{OK: false, Error: err.Error()}
	}
	return response{OK: true}
}

func (s *Server) handleMode(ctx context.Context, req request) response {
	if req.SessionID == "" {
		return response{OK: false, Error: "session_id is required"}
	}
	mode := model.OperationalMode(req.Mode)
	if !mode.Valid() {
		return response{OK: false, Error: "mode must be one of: remote, local, hybrid"}
	}
	if err := s.store.UpdateSessionMode(ctx, req.SessionID, mode); err != nil {
		return response{OK: false, Error: err.Error()}
	}
	return response{OK: true}
}

func (s *Server) handleSteer(ctx context.Context, req request) response {
	if req.SessionID == "" || req.Message == "" {
		return response{OK: false, Error: "session_id and message are required"}
	}
	sm := &model.SteeringMessage{
		SessionID: req.SessionID,
		Message:   req.Message,
		Source:    model.SourceIPC,
	}
	if req.Channel != "" {
		sm.Channel = &req.Channel
	}
	if err := s.store.CreateSteeringMessage(ctx, sm); err != nil {
		return response{OK: false, Error: err.Error()}
	}
	return response{OK: true}
}

func (s *Server) handleTask(ctx context.Context, req request) response {
	channel := req.Channel
	if channel == "" {
		channel = s.defaultChan
	}
	if channel == "" || req.Message == "" {
		return response{OK: false, Error: "channel and message are required"}
	}
	item := &model.TaskInboxItem{
		Channel: &channel,
		Message: req.Message,
		Source:  model.SourceIPC,
	}
	if err := s.store.CreateTaskInboxItem(ctx, item); err != nil {
		return response{OK: false, Error: err.Error()}
	}
	return response{OK: true}
}
