package tool

import (
	"context"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

func zapErr(err error) zap.Field { return zap.Error(err) }

// errResult renders err as a tool-level error result rather than a
// protocol error, following the teacher's convention of returning
// mcp.NewToolResultError(...), nil for every handled failure so the
// calling agent sees a normal tool response instead of an RPC fault.
func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// resolveSessionID returns the effective session_id for req: the
// transport-supplied session_id if present, otherwise the
// most-recently-active session owned by owner_user_id (spec's
// resolve_session(owner, id?)), for callers — e.g. a resumed agent
// process that lost track of its own session ID — that only know which
// operator they're acting for.
func (h *Handler) resolveSessionID(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	if sessionID := req.GetString("session_id", ""); sessionID != "" {
		return sessionID, nil
	}
	owner := req.GetString("owner_user_id", "")
	sess, err := h.orchestrator.ResolveSession(ctx, owner, "")
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// sendChatAndWait enqueues msg and blocks for its SendResult. The
// returned chat_message_ref is always empty, since chatqueue.Sender.Send
// reports only an error. Falls back to a no-op when no chat adapter is
// configured.
func (h *Handler) sendChatAndWait(ctx context.Context, msg chatqueue.OutboundMessage) (string, error) {
	if h.chat == nil {
		return "", nil
	}
	result := make(chan chatqueue.SendResult, 1)
	msg.Result = result
	if err := h.chat.Queue().Enqueue(ctx, msg); err != nil {
		return "", err
	}
	select {
	case res := <-result:
		return res.MessageRef, res.Err
	case <-ctx.Done():
		return "", apperr.Wrap(apperr.Chat, "wait for chat send", ctx.Err())
	}
}
