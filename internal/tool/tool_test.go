package tool

import (
	"context"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/config"
	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/policy"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/stall"
	"github.com/handoffhq/handoff/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExecutor struct{}

func (noopExecutor) StartAgent(ctx context.Context, sess *model.Session) error { return nil }
func (noopExecutor) StopAgent(ctx context.Context, sess *model.Session, grace time.Duration) error {
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *store.Store, *session.Orchestrator) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := make(chan stall.Event, 32)
	orch := session.New(st, noopExecutor{}, session.Config{
		MaxSessionsPerOwner: 4,
		StallInactivity:     time.Hour,
		StallEscalation:     time.Hour,
		TerminationGrace:    time.Second,
	}, events, obslog.Default())

	watcher, err := policy.NewWatcher(obslog.Default(), nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Timeouts: config.TimeoutsConfig{
			AskApprovalSeconds:       2,
			ForwardPromptSeconds:     2,
			WaitForInstructionSeconds: 2,
		},
	}

	h := New(st, coordinator.New(), watcher, orch, nil, cfg, obslog.Default())
	return h, st, orch
}

func req(args map[string]any) mcp.CallToolRequest {
	var r mcp.CallToolRequest
	r.Params.Arguments = args
	return r
}

func TestAskApproval_TimesOutWithoutOperatorResponse(t *testing.T) {
	h, _, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	result, err := h.askApproval(ctx, req(map[string]any{
		"session_id":  sess.ID,
		"title":       "add a helper",
		"diff":        "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n",
		"file_path":   "file.txt",
		"risk_level":  "low",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestAskApproval_ResolvedByCoordinator(t *testing.T) {
	h, st, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		pending, err := st.ListPendingApprovalsForSession(ctx, sess.ID)
		if err != nil || len(pending) == 0 {
			return
		}
		_ = h.coord.Approvals.Resolve(pending[0].ID, coordinator.ApprovalResponse{Status: model.ApprovalApproved})
	}()

	result, err := h.askApproval(ctx, req(map[string]any{
		"session_id": sess.ID,
		"title":      "add a helper",
		"diff":       "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n",
		"file_path":  "file.txt",
		"risk_level": "low",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
}

func TestCheckAutoApprove_DeniesWithoutPolicyFile(t *testing.T) {
	h, _, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	result, err := h.checkAutoApprove(ctx, req(map[string]any{
		"session_id": sess.ID,
		"kind":       "tool",
		"target":     "run_tests",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "auto_approve=false")
}

func TestHeartbeat_RecordsActivity(t *testing.T) {
	h, st, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	_, err = h.heartbeat(ctx, req(map[string]any{"session_id": sess.ID}))
	require.NoError(t, err)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTool)
	assert.Equal(t, "heartbeat", *got.LastTool)
}

func TestForwardPrompt_TimesOutToContinue(t *testing.T) {
	h, st, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	result, err := h.forwardPrompt(ctx, req(map[string]any{
		"session_id":  sess.ID,
		"prompt_text": "continue?",
		"prompt_type": "continuation",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	prompts, err := st.ListUnresolvedContinuationPromptsForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestRemoteLog_WithoutChatAdapterReportsNotPosted(t *testing.T) {
	h, _, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	result, err := h.remoteLog(ctx, req(map[string]any{
		"session_id": sess.ID,
		"severity":   "info",
		"message":    "starting up",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"posted":false`)
}

func TestSetOperationalMode_UpdatesStore(t *testing.T) {
	h, st, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	_, err = h.setOperationalMode(ctx, req(map[string]any{"session_id": sess.ID, "mode": "local"}))
	require.NoError(t, err)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeLocal, got.Mode)
}

func TestSetOperationalMode_ResolvesSessionByOwnerWhenIDOmitted(t *testing.T) {
	h, st, orch := newTestHandler(t)
	ctx := context.Background()

	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	_, err = h.setOperationalMode(ctx, req(map[string]any{"owner_user_id": "U1", "mode": "hybrid"}))
	require.NoError(t, err)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeHybrid, got.Mode)
}

func TestSetOperationalMode_ErrorsWithoutSessionIDOrOwner(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	res, err := h.setOperationalMode(ctx, req(map[string]any{"mode": "local"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
