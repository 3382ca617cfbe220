package store

import (
	"context"
	"testing"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		OwnerUserID:   "U123",
		WorkspaceRoot: "/tmp/ws",
		Status:        model.SessionCreated,
		Mode:          model.ModeRemote,
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.OwnerUserID, got.OwnerUserID)
	assert.Equal(t, model.SessionCreated, got.Status)
}

func TestUpdateSessionStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSessionStatus(context.Background(), "missing", model.SessionActive)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestResolveApprovalRequest_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{OwnerUserID: "U1", WorkspaceRoot: "/tmp", Status: model.SessionActive, Mode: model.ModeRemote}
	require.NoError(t, s.CreateSession(ctx, sess))

	ar := &model.ApprovalRequest{
		SessionID:    sess.ID,
		Title:        "rename function",
		DiffContent:  "--- a\n+++ b\n",
		FilePath:     "a.go",
		RiskLevel:    model.RiskLow,
		Status:       model.ApprovalPending,
		OriginalHash: "deadbeef",
	}
	require.NoError(t, s.CreateApprovalRequest(ctx, ar))

	require.NoError(t, s.ResolveApprovalRequest(ctx, ar.ID, model.ApprovalApproved))

	err := s.ResolveApprovalRequest(ctx, ar.ID, model.ApprovalRejected)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AlreadyConsumed))
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{OwnerUserID: "U1", WorkspaceRoot: "/tmp", Status: model.SessionActive, Mode: model.ModeRemote}
	require.NoError(t, s.CreateSession(ctx, sess))

	cp := &model.Checkpoint{
		SessionID:     sess.ID,
		SessionState:  `{"foo":"bar"}`,
		FileHashes:    map[string]string{"a.go": "hash1"},
		WorkspaceRoot: "/tmp",
		ProgressSnapshot: []model.ProgressStep{
			{Label: "step 1", Status: model.ProgressDone},
		},
	}
	require.NoError(t, s.CreateCheckpoint(ctx, cp))

	got, err := s.LatestCheckpointForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash1", got.FileHashes["a.go"])
	require.Len(t, got.ProgressSnapshot, 1)
	assert.Equal(t, model.ProgressDone, got.ProgressSnapshot[0].Status)
}

func TestRecoverOnStartup_InterruptsActiveSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{OwnerUserID: "U1", WorkspaceRoot: "/tmp", Status: model.SessionActive, Mode: model.ModeRemote}
	require.NoError(t, s.CreateSession(ctx, sess))

	ar := &model.ApprovalRequest{
		SessionID: sess.ID, Title: "x", DiffContent: "d", FilePath: "f.go",
		RiskLevel: model.RiskLow, Status: model.ApprovalPending, OriginalHash: "h",
	}
	require.NoError(t, s.CreateApprovalRequest(ctx, ar))

	n, err := s.RecoverOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionInterrupted, got.Status)

	gotAR, err := s.GetApprovalRequest(ctx, ar.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalInterrupted, gotAR.Status)
}

func TestSteeringMessage_ConsumeAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{OwnerUserID: "U1", WorkspaceRoot: "/tmp", Status: model.SessionActive, Mode: model.ModeRemote}
	require.NoError(t, s.CreateSession(ctx, sess))

	sm := &model.SteeringMessage{SessionID: sess.ID, Message: "focus on tests", Source: model.SourceChat}
	require.NoError(t, s.CreateSteeringMessage(ctx, sm))

	pending, err := s.ListUnconsumedSteeringForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkSteeringConsumed(ctx, sm.ID))

	pending, err = s.ListUnconsumedSteeringForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
