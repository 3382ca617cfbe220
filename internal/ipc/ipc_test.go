package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/stall"
	"github.com/handoffhq/handoff/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExecutor struct{}

func (noopExecutor) StartAgent(ctx context.Context, sess *model.Session) error { return nil }
func (noopExecutor) StopAgent(ctx context.Context, sess *model.Session, grace time.Duration) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *session.Orchestrator, *coordinator.Coordinator) {
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

	coord := coordinator.New()
	sockPath := filepath.Join(t.TempDir(), "handoff-test.sock")
	srv, err := New(sockPath, "s3cr3t", st, coord, orch, "C123", obslog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()

	return srv, st, orch, coord
}

func roundTrip(t *testing.T, path string, req request) response {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	b, err := json.Marshal(req)
	require.NoError(t, err)
	b = append(b, '\n')
	_, err = conn.Write(b)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestServer_RejectsBadAuthToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp := roundTrip(t, srv.Path(), request{Cmd: "list", AuthToken: "wrong"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unauthorized")
}

func TestServer_List(t *testing.T) {
	srv, _, orch, _ := newTestServer(t)
	ctx := context.Background()
	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	resp := roundTrip(t, srv.Path(), request{Cmd: "list", AuthToken: "s3cr3t"})
	require.True(t, resp.OK)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, sess.ID, resp.Sessions[0].ID)
}

func TestServer_ApproveResolvesCoordinator(t *testing.T) {
	srv, _, _, coord := newTestServer(t)
	require.NoError(t, coord.Approvals.Register("ar-1"))

	done := make(chan coordinator.ApprovalResponse, 1)
	go func() {
		v, err := coord.Approvals.Wait(context.Background(), "ar-1", time.Second)
		if err == nil {
			done <- v
		}
	}()

	resp := roundTrip(t, srv.Path(), request{Cmd: "approve", AuthToken: "s3cr3t", ApprovalID: "ar-1"})
	require.True(t, resp.OK)

	select {
	case v := <-done:
		assert.Equal(t, model.ApprovalApproved, v.Status)
	case <-time.After(time.Second):
		t.Fatal("approval was not resolved")
	}
}

func TestServer_ApproveUnknownIDFails(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	resp := roundTrip(t, srv.Path(), request{Cmd: "approve", AuthToken: "s3cr3t", ApprovalID: "missing"})
	assert.False(t, resp.OK)
}

func TestServer_Resume(t *testing.T) {
	srv, _, _, coord := newTestServer(t)
	require.NoError(t, coord.IPCReplies.Register("sess-1"))

	done := make(chan coordinator.IPCReplyResponse, 1)
	go func() {
		v, err := coord.IPCReplies.Wait(context.Background(), "sess-1", time.Second)
		if err == nil {
			done <- v
		}
	}()

	resp := roundTrip(t, srv.Path(), request{Cmd: "resume", AuthToken: "s3cr3t", SessionID: "sess-1", Instruction: "keep going"})
	require.True(t, resp.OK)

	select {
	case v := <-done:
		assert.Equal(t, "keep going", v.Payload["instruction"])
	case <-time.After(time.Second):
		t.Fatal("wait was not resolved")
	}
}

func TestServer_Mode(t *testing.T) {
	srv, st, orch, _ := newTestServer(t)
	ctx := context.Background()
	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	resp := roundTrip(t, srv.Path(), request{Cmd: "mode", AuthToken: "s3cr3t", SessionID: sess.ID, Mode: "local"})
	require.True(t, resp.OK)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeLocal, got.Mode)
}

func TestServer_SteerAndTask(t *testing.T) {
	srv, st, orch, _ := newTestServer(t)
	ctx := context.Background()
	root := t.TempDir()
	sess, err := orch.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	resp := roundTrip(t, srv.Path(), request{Cmd: "steer", AuthToken: "s3cr3t", SessionID: sess.ID, Message: "slow down"})
	require.True(t, resp.OK)

	steering, err := st.ListUnconsumedSteeringForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, steering, 1)
	assert.Equal(t, "slow down", steering[0].Message)

	resp = roundTrip(t, srv.Path(), request{Cmd: "task", AuthToken: "s3cr3t", Channel: "C123", Message: "do the thing"})
	require.True(t, resp.OK)

	tasks, err := st.ListUnconsumedTaskInboxForChannel(ctx, "C123")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "do the thing", tasks[0].Message)
}

func TestSocketPath_DeterministicPerWorkspace(t *testing.T) {
	dir := t.TempDir()
	a, err := SocketPath(dir, "/workspace/one")
	require.NoError(t, err)
	b, err := SocketPath(dir, "/workspace/one")
	require.NoError(t, err)
	c, err := SocketPath(dir, "/workspace/two")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, filepath.Base(a), filepath.Base(c))
}
