package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
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

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := make(chan stall.Event, 32)
	o := New(st, noopExecutor{}, Config{
		MaxSessionsPerOwner: 1,
		StallInactivity:     time.Hour,
		StallEscalation:     time.Hour,
		TerminationGrace:    time.Second,
	}, events, obslog.Default())
	return o, st
}

func TestCreateSession_EnforcesOwnerCap(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.CreateSession(ctx, "U1", "/tmp/ws", model.ModeRemote, nil)
	require.NoError(t, err)

	_, err = o.CreateSession(ctx, "U1", "/tmp/ws2", model.ModeRemote, nil)
	require.Error(t, err)
}

func TestResolveSession_PrefersExplicitID(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "U1", "/tmp/ws", model.ModeRemote, nil)
	require.NoError(t, err)

	got, err := o.ResolveSession(ctx, "someone-else", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestResolveSession_FallsBackToMostRecentOwnedSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "U1", "/tmp/ws", model.ModeRemote, nil)
	require.NoError(t, err)

	got, err := o.ResolveSession(ctx, "U1", "")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestResolveSession_ErrorsWithoutIDOrOwner(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.ResolveSession(ctx, "", "")
	require.Error(t, err)
}

func TestTerminate_MarksTerminatedAndRemovesLive(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "U1", "/tmp/ws", model.ModeRemote, nil)
	require.NoError(t, err)
	assert.True(t, o.IsLive(sess.ID))

	require.NoError(t, o.Terminate(ctx, sess.ID))
	assert.False(t, o.IsLive(sess.ID))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionTerminated, got.Status)
}

func TestCheckpointAndRestore_ClassifiesDivergence(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root+"/unchanged.txt", "same")
	writeFile(t, root+"/modified.txt", "before")
	writeFile(t, root+"/deleted.txt", "will be removed")

	sess, err := o.CreateSession(ctx, "U1", root, model.ModeRemote, nil)
	require.NoError(t, err)

	_, err = o.Checkpoint(ctx, sess.ID, "cp1", `{}`, []string{"unchanged.txt", "modified.txt", "deleted.txt"}, nil)
	require.NoError(t, err)

	writeFile(t, root+"/modified.txt", "after")
	removeFile(t, root+"/deleted.txt")
	writeFile(t, root+"/added.txt", "new")

	_, divergences, err := o.Restore(ctx, sess.ID)
	require.NoError(t, err)

	byPath := map[string]model.DivergenceKind{}
	for _, d := range divergences {
		byPath[d.Path] = d.Kind
	}
	assert.Equal(t, model.DivergenceUnchanged, byPath["unchanged.txt"])
	assert.Equal(t, model.DivergenceModified, byPath["modified.txt"])
	assert.Equal(t, model.DivergenceDeleted, byPath["deleted.txt"])
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func removeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.Remove(path))
}
