package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveBeforeWait(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))
	require.NoError(t, r.Resolve("a", "hello"))

	got, err := r.Wait(context.Background(), "a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestRegistry_ResolveAfterWaitStarts(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))

	done := make(chan struct{})
	var got string
	var waitErr error
	go func() {
		got, waitErr = r.Wait(context.Background(), "a", time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Resolve("a", "world"))
	<-done

	require.NoError(t, waitErr)
	assert.Equal(t, "world", got)
}

func TestRegistry_ExactlyOneResolutionWins(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))

	require.NoError(t, r.Resolve("a", "first"))
	err := r.Resolve("a", "second")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AlreadyConsumed))
}

func TestRegistry_WaitTimesOut(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))

	_, err := r.Wait(context.Background(), "a", 10*time.Millisecond)
	require.Error(t, err)

	// a late resolve after timeout observes the entry is already gone
	err = r.Resolve("a", "too late")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRegistry_DoubleRegisterRejected(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))
	err := r.Register("a")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AlreadyConsumed))
}

func TestRegistry_CancelRemovesWaiter(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("a"))
	r.Cancel("a")

	err := r.Resolve("a", "x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}
