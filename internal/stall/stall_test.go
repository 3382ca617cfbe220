package stall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_FiresStalledThenNudgeThenEscalated(t *testing.T) {
	events := make(chan Event, 10)
	d := New("sess-1", 20*time.Millisecond, 20*time.Millisecond, 1, events)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go d.Start(ctx)

	var kinds []EventKind
	deadline := time.After(400 * time.Millisecond)
loop:
	for len(kinds) < 3 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		case <-deadline:
			break loop
		}
	}

	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, EventStalled, kinds[0])
	assert.Equal(t, EventAutoNudge, kinds[1])
	assert.Equal(t, EventEscalated, kinds[2])
	d.Cancel()
}

func TestDetector_ResetSupersedesInFlightTimer(t *testing.T) {
	events := make(chan Event, 10)
	d := New("sess-2", 30*time.Millisecond, 200*time.Millisecond, 3, events)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go d.Start(ctx)

	time.Sleep(15 * time.Millisecond)
	d.Reset(ctx, "ask_approval")

	// drain the reset event
	e := <-events
	assert.Equal(t, EventReset, e.Kind)

	d.Cancel()
}

func TestDetector_SelfRecoversAfterAlertOpen(t *testing.T) {
	events := make(chan Event, 10)
	d := New("sess-4", 15*time.Millisecond, 200*time.Millisecond, 3, events)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go d.Start(ctx)

	e := <-events
	require.Equal(t, EventStalled, e.Kind)

	d.Reset(ctx, "ask_approval")
	e = <-events
	assert.Equal(t, EventSelfRecovered, e.Kind)

	d.Cancel()
}

func TestDetector_PauseSuppressesNudge(t *testing.T) {
	events := make(chan Event, 10)
	d := New("sess-3", 15*time.Millisecond, 15*time.Millisecond, 3, events)
	d.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go d.Start(ctx)

	select {
	case e := <-events:
		t.Fatalf("unexpected event while paused: %+v", e)
	case <-time.After(60 * time.Millisecond):
	}
	d.Cancel()
}
