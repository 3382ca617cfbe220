// Package stall implements the per-session inactivity watchdog (spec
// §4.3): a background timer that escalates through nudge and
// escalation thresholds unless activity resets it, publishing
// StallEvents for the session orchestrator and chat adapter to act on.
package stall

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind classifies a StallEvent.
type EventKind string

const (
	EventStalled      EventKind = "stalled"       // inactivity threshold crossed, alert opened
	EventAutoNudge    EventKind = "auto_nudge"     // still idle past an escalation_threshold tick
	EventEscalated    EventKind = "escalated"      // max_retries nudges exhausted without activity
	EventReset        EventKind = "reset"          // activity observed with no alert open, timers restarted
	EventSelfRecovered EventKind = "self_recovered" // activity observed while an alert was open
	EventDismissed    EventKind = "dismissed"      // an open alert was dismissed without waiting for activity
)

// Event is published on a Detector's channel whenever its state changes.
// Attempt is only meaningful on EventAutoNudge: the 1-indexed nudge count
// within the current stall episode.
type Event struct {
	SessionID string
	Kind      EventKind
	IdleFor   time.Duration
	Attempt   int
}

// Detector watches a single session for inactivity. It is safe to Reset
// from any goroutine — the "latest ping wins" semantics are implemented
// with an atomic generation counter so a reset racing a firing timer
// never produces a stale nudge after a fresher activity signal.
type Detector struct {
	sessionID  string
	inactivity time.Duration
	escalation time.Duration
	maxRetries int
	events     chan Event
	generation atomic.Uint64
	paused     atomic.Bool
	cancelled  atomic.Bool
	alertOpen  atomic.Bool
	mu         sync.Mutex
	lastTool   string
}

// New constructs a Detector for sessionID with the given thresholds.
// maxRetries is the number of AutoNudge events emitted before Escalated
// fires; a non-positive value is treated as 1. The returned Detector is
// inert until Start is called.
func New(sessionID string, inactivity, escalation time.Duration, maxRetries int, events chan Event) *Detector {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Detector{
		sessionID:  sessionID,
		inactivity: inactivity,
		escalation: escalation,
		maxRetries: maxRetries,
		events:     events,
	}
}

// Start begins the watchdog loop in the current goroutine's caller's
// background: call it with `go`. It returns once Cancel is called or
// ctx is done.
func (d *Detector) Start(ctx context.Context) {
	gen := d.generation.Load()
	d.runGeneration(ctx, gen)
}

func (d *Detector) runGeneration(ctx context.Context, gen uint64) {
	if !d.waitPaused(ctx, gen) {
		return
	}
	if !d.sleep(ctx, d.inactivity) {
		return
	}
	if !d.waitPaused(ctx, gen) {
		return
	}
	if d.generation.Load() != gen || d.cancelled.Load() {
		return // a Reset (or Cancel) happened during the wait; this goroutine is stale
	}
	d.alertOpen.Store(true)
	d.publish(Event{SessionID: d.sessionID, Kind: EventStalled, IdleFor: d.inactivity})

	idle := d.inactivity
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if !d.sleep(ctx, d.escalation) {
			return
		}
		if !d.waitPaused(ctx, gen) {
			return
		}
		if d.generation.Load() != gen || d.cancelled.Load() {
			return
		}
		idle += d.escalation
		d.publish(Event{SessionID: d.sessionID, Kind: EventAutoNudge, IdleFor: idle, Attempt: attempt})
	}

	if d.generation.Load() != gen || d.cancelled.Load() {
		return
	}
	d.publish(Event{SessionID: d.sessionID, Kind: EventEscalated, IdleFor: idle})
	// hold at escalated state until a reset restarts the generation;
	// the goroutine parks here rather than busy-looping escalations.
	for d.generation.Load() == gen && !d.cancelled.Load() && ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// waitPaused spins while paused, returning false once cancellation or a
// fresher generation makes the caller's wait moot.
func (d *Detector) waitPaused(ctx context.Context, gen uint64) bool {
	for d.paused.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
		if d.cancelled.Load() || d.generation.Load() != gen {
			return false
		}
	}
	return true
}

func (d *Detector) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Reset records activity (optionally naming the tool that produced it)
// and restarts the detector's timers from zero, superseding any
// in-flight nudge/escalation wait. It is "latest ping wins": if two
// resets race, only the last one's generation survives to fire further
// events, and a stray already-fired timer from a stale generation is a
// no-op. If a stall alert was open, this is a self-recovery: SelfRecovered
// is published instead of the routine Reset.
func (d *Detector) Reset(ctx context.Context, tool string) {
	d.mu.Lock()
	d.lastTool = tool
	d.mu.Unlock()

	d.paused.Store(false)
	gen := d.generation.Add(1)
	if d.alertOpen.Swap(false) {
		d.publish(Event{SessionID: d.sessionID, Kind: EventSelfRecovered})
	} else {
		d.publish(Event{SessionID: d.sessionID, Kind: EventReset})
	}
	go d.runGeneration(ctx, gen)
}

// Dismiss closes an open alert without treating it as activity-driven
// recovery — an operator explicitly acknowledging a stall notification —
// and restarts the watchdog from zero.
func (d *Detector) Dismiss(ctx context.Context) {
	d.paused.Store(false)
	gen := d.generation.Add(1)
	if d.alertOpen.Swap(false) {
		d.publish(Event{SessionID: d.sessionID, Kind: EventDismissed})
	}
	go d.runGeneration(ctx, gen)
}

// Pause suspends nudge/escalation firing (used while a blocking tool
// call is already awaiting an operator, where "inactivity" is expected).
func (d *Detector) Pause() { d.paused.Store(true) }

// Resume un-suspends firing without resetting the elapsed idle time.
func (d *Detector) Resume() { d.paused.Store(false) }

// Cancel stops the detector permanently; it must not be reused after
// this call.
func (d *Detector) Cancel() {
	d.cancelled.Store(true)
	d.generation.Add(1)
}

// LastTool returns the most recent tool name observed by Reset, if any.
func (d *Detector) LastTool() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTool
}

func (d *Detector) publish(e Event) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- e:
	default:
		// a slow consumer must not stall the watchdog; events are
		// best-effort signals, the store remains the source of truth.
	}
}
