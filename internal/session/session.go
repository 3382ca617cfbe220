// Package session implements the session orchestrator (spec §4.4, §5):
// session lifecycle transitions, owner-scoped concurrency limits,
// checkpoint/restore with file-hash divergence classification, and
// two-phase termination with a grace period. Grounded on the teacher's
// internal/agent/lifecycle manager_lifecycle.go/process_runner.go
// (health-check-then-recover startup shape, Start/Stop delegation to a
// pluggable executor), generalized from the teacher's multi-backend
// executor abstraction down to this broker's single process/optional
// docker executor.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/diffengine"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/stall"
	"github.com/handoffhq/handoff/internal/store"
	"go.uber.org/zap"
)

// Executor starts and stops the actual agent host process for a
// session. The default implementation runs a local child process; an
// optional Docker-backed implementation is available for containerized
// agent runtimes (grounded on the teacher's executor_docker.go idiom).
type Executor interface {
	StartAgent(ctx context.Context, sess *model.Session) error
	StopAgent(ctx context.Context, sess *model.Session, grace time.Duration) error
}

// Orchestrator owns the in-memory view of every live session: its
// Executor handle, stall Detector, and owner binding, backed by the
// durable Store for everything that must survive a restart.
type Orchestrator struct {
	mu            sync.RWMutex
	live          map[string]*liveSession
	store         *store.Store
	executor      Executor
	maxPerOwner   int
	stallEvents   chan stall.Event
	stallInactivity time.Duration
	stallEscalation time.Duration
	stallMaxRetries int
	terminationGrace time.Duration
	log           *obslog.Logger
}

type liveSession struct {
	sess     *model.Session
	detector *stall.Detector
	cancel   context.CancelFunc
}

// Config tunes the orchestrator's limits and timings.
type Config struct {
	MaxSessionsPerOwner int
	StallInactivity     time.Duration
	StallEscalation     time.Duration
	StallMaxRetries     int
	TerminationGrace    time.Duration
}

// New constructs an Orchestrator. stallEvents is shared with the chat
// adapter/tool handler so nudges and escalations reach the operator.
func New(st *store.Store, executor Executor, cfg Config, stallEvents chan stall.Event, log *obslog.Logger) *Orchestrator {
	maxPerOwner := cfg.MaxSessionsPerOwner
	if maxPerOwner <= 0 {
		maxPerOwner = 1
	}
	return &Orchestrator{
		live:             make(map[string]*liveSession),
		store:            st,
		executor:         executor,
		maxPerOwner:      maxPerOwner,
		stallEvents:      stallEvents,
		stallInactivity:  cfg.StallInactivity,
		stallEscalation:  cfg.StallEscalation,
		stallMaxRetries:  cfg.StallMaxRetries,
		terminationGrace: cfg.TerminationGrace,
		log:              log,
	}
}

// CreateSession starts a brand-new session for ownerUserID bound to
// workspaceRoot, enforcing the per-owner concurrency cap.
func (o *Orchestrator) CreateSession(ctx context.Context, ownerUserID, workspaceRoot string, mode model.OperationalMode, prompt *string) (*model.Session, error) {
	count, err := o.store.CountSessionsForOwner(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	if count >= o.maxPerOwner {
		return nil, apperr.New(apperr.Tool, fmt.Sprintf("owner %s already has %d active session(s), limit is %d", ownerUserID, count, o.maxPerOwner))
	}

	sess := &model.Session{
		OwnerUserID:   ownerUserID,
		WorkspaceRoot: workspaceRoot,
		Status:        model.SessionCreated,
		Mode:          mode,
		Prompt:        prompt,
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if err := o.activate(ctx, sess); err != nil {
		_ = o.store.UpdateSessionStatus(ctx, sess.ID, model.SessionTerminated)
		return nil, err
	}
	return sess, nil
}

// CreateSessionForChannel is CreateSession plus a one-time drain of any
// task-inbox items queued for channel, folded into the new session's
// prompt. This is a secondary delivery point for callers (the IPC task
// command path) that need the queue consumed before any session exists
// to call recover_state against; recover_state itself surfaces the same
// channel's unconsumed items to a session that already exists.
func (o *Orchestrator) CreateSessionForChannel(ctx context.Context, ownerUserID, workspaceRoot, channel string, mode model.OperationalMode, prompt *string) (*model.Session, error) {
	items, err := o.store.ListUnconsumedTaskInboxForChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	combined := prompt
	if len(items) > 0 {
		text := ""
		if prompt != nil {
			text = *prompt + "\n\n"
		}
		text += "Queued tasks:\n"
		for _, item := range items {
			text += "- " + item.Message + "\n"
		}
		combined = &text
	}

	sess, err := o.CreateSession(ctx, ownerUserID, workspaceRoot, mode, combined)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := o.store.MarkTaskInboxConsumed(ctx, item.ID); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// activate starts the executor and stall detector for sess and
// transitions it to active, registering it as live.
func (o *Orchestrator) activate(ctx context.Context, sess *model.Session) error {
	if o.executor != nil {
		if err := o.executor.StartAgent(ctx, sess); err != nil {
			return apperr.Wrap(apperr.Tool, "start agent executor", err)
		}
	}
	if err := o.store.UpdateSessionStatus(ctx, sess.ID, model.SessionActive); err != nil {
		return err
	}
	sess.Status = model.SessionActive

	detCtx, cancel := context.WithCancel(context.Background())
	det := stall.New(sess.ID, o.stallInactivity, o.stallEscalation, o.stallMaxRetries, o.stallEvents)
	go det.Start(detCtx)

	o.mu.Lock()
	o.live[sess.ID] = &liveSession{sess: sess, detector: det, cancel: cancel}
	o.mu.Unlock()
	return nil
}

// RecordActivity resets the stall detector and updates last-tool/activity
// state; called by the tool handler on every invocation.
func (o *Orchestrator) RecordActivity(ctx context.Context, sessionID, tool string) error {
	o.mu.RLock()
	ls, ok := o.live[sessionID]
	o.mu.RUnlock()
	if ok {
		ls.detector.Reset(context.Background(), tool)
	}
	return o.store.UpdateSessionActivity(ctx, sessionID, tool)
}

// DismissStall closes a session's open stall alert without treating it
// as activity-driven recovery, called from the chat card's dismiss
// action.
func (o *Orchestrator) DismissStall(ctx context.Context, sessionID string) {
	o.mu.RLock()
	ls, ok := o.live[sessionID]
	o.mu.RUnlock()
	if ok {
		ls.detector.Dismiss(context.Background())
	}
}

// Pause transitions an active session to paused (e.g. awaiting a
// blocking tool response) without tearing down its executor.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	o.mu.RLock()
	ls, ok := o.live[sessionID]
	o.mu.RUnlock()
	if ok {
		ls.detector.Pause()
	}
	return o.store.UpdateSessionStatus(ctx, sessionID, model.SessionPaused)
}

// Resume transitions a paused session back to active.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) error {
	o.mu.RLock()
	ls, ok := o.live[sessionID]
	o.mu.RUnlock()
	if ok {
		ls.detector.Resume()
	}
	return o.store.UpdateSessionStatus(ctx, sessionID, model.SessionActive)
}

// Terminate performs two-phase shutdown: it cancels the stall detector,
// asks the executor to stop gracefully (allowing terminationGrace for the
// agent process to exit cleanly), then marks the session terminated
// regardless of whether the graceful stop succeeded in time.
func (o *Orchestrator) Terminate(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	ls, ok := o.live[sessionID]
	delete(o.live, sessionID)
	o.mu.Unlock()

	if ok {
		ls.detector.Cancel()
		ls.cancel()
		if o.executor != nil {
			if err := o.executor.StopAgent(ctx, ls.sess, o.terminationGrace); err != nil {
				o.log.Warn("agent executor did not stop cleanly within grace period",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}

	return o.store.UpdateSessionStatus(ctx, sessionID, model.SessionTerminated)
}

// ResolveSession implements resolve_session(owner, id?): if sessionID is
// non-empty it is fetched directly, otherwise the most-recently-updated
// active-or-paused session owned by ownerUserID is returned. Used by
// tool calls that identify themselves by owner rather than by a
// specific session ID.
func (o *Orchestrator) ResolveSession(ctx context.Context, ownerUserID, sessionID string) (*model.Session, error) {
	if sessionID != "" {
		return o.store.GetSession(ctx, sessionID)
	}
	if ownerUserID == "" {
		return nil, apperr.New(apperr.Tool, "session_id or owner_user_id is required")
	}
	return o.store.GetMostRecentActiveSessionForOwner(ctx, ownerUserID)
}

// IsLive reports whether sessionID has an active in-memory registration
// (as opposed to only existing in the durable store, e.g. after a
// restart before recovery reattaches it).
func (o *Orchestrator) IsLive(sessionID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.live[sessionID]
	return ok
}

// Checkpoint persists a restore point: the caller-supplied opaque
// session state plus a hash of every file currently in the workspace
// tree the caller names.
func (o *Orchestrator) Checkpoint(ctx context.Context, sessionID, label, sessionState string, files []string, progress []model.ProgressStep) (*model.Checkpoint, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(files))
	for _, rel := range files {
		h, err := diffengine.HashFile(filepath.Join(sess.WorkspaceRoot, rel))
		if err != nil {
			return nil, err
		}
		hashes[rel] = h
	}

	cp := &model.Checkpoint{
		SessionID:        sessionID,
		SessionState:     sessionState,
		FileHashes:       hashes,
		WorkspaceRoot:    sess.WorkspaceRoot,
		ProgressSnapshot: progress,
	}
	if label != "" {
		cp.Label = &label
	}
	if err := o.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Restore fetches the latest checkpoint for sessionID and classifies
// every recorded file's current state relative to it (spec §4.4's
// divergence classification: unchanged/modified/deleted/added).
func (o *Orchestrator) Restore(ctx context.Context, sessionID string) (*model.Checkpoint, []model.Divergence, error) {
	cp, err := o.store.LatestCheckpointForSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var divergences []model.Divergence
	for rel, originalHash := range cp.FileHashes {
		currentHash, err := diffengine.HashFile(filepath.Join(cp.WorkspaceRoot, rel))
		if err != nil {
			return nil, nil, err
		}
		kind := classify(originalHash, currentHash)
		divergences = append(divergences, model.Divergence{Path: rel, Kind: kind})
	}
	return cp, divergences, nil
}

func classify(originalHash, currentHash string) model.DivergenceKind {
	switch {
	case originalHash != "" && currentHash == "":
		return model.DivergenceDeleted
	case originalHash == "" && currentHash != "":
		return model.DivergenceAdded
	case originalHash == currentHash:
		return model.DivergenceUnchanged
	default:
		return model.DivergenceModified
	}
}
