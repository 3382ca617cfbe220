package store

import (
	"context"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"go.uber.org/zap"
)

// RecoverOnStartup runs once at process start: every session left in
// active or paused state by an unclean shutdown is marked interrupted,
// its pending approvals are marked interrupted, and its undecided
// continuation prompts are resolved with decision stop. A pending
// wait_for_instruction standby has no third kind of DB record to mark:
// it is tracked only in the coordinator's in-memory registry, which
// starts empty on every process start, and is already resolved with an
// interrupted result at shutdown (see interruptPending in cmd/handoffd).
// Created sessions (never reached active) are left as-is for the
// orchestrator to resume or discard.
func (s *Store) RecoverOnStartup(ctx context.Context) (interrupted int, err error) {
	ctx = ctxOrBackground(ctx)
	sessions, err := s.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	for _, sess := range sessions {
		if sess.Status != model.SessionActive && sess.Status != model.SessionPaused {
			continue
		}
		if err := s.UpdateSessionStatus(ctx, sess.ID, model.SessionInterrupted); err != nil {
			return interrupted, apperr.Wrap(apperr.Db, "mark session interrupted during recovery", err)
		}
		if err := s.InterruptPendingApprovalsForSession(ctx, sess.ID); err != nil {
			return interrupted, err
		}
		if err := s.InterruptPendingContinuationPromptsForSession(ctx, sess.ID); err != nil {
			return interrupted, err
		}
		interrupted++
		s.log.Info("session marked interrupted during startup recovery", zap.String("session_id", sess.ID))
	}
	return interrupted, nil
}
