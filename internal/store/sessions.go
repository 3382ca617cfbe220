package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateSession inserts a new session, assigning an ID and timestamps if
// unset.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	ctx = ctxOrBackground(ctx)
	if !sess.Status.Valid() {
		return apperr.New(apperr.Tool, "invalid session status: "+string(sess.Status))
	}
	if !sess.Mode.Valid() {
		return apperr.New(apperr.Tool, "invalid session mode: "+string(sess.Mode))
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = nowUTC()
	}
	sess.UpdatedAt = sess.CreatedAt

	progress, err := marshalProgress(sess.ProgressSnapshot)
	if err != nil {
		return err
	}

	_, err = s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO sessions (id, owner_user_id, workspace_root, status, prompt, mode, last_tool, nudge_count, stall_paused, progress_snapshot, created_at, updated_at, terminated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.OwnerUserID, sess.WorkspaceRoot, sess.Status, sess.Prompt, sess.Mode, sess.LastTool,
		sess.NudgeCount, boolToInt(sess.StallPaused), progress, sess.CreatedAt, sess.UpdatedAt, sess.TerminatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert session", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, owner_user_id, workspace_root, status, prompt, mode, last_tool, nudge_count, stall_paused, progress_snapshot, created_at, updated_at, terminated_at
		FROM sessions WHERE id = ?
	`), id)
	return scanSession(row)
}

// ListActiveSessions returns sessions in created/active/paused state,
// used by startup recovery and the IPC list command (the concurrency cap
// is checked with CountSessionsForOwner).
func (s *Store) ListActiveSessions(ctx context.Context) ([]*model.Session, error) {
	ctx = ctxOrBackground(ctx)
	rows, err := s.pool.Reader().QueryxContext(ctx, `
		SELECT id, owner_user_id, workspace_root, status, prompt, mode, last_tool, nudge_count, stall_paused, progress_snapshot, created_at, updated_at, terminated_at
		FROM sessions WHERE status IN ('created', 'active', 'paused')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list active sessions", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Db, "iterate active sessions", err)
	}
	return out, nil
}

// UpdateSessionStatus transitions a session's status and touches updated_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	ctx = ctxOrBackground(ctx)
	if !status.Valid() {
		return apperr.New(apperr.Tool, "invalid session status: "+string(status))
	}
	var terminatedAt interface{}
	if status == model.SessionTerminated {
		terminatedAt = nowUTC()
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET status = ?, updated_at = ?, terminated_at = COALESCE(terminated_at, ?)
		WHERE id = ?
	`), status, nowUTC(), terminatedAt, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update session status", err)
	}
	return mustAffect(res, id)
}

// UpdateSessionActivity records the most recent tool invocation and
// resets the stall-paused flag, called from every tool handler.
func (s *Store) UpdateSessionActivity(ctx context.Context, id, tool string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET last_tool = ?, stall_paused = 0, updated_at = ? WHERE id = ?
	`), tool, nowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update session activity", err)
	}
	return mustAffect(res, id)
}

// UpdateSessionMode switches which surface (chat, IPC, or both) a
// session is reachable through.
func (s *Store) UpdateSessionMode(ctx context.Context, id string, mode model.OperationalMode) error {
	ctx = ctxOrBackground(ctx)
	if !mode.Valid() {
		return apperr.New(apperr.Tool, "invalid session mode: "+string(mode))
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET mode = ?, updated_at = ? WHERE id = ?
	`), mode, nowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update session mode", err)
	}
	return mustAffect(res, id)
}

// SetSessionStallPaused marks a session paused by the stall detector.
func (s *Store) SetSessionStallPaused(ctx context.Context, id string, paused bool) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET stall_paused = ?, updated_at = ? WHERE id = ?
	`), boolToInt(paused), nowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update session stall flag", err)
	}
	return mustAffect(res, id)
}

// IncrementNudgeCount bumps a session's nudge counter by one and returns
// the new value.
func (s *Store) IncrementNudgeCount(ctx context.Context, id string) (int, error) {
	ctx = ctxOrBackground(ctx)
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET nudge_count = nudge_count + 1, updated_at = ? WHERE id = ?
	`), nowUTC(), id)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "increment nudge count", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return 0, err
	}
	return sess.NudgeCount, nil
}

// UpdateSessionProgress overwrites a session's progress snapshot.
func (s *Store) UpdateSessionProgress(ctx context.Context, id string, steps []model.ProgressStep) error {
	ctx = ctxOrBackground(ctx)
	progress, err := marshalProgress(steps)
	if err != nil {
		return err
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE sessions SET progress_snapshot = ?, updated_at = ? WHERE id = ?
	`), progress, nowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update session progress", err)
	}
	return mustAffect(res, id)
}

// GetMostRecentActiveSessionForOwner returns ownerUserID's most
// recently updated active-or-paused session, used to resolve "my
// current session" when a caller omits session_id.
func (s *Store) GetMostRecentActiveSessionForOwner(ctx context.Context, ownerUserID string) (*model.Session, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, owner_user_id, workspace_root, status, prompt, mode, last_tool, nudge_count, stall_paused, progress_snapshot, created_at, updated_at, terminated_at
		FROM sessions WHERE owner_user_id = ? AND status IN ('active', 'paused')
		ORDER BY updated_at DESC LIMIT 1
	`), ownerUserID)
	sess, err := scanSession(row)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.New(apperr.NotFound, "no active session for owner "+ownerUserID)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CountSessionsForOwner returns the number of non-terminal sessions
// owned by ownerUserID, used to enforce the per-owner concurrency cap.
func (s *Store) CountSessionsForOwner(ctx context.Context, ownerUserID string) (int, error) {
	ctx = ctxOrBackground(ctx)
	var n int
	err := s.pool.Reader().GetContext(ctx, &n, s.pool.Reader().Rebind(`
		SELECT COUNT(*) FROM sessions WHERE owner_user_id = ? AND status IN ('created', 'active', 'paused')
	`), ownerUserID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "count sessions for owner", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "no record with id "+id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionInto(scanner rowScanner, sess *model.Session) error {
	var progress string
	err := scanner.Scan(&sess.ID, &sess.OwnerUserID, &sess.WorkspaceRoot, &sess.Status, &sess.Prompt, &sess.Mode,
		&sess.LastTool, &sess.NudgeCount, &sess.StallPaused, &progress, &sess.CreatedAt, &sess.UpdatedAt, &sess.TerminatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.Db, "scan session", err)
	}
	steps, err := unmarshalProgress(progress)
	if err != nil {
		return err
	}
	sess.ProgressSnapshot = steps
	return nil
}

func scanSession(scanner rowScanner) (*model.Session, error) {
	sess := &model.Session{}
	if err := scanSessionInto(scanner, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func scanSessionRows(rows rowScanner) (*model.Session, error) {
	return scanSession(rows)
}
