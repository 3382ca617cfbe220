package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateStallAlert inserts a new stall-watchdog record.
func (s *Store) CreateStallAlert(ctx context.Context, sa *model.StallAlert) error {
	ctx = ctxOrBackground(ctx)
	if !sa.Status.Valid() {
		return apperr.New(apperr.Tool, "invalid stall alert status: "+string(sa.Status))
	}
	if sa.ID == "" {
		sa.ID = uuid.New().String()
	}
	if sa.CreatedAt.IsZero() {
		sa.CreatedAt = nowUTC()
	}
	progress, err := marshalProgress(sa.ProgressSnapshot)
	if err != nil {
		return err
	}
	_, err = s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO stall_alerts (id, session_id, last_tool, last_activity_at, idle_seconds, nudge_count, status, nudge_message, progress_snapshot, chat_message_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), sa.ID, sa.SessionID, sa.LastTool, sa.LastActivityAt, sa.IdleSeconds, sa.NudgeCount, sa.Status,
		sa.NudgeMessage, progress, sa.ChatMessageRef, sa.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert stall alert", err)
	}
	return nil
}

// SetStallAlertChatMessageRef attaches the chat message reference once
// the stall card has been posted, so later edits (nudge updates,
// block-replace on resolution) can target it.
func (s *Store) SetStallAlertChatMessageRef(ctx context.Context, id, ref string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE stall_alerts SET chat_message_ref = ? WHERE id = ?
	`), ref, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "set stall alert chat message ref", err)
	}
	return mustAffect(res, id)
}

// GetOpenStallAlertForSession returns the session's single non-terminal
// stall alert (pending, nudged, or escalated), or nil if none is open.
func (s *Store) GetOpenStallAlertForSession(ctx context.Context, sessionID string) (*model.StallAlert, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, session_id, last_tool, last_activity_at, idle_seconds, nudge_count, status, nudge_message, progress_snapshot, chat_message_ref, created_at
		FROM stall_alerts WHERE session_id = ? AND status IN ('pending', 'nudged', 'escalated')
		ORDER BY created_at DESC LIMIT 1
	`), sessionID)
	sa := &model.StallAlert{}
	var progress string
	err := row.Scan(&sa.ID, &sa.SessionID, &sa.LastTool, &sa.LastActivityAt, &sa.IdleSeconds, &sa.NudgeCount,
		&sa.Status, &sa.NudgeMessage, &progress, &sa.ChatMessageRef, &sa.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "get open stall alert", err)
	}
	steps, err := unmarshalProgress(progress)
	if err != nil {
		return nil, err
	}
	sa.ProgressSnapshot = steps
	return sa, nil
}

// UpdateStallAlertIdle records the latest idle duration and nudge count
// on an in-progress alert, used on each AutoNudge tick.
func (s *Store) UpdateStallAlertIdle(ctx context.Context, id string, idleSeconds, nudgeCount int) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE stall_alerts SET idle_seconds = ?, nudge_count = ?, status = 'nudged' WHERE id = ?
	`), idleSeconds, nudgeCount, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update stall alert idle", err)
	}
	return mustAffect(res, id)
}

// UpdateStallAlertStatus transitions a stall alert's status.
func (s *Store) UpdateStallAlertStatus(ctx context.Context, id string, status model.StallAlertStatus) error {
	ctx = ctxOrBackground(ctx)
	if !status.Valid() {
		return apperr.New(apperr.Tool, "invalid stall alert status: "+string(status))
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE stall_alerts SET status = ? WHERE id = ?
	`), status, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update stall alert status", err)
	}
	return mustAffect(res, id)
}

// GetStallAlert fetches a stall alert by ID.
func (s *Store) GetStallAlert(ctx context.Context, id string) (*model.StallAlert, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, session_id, last_tool, last_activity_at, idle_seconds, nudge_count, status, nudge_message, progress_snapshot, chat_message_ref, created_at
		FROM stall_alerts WHERE id = ?
	`), id)
	sa := &model.StallAlert{}
	var progress string
	err := row.Scan(&sa.ID, &sa.SessionID, &sa.LastTool, &sa.LastActivityAt, &sa.IdleSeconds, &sa.NudgeCount,
		&sa.Status, &sa.NudgeMessage, &progress, &sa.ChatMessageRef, &sa.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "stall alert not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "scan stall alert", err)
	}
	steps, err := unmarshalProgress(progress)
	if err != nil {
		return nil, err
	}
	sa.ProgressSnapshot = steps
	return sa, nil
}
