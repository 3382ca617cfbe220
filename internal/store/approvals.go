package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateApprovalRequest inserts a new pending approval request.
func (s *Store) CreateApprovalRequest(ctx context.Context, ar *model.ApprovalRequest) error {
	ctx = ctxOrBackground(ctx)
	if !ar.RiskLevel.Valid() {
		return apperr.New(apperr.Tool, "invalid risk level: "+string(ar.RiskLevel))
	}
	if !ar.Status.Valid() {
		return apperr.New(apperr.Tool, "invalid approval status: "+string(ar.Status))
	}
	if ar.ID == "" {
		ar.ID = uuid.New().String()
	}
	if ar.CreatedAt.IsZero() {
		ar.CreatedAt = nowUTC()
	}
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO approval_requests (id, session_id, title, description, diff_content, file_path, risk_level, status, original_hash, chat_message_ref, created_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), ar.ID, ar.SessionID, ar.Title, ar.Description, ar.DiffContent, ar.FilePath, ar.RiskLevel, ar.Status,
		ar.OriginalHash, ar.ChatMessageRef, ar.CreatedAt, ar.ConsumedAt)
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert approval request", err)
	}
	return nil
}

// GetApprovalRequest fetches an approval request by ID.
func (s *Store) GetApprovalRequest(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	ctx = ctxOrBackground(ctx)
	ar := &model.ApprovalRequest{}
	err := s.pool.Reader().GetContext(ctx, ar, s.pool.Reader().Rebind(`
		SELECT id, session_id, title, description, diff_content, file_path, risk_level, status, original_hash, chat_message_ref, created_at, consumed_at
		FROM approval_requests WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "approval request not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "get approval request", err)
	}
	return ar, nil
}

// SetApprovalChatMessageRef attaches the chat message reference once the
// approval card has been posted, so later edits (double-submission
// prevention) can target it.
func (s *Store) SetApprovalChatMessageRef(ctx context.Context, id, ref string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE approval_requests SET chat_message_ref = ? WHERE id = ?
	`), ref, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "set approval chat message ref", err)
	}
	return mustAffect(res, id)
}

// ResolveApprovalRequest transitions status from pending to a terminal
// value (approved/rejected/expired/interrupted) and returns
// apperr.AlreadyConsumed if it had already left the pending state —
// the persistence-level half of the coordinator's exactly-once
// resolution invariant.
func (s *Store) ResolveApprovalRequest(ctx context.Context, id string, status model.ApprovalStatus) error {
	ctx = ctxOrBackground(ctx)
	if !status.Valid() {
		return apperr.New(apperr.Tool, "invalid approval status: "+string(status))
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE approval_requests SET status = ? WHERE id = ? AND status = 'pending'
	`), status, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "resolve approval request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.AlreadyConsumed, "approval request already resolved: "+id)
	}
	return nil
}

// MarkApprovalConsumed records that accept_diff has applied an approved
// request's patch.
func (s *Store) MarkApprovalConsumed(ctx context.Context, id string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE approval_requests SET status = 'consumed', consumed_at = ? WHERE id = ? AND status = 'approved'
	`), nowUTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "mark approval consumed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.AlreadyConsumed, "approval request not in approved state: "+id)
	}
	return nil
}

// ListPendingApprovalsForSession returns every pending approval request
// for a session, used by recover_state.
func (s *Store) ListPendingApprovalsForSession(ctx context.Context, sessionID string) ([]*model.ApprovalRequest, error) {
	ctx = ctxOrBackground(ctx)
	var out []*model.ApprovalRequest
	err := s.pool.Reader().SelectContext(ctx, &out, s.pool.Reader().Rebind(`
		SELECT id, session_id, title, description, diff_content, file_path, risk_level, status, original_hash, chat_message_ref, created_at, consumed_at
		FROM approval_requests WHERE session_id = ? AND status = 'pending'
		ORDER BY created_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list pending approvals", err)
	}
	return out, nil
}

// InterruptPendingApprovalsForSession marks every pending approval for a
// session as interrupted, used during startup recovery.
func (s *Store) InterruptPendingApprovalsForSession(ctx context.Context, sessionID string) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE approval_requests SET status = 'interrupted' WHERE session_id = ? AND status = 'pending'
	`), sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Db, "interrupt pending approvals", err)
	}
	return nil
}
