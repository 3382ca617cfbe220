package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateSteeringMessage inserts an operator-initiated instruction for an
// active session.
func (s *Store) CreateSteeringMessage(ctx context.Context, sm *model.SteeringMessage) error {
	ctx = ctxOrBackground(ctx)
	if !sm.Source.Valid() {
		return apperr.New(apperr.Tool, "invalid steering source: "+string(sm.Source))
	}
	if sm.ID == "" {
		sm.ID = uuid.New().String()
	}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = nowUTC()
	}
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO steering_messages (id, session_id, channel, message, source, created_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), sm.ID, sm.SessionID, sm.Channel, sm.Message, sm.Source, sm.CreatedAt, boolToInt(sm.Consumed))
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert steering message", err)
	}
	return nil
}

// ListUnconsumedSteeringForSession returns steering messages not yet
// delivered to an agent, in arrival order.
func (s *Store) ListUnconsumedSteeringForSession(ctx context.Context, sessionID string) ([]*model.SteeringMessage, error) {
	ctx = ctxOrBackground(ctx)
	var out []*model.SteeringMessage
	err := s.pool.Reader().SelectContext(ctx, &out, s.pool.Reader().Rebind(`
		SELECT id, session_id, channel, message, source, created_at, consumed
		FROM steering_messages WHERE session_id = ? AND consumed = 0
		ORDER BY created_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list unconsumed steering messages", err)
	}
	return out, nil
}

// MarkSteeringConsumed flags a steering message as delivered.
func (s *Store) MarkSteeringConsumed(ctx context.Context, id string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE steering_messages SET consumed = 1 WHERE id = ?
	`), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "mark steering consumed", err)
	}
	return mustAffect(res, id)
}

// PurgeConsumedSteeringOlderThan deletes consumed steering messages past
// the retention window. Unconsumed messages are never purged (Open
// Question disposition: they survive a restart and redeliver once the
// bound session resumes).
func (s *Store) PurgeConsumedSteeringOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ctx = ctxOrBackground(ctx)
	cutoff := nowUTC().Add(-age)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		DELETE FROM steering_messages WHERE consumed = 1 AND created_at < ?
	`), cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "purge consumed steering messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	return n, nil
}
