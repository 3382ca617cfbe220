package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateTaskInboxItem queues channel-scoped work before any session
// exists to receive it (e.g. an operator messages the bot with no
// active session bound to that channel yet).
func (s *Store) CreateTaskInboxItem(ctx context.Context, item *model.TaskInboxItem) error {
	ctx = ctxOrBackground(ctx)
	if !item.Source.Valid() {
		return apperr.New(apperr.Tool, "invalid task inbox source: "+string(item.Source))
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = nowUTC()
	}
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO task_inbox_items (id, channel, message, source, created_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?)
	`), item.ID, item.Channel, item.Message, item.Source, item.CreatedAt, boolToInt(item.Consumed))
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert task inbox item", err)
	}
	return nil
}

// ListUnconsumedTaskInboxForChannel returns queued items for a channel,
// in arrival order, used by recover_state and session creation.
func (s *Store) ListUnconsumedTaskInboxForChannel(ctx context.Context, channel string) ([]*model.TaskInboxItem, error) {
	ctx = ctxOrBackground(ctx)
	var out []*model.TaskInboxItem
	err := s.pool.Reader().SelectContext(ctx, &out, s.pool.Reader().Rebind(`
		SELECT id, channel, message, source, created_at, consumed
		FROM task_inbox_items WHERE channel = ? AND consumed = 0
		ORDER BY created_at ASC
	`), channel)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list unconsumed task inbox items", err)
	}
	return out, nil
}

// MarkTaskInboxConsumed flags an inbox item as drained into a session.
func (s *Store) MarkTaskInboxConsumed(ctx context.Context, id string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE task_inbox_items SET consumed = 1 WHERE id = ?
	`), id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "mark task inbox item consumed", err)
	}
	return mustAffect(res, id)
}

// PurgeTaskInboxOlderThan deletes inbox items (consumed or not) past the
// retention window.
func (s *Store) PurgeTaskInboxOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ctx = ctxOrBackground(ctx)
	cutoff := nowUTC().Add(-age)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		DELETE FROM task_inbox_items WHERE created_at < ?
	`), cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "purge task inbox items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	return n, nil
}
