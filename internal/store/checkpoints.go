package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateCheckpoint inserts a new checkpoint snapshot.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	ctx = ctxOrBackground(ctx)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	hashes, err := marshalFileHashes(cp.FileHashes)
	if err != nil {
		return err
	}
	progress, err := marshalProgress(cp.ProgressSnapshot)
	if err != nil {
		return err
	}

	_, err = s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO checkpoints (id, session_id, label, session_state, file_hashes, workspace_root, progress_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), cp.ID, cp.SessionID, cp.Label, cp.SessionState, hashes, cp.WorkspaceRoot, progress, cp.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert checkpoint", err)
	}
	return nil
}

// GetCheckpoint fetches a checkpoint by ID.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, session_id, label, session_state, file_hashes, workspace_root, progress_snapshot, created_at
		FROM checkpoints WHERE id = ?
	`), id)
	return scanCheckpoint(row)
}

// LatestCheckpointForSession returns the most recently created
// checkpoint for a session, used by recover_state's divergence check.
func (s *Store) LatestCheckpointForSession(ctx context.Context, sessionID string) (*model.Checkpoint, error) {
	ctx = ctxOrBackground(ctx)
	row := s.pool.Reader().QueryRowxContext(ctx, s.pool.Reader().Rebind(`
		SELECT id, session_id, label, session_state, file_hashes, workspace_root, progress_snapshot, created_at
		FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC LIMIT 1
	`), sessionID)
	return scanCheckpoint(row)
}

func scanCheckpoint(scanner rowScanner) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}
	var hashes, progress string
	err := scanner.Scan(&cp.ID, &cp.SessionID, &cp.Label, &cp.SessionState, &hashes, &cp.WorkspaceRoot, &progress, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "checkpoint not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "scan checkpoint", err)
	}
	fh, err := unmarshalFileHashes(hashes)
	if err != nil {
		return nil, err
	}
	cp.FileHashes = fh
	steps, err := unmarshalProgress(progress)
	if err != nil {
		return nil, err
	}
	cp.ProgressSnapshot = steps
	return cp, nil
}
