package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
)

// CreateContinuationPrompt inserts a new forwarded prompt awaiting a
// decision.
func (s *Store) CreateContinuationPrompt(ctx context.Context, cp *model.ContinuationPrompt) error {
	ctx = ctxOrBackground(ctx)
	if !cp.PromptType.Valid() {
		return apperr.New(apperr.Tool, "invalid prompt type: "+string(cp.PromptType))
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		INSERT INTO continuation_prompts (id, session_id, prompt_text, prompt_type, elapsed_seconds, actions_taken, decision, instruction, chat_message_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), cp.ID, cp.SessionID, cp.PromptText, cp.PromptType, cp.ElapsedSeconds, cp.ActionsTaken, cp.Decision,
		cp.Instruction, cp.ChatMessageRef, cp.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Db, "insert continuation prompt", err)
	}
	return nil
}

// GetContinuationPrompt fetches a continuation prompt by ID.
func (s *Store) GetContinuationPrompt(ctx context.Context, id string) (*model.ContinuationPrompt, error) {
	ctx = ctxOrBackground(ctx)
	cp := &model.ContinuationPrompt{}
	err := s.pool.Reader().GetContext(ctx, cp, s.pool.Reader().Rebind(`
		SELECT id, session_id, prompt_text, prompt_type, elapsed_seconds, actions_taken, decision, instruction, chat_message_ref, created_at
		FROM continuation_prompts WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "continuation prompt not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "get continuation prompt", err)
	}
	return cp, nil
}

// SetContinuationPromptChatMessageRef attaches the chat message ref.
func (s *Store) SetContinuationPromptChatMessageRef(ctx context.Context, id, ref string) error {
	ctx = ctxOrBackground(ctx)
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE continuation_prompts SET chat_message_ref = ? WHERE id = ?
	`), ref, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "set continuation prompt chat message ref", err)
	}
	return mustAffect(res, id)
}

// ResolveContinuationPrompt records the operator's decision. It only
// succeeds once per prompt (decision starts NULL); a second resolve
// attempt returns apperr.AlreadyConsumed.
func (s *Store) ResolveContinuationPrompt(ctx context.Context, id string, decision model.PromptDecision, instruction *string) error {
	ctx = ctxOrBackground(ctx)
	if !decision.Valid() {
		return apperr.New(apperr.Tool, "invalid prompt decision: "+string(decision))
	}
	res, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE continuation_prompts SET decision = ?, instruction = ? WHERE id = ? AND decision IS NULL
	`), decision, instruction, id)
	if err != nil {
		return apperr.Wrap(apperr.Db, "resolve continuation prompt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Db, "check rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.AlreadyConsumed, "continuation prompt already resolved: "+id)
	}
	return nil
}

// InterruptPendingContinuationPromptsForSession resolves every
// undecided continuation prompt for a session as stop, used during
// startup recovery so a prompt left blocking across a restart doesn't
// wait forever for an operator who will never see it again.
func (s *Store) InterruptPendingContinuationPromptsForSession(ctx context.Context, sessionID string) error {
	ctx = ctxOrBackground(ctx)
	_, err := s.pool.Writer().ExecContext(ctx, s.pool.Writer().Rebind(`
		UPDATE continuation_prompts SET decision = 'stop' WHERE session_id = ? AND decision IS NULL
	`), sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Db, "interrupt pending continuation prompts", err)
	}
	return nil
}

// ListUnresolvedContinuationPromptsForSession returns prompts with no
// decision yet, used by recover_state.
func (s *Store) ListUnresolvedContinuationPromptsForSession(ctx context.Context, sessionID string) ([]*model.ContinuationPrompt, error) {
	ctx = ctxOrBackground(ctx)
	var out []*model.ContinuationPrompt
	err := s.pool.Reader().SelectContext(ctx, &out, s.pool.Reader().Rebind(`
		SELECT id, session_id, prompt_text, prompt_type, elapsed_seconds, actions_taken, decision, instruction, chat_message_ref, created_at
		FROM continuation_prompts WHERE session_id = ? AND decision IS NULL
		ORDER BY created_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list unresolved continuation prompts", err)
	}
	return out, nil
}
