package session

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"go.uber.org/zap"
)

// ProcessExecutor starts the agent host as a local child process. This
// is the default runtime (spec §3's agent.runtime = "process").
type ProcessExecutor struct {
	command string
	mu      sync.Mutex
	procs   map[string]*exec.Cmd
	log     *obslog.Logger
}

// NewProcessExecutor constructs a ProcessExecutor that launches command
// (a shell-style command line) for every session, with the session's
// workspace root as its working directory.
func NewProcessExecutor(command string, log *obslog.Logger) *ProcessExecutor {
	return &ProcessExecutor{command: command, procs: make(map[string]*exec.Cmd), log: log}
}

// StartAgent launches the configured command in sess's workspace.
func (p *ProcessExecutor) StartAgent(ctx context.Context, sess *model.Session) error {
	if p.command == "" {
		return nil // no-op: caller supervises the agent process out of band
	}
	fields := strings.Fields(p.command)
	if len(fields) == 0 {
		return apperr.New(apperr.Tool, "agent.command is set but empty after splitting")
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = sess.WorkspaceRoot
	cmd.Env = append(cmd.Env, "HANDOFF_SESSION_ID="+sess.ID)

	if err := cmd.Start(); err != nil {
		return apperr.Wrap(apperr.Tool, "start agent process", err)
	}

	p.mu.Lock()
	p.procs[sess.ID] = cmd
	p.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		delete(p.procs, sess.ID)
		p.mu.Unlock()
	}()

	return nil
}

// StopAgent sends SIGTERM and waits up to grace before escalating to
// SIGKILL.
func (p *ProcessExecutor) StopAgent(ctx context.Context, sess *model.Session, grace time.Duration) error {
	p.mu.Lock()
	cmd, ok := p.procs[sess.ID]
	p.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.log.Warn("sigterm failed, issuing sigkill", zap.String("session_id", sess.ID), zap.Error(err))
		return cmd.Process.Kill()
	}

	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		p.log.Warn("agent process did not exit within grace period, killing", zap.String("session_id", sess.ID))
		return cmd.Process.Kill()
	}
}
