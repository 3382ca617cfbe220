package main

import (
	"github.com/handoffhq/handoff/internal/config"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/session"
)

// newExecutor selects the agent host backend per cfg.Agent.Runtime.
func newExecutor(cfg *config.Config, log *obslog.Logger) session.Executor {
	if cfg.Agent.Runtime == "docker" {
		return session.NewDockerExecutor(cfg.Agent.Image, log)
	}
	return session.NewProcessExecutor(cfg.Agent.Command, log)
}
