package main

import (
	"testing"

	"github.com/handoffhq/handoff/internal/config"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestNewExecutor_SelectsByRuntime(t *testing.T) {
	log := obslog.Default()

	proc := newExecutor(&config.Config{Agent: config.AgentConfig{Runtime: "process", Command: "echo"}}, log)
	assert.IsType(t, &session.ProcessExecutor{}, proc)

	docker := newExecutor(&config.Config{Agent: config.AgentConfig{Runtime: "docker", Image: "agent:latest"}}, log)
	assert.IsType(t, &session.DockerExecutor{}, docker)
}
