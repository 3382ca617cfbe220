package session

import (
	"context"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"go.uber.org/zap"
)

// DockerExecutor runs each session's agent host in its own container,
// for the optional containerized agent runtime (spec §3's agent.runtime
// = "docker"). Grounded on the teacher's
// internal/agent/lifecycle/executor_docker.go lazy-client-initialization
// idiom: the Docker client is created on first use rather than at
// startup, and re-attempted (not permanently disabled) on failure, so a
// transiently unavailable daemon doesn't poison the whole process.
type DockerExecutor struct {
	image string

	mu          sync.Mutex
	initialized bool
	cli         *client.Client
	containers  map[string]string // sessionID -> container ID

	log *obslog.Logger
}

// NewDockerExecutor constructs a DockerExecutor that runs image for
// every session.
func NewDockerExecutor(image string, log *obslog.Logger) *DockerExecutor {
	return &DockerExecutor{image: image, containers: make(map[string]string), log: log}
}

func (d *DockerExecutor) ensureClient() (*client.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return d.cli, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.Wrap(apperr.Tool, "create docker client", err)
	}
	d.cli = cli
	d.initialized = true
	return cli, nil
}

// StartAgent creates and starts a container bound to sess's workspace.
func (d *DockerExecutor) StartAgent(ctx context.Context, sess *model.Session) error {
	cli, err := d.ensureClient()
	if err != nil {
		return err
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		Env:   []string{"HANDOFF_SESSION_ID=" + sess.ID},
		Tty:   false,
	}, &container.HostConfig{
		Binds: []string{sess.WorkspaceRoot + ":/workspace"},
	}, nil, nil, "handoff-"+sess.ID)
	if err != nil {
		return apperr.Wrap(apperr.Tool, "create agent container", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return apperr.Wrap(apperr.Tool, "start agent container", err)
	}

	d.mu.Lock()
	d.containers[sess.ID] = resp.ID
	d.mu.Unlock()
	return nil
}

// StopAgent stops the container gracefully within grace, then removes it.
func (d *DockerExecutor) StopAgent(ctx context.Context, sess *model.Session, grace time.Duration) error {
	d.mu.Lock()
	id, ok := d.containers[sess.ID]
	delete(d.containers, sess.ID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	cli, err := d.ensureClient()
	if err != nil {
		return err
	}

	graceSeconds := int(grace.Seconds())
	if err := cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &graceSeconds}); err != nil {
		d.log.Warn("container stop failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return apperr.Wrap(apperr.Tool, "remove agent container", err)
	}
	return nil
}
