package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/handoffhq/handoff/internal/config"
	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/ipc"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/policy"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/slackadapter"
	"github.com/handoffhq/handoff/internal/stall"
	"github.com/handoffhq/handoff/internal/store"
	"github.com/handoffhq/handoff/internal/tool"
	"github.com/handoffhq/handoff/internal/transport"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// version is stamped into the advertised MCP server identity.
const version = "0.1.0"

// runServe wires every component into a running daemon and blocks until
// SIGINT/SIGTERM, then drains and shuts down in spec §5 order.
func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := obslog.New(obslog.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return err
	}
	defer log.Sync()
	obslog.SetDefault(log)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	log.Info("opening persistence store", zap.String("path", cfg.Database.Path))
	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer st.Close()

	interrupted, err := st.RecoverOnStartup(ctx)
	if err != nil {
		return err
	}
	if interrupted > 0 {
		log.Warn("recovered sessions from unclean shutdown", zap.Int("count", interrupted))
	}

	policies, err := policy.NewWatcher(log, cfg.Policy.GlobalCommandAllowlist)
	if err != nil {
		return err
	}
	if _, err := policies.Watch(cfg.WorkspaceRoot); err != nil {
		return err
	}
	go policies.Run(ctx)

	executor := newExecutor(cfg, log)

	stallEvents := make(chan stall.Event, 64)
	orch := session.New(st, executor, session.Config{
		MaxSessionsPerOwner: 1,
		StallInactivity:     cfg.Stall.Inactivity(),
		StallEscalation:     cfg.Stall.Escalation(),
		StallMaxRetries:     cfg.Stall.MaxRetries,
		TerminationGrace:    cfg.Timeouts.TerminationGrace(),
	}, stallEvents, log)

	coord := coordinator.New()

	var chat *slackadapter.Adapter
	if cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "" {
		chat, err = slackadapter.New(slackadapter.Config{
			BotToken:        cfg.Slack.BotToken,
			AppToken:        cfg.Slack.AppToken,
			AuthorizedUsers: cfg.AuthorizedUsers,
			DefaultChannel:  cfg.Slack.DefaultChannel,
		}, log)
		if err != nil {
			return err
		}
		wireChatHandlers(chat, st, coord, orch, log)
		go func() {
			if err := chat.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("slack adapter stopped unexpectedly", zap.Error(err))
			}
		}()
	} else {
		log.Info("slack credentials not set, running in local-only (IPC) mode")
	}

	sockPath, err := ipc.SocketPath(cfg.IPC.RuntimeDir, cfg.WorkspaceRoot)
	if err != nil {
		return err
	}
	ipcSrv, err := ipc.New(sockPath, cfg.IPC.AuthToken, st, coord, orch, cfg.Slack.DefaultChannel, log)
	if err != nil {
		return err
	}
	log.Info("listening for local companion commands", zap.String("socket", ipcSrv.Path()))
	go func() {
		if err := ipcSrv.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("ipc server stopped unexpectedly", zap.Error(err))
		}
	}()

	handler := tool.New(st, coord, policies, orch, chat, cfg, log)
	mcpServer := server.NewMCPServer("handoff", version, server.WithToolCapabilities(true))
	handler.Register(mcpServer)

	transportSrv := transport.New(transport.Config{
		Stdio:    cfg.Transport.Stdio,
		HTTPAddr: cfg.Transport.HTTPAddr,
	}, mcpServer, log)
	if err := transportSrv.Start(ctx); err != nil {
		return err
	}

	go st.RunRetentionLoop(ctx, cfg.Retention.Period(), cfg.Retention.MaxAge(), cfg.Retention.PurgeOrphanedSteering)
	go dispatchStallEvents(ctx, stallEvents, st, chat, log)

	log.Info("handoffd is running", zap.String("workspace_root", cfg.WorkspaceRoot))
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := transportSrv.Stop(shutdownCtx); err != nil {
		log.Error("transport shutdown error", zap.Error(err))
	}
	if err := ipcSrv.Close(); err != nil {
		log.Error("ipc shutdown error", zap.Error(err))
	}

	interruptPending(coord, log)

	if chat != nil {
		drained := chat.Queue().Drain(shutdownCtx)
		log.Info("drained outbound chat queue", zap.Int("messages", drained))
	}

	log.Info("handoffd stopped")
	return nil
}

// interruptPending unblocks every still-waiting coordinator registration
// with an interrupted/stop result, so a blocked tool call returns instead
// of holding the process open past shutdown.
func interruptPending(coord *coordinator.Coordinator, log *obslog.Logger) {
	for _, id := range coord.Approvals.Pending() {
		if err := coord.Approvals.Resolve(id, coordinator.ApprovalResponse{Status: model.ApprovalInterrupted}); err != nil {
			log.Warn("failed to interrupt pending approval", zap.String("id", id), zap.Error(err))
		}
	}
	for _, id := range coord.Prompts.Pending() {
		decision := model.DecisionStop
		if err := coord.Prompts.Resolve(id, coordinator.PromptResponse{Decision: decision}); err != nil {
			log.Warn("failed to interrupt pending prompt", zap.String("id", id), zap.Error(err))
		}
	}
	for _, id := range coord.IPCReplies.Pending() {
		payload := map[string]any{"status": "interrupted"}
		if err := coord.IPCReplies.Resolve(id, coordinator.IPCReplyResponse{Payload: payload}); err != nil {
			log.Warn("failed to interrupt pending ipc wait", zap.String("id", id), zap.Error(err))
		}
	}
}
