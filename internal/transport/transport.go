// Package transport wires the nine tool operations onto the agent-
// facing entry points (component K): stdio for a single subprocess
// agent, and streamable HTTP for networked/multi-client agents. Grounds
// on the teacher's internal/mcpserver/server.go (dual-transport
// construction, graceful Start/Stop with a ready channel), generalized
// from its SSE+StreamableHTTP pair to stdio+StreamableHTTP per spec §2's
// stated transports.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Config configures which transports are active.
type Config struct {
	Stdio    bool   // serve over stdin/stdout for a single subprocess agent
	HTTPAddr string // non-empty enables streamable HTTP on this address
}

// Server wraps the MCP server's stdio and/or streamable-HTTP transports
// with unified lifecycle management.
type Server struct {
	cfg Config
	log *obslog.Logger

	mcp *server.MCPServer

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
	httpAddr   net.Addr
	stdioDone  chan error
}

// HTTPAddr returns the bound address of the streamable-HTTP listener, or
// nil if HTTP transport is not enabled. Useful in tests and logs when
// cfg.HTTPAddr requests an ephemeral port (":0").
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// New constructs a Server around an already-configured *server.MCPServer
// (tools registered via tool.Handler.Register before this call).
func New(cfg Config, mcpServer *server.MCPServer, log *obslog.Logger) *Server {
	return &Server{cfg: cfg, mcp: mcpServer, log: log}
}

// Start launches every configured transport and returns once each has
// signaled it is ready (or immediately, for stdio, since ServeStdio
// blocks on stdin with no separate readiness signal).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("transport server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.cfg.Stdio {
		s.stdioDone = make(chan error, 1)
		go func() {
			s.log.Info("serving tool protocol over stdio")
			s.stdioDone <- server.ServeStdio(s.mcp)
		}()
	}

	if s.cfg.HTTPAddr != "" {
		streamable := server.NewStreamableHTTPServer(s.mcp)

		mux := http.NewServeMux()
		mux.Handle("/mcp", streamable)

		listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}

		s.httpServer = &http.Server{Handler: mux}
		s.mu.Lock()
		s.httpAddr = listener.Addr()
		s.mu.Unlock()

		ready := make(chan struct{})
		go func() {
			close(ready)
			s.log.Info("serving tool protocol over streamable HTTP", zap.String("addr", s.cfg.HTTPAddr))
			if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				s.log.Error("streamable HTTP transport error", zap.Error(err))
			}
		}()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Stop gracefully shuts down the streamable HTTP transport, if one is
// running; the stdio transport is not stopped by this call.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown streamable HTTP transport: %w", err)
		}
	}
	return nil
}
