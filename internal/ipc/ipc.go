// Package ipc implements the local companion control channel (spec
// §4.9): a newline-delimited JSON protocol over a Unix domain socket,
// one command per connection, authorized by a shared secret. It bridges
// the companion CLI to the same coordinator registries (F) and session
// orchestrator (H) the tool handler and chat adapter use, so approve/
// reject/resume commands resolve pending requests identically regardless
// of which surface issued them.
package ipc

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/coordinator"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/handoffhq/handoff/internal/session"
	"github.com/handoffhq/handoff/internal/store"
	"go.uber.org/zap"
)

// Server accepts connections on a Unix domain socket derived from the
// canonical workspace root, so distinct workspaces never collide.
type Server struct {
	listener  net.Listener
	path      string
	authToken string

	store        *store.Store
	coord        *coordinator.Coordinator
	orchestrator *session.Orchestrator
	defaultChan  string
	log          *obslog.Logger

	wg sync.WaitGroup
}

// SocketPath derives the Unix domain socket path for workspaceRoot:
// runtimeDir (or $XDG_RUNTIME_DIR, or os.TempDir()) joined with
// "handoff-" plus the first 16 hex characters of sha256(canonical root).
func SocketPath(runtimeDir, workspaceRoot string) (string, error) {
	canonical, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", apperr.Wrap(apperr.Ipc, "resolve workspace root for socket path", err)
	}
	canonical = filepath.Clean(canonical)

	sum := sha256.Sum256([]byte(canonical))
	name := "handoff-" + hex.EncodeToString(sum[:])[:16] + ".sock"

	dir := runtimeDir
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name), nil
}

// New binds the Unix domain socket at path. A stale socket file left
// behind by an unclean shutdown is removed before binding, matching the
// teacher's general reconnect-cleanup idiom for long-running listeners.
func New(path, authToken string, st *store.Store, coord *coordinator.Coordinator, orch *session.Orchestrator, defaultChan string, log *obslog.Logger) (*Server, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.Ipc, "listen on ipc socket", err)
	}
	return &Server{
		listener:     ln,
		path:         path,
		authToken:    authToken,
		store:        st,
		coord:        coord,
		orchestrator: orch,
		defaultChan:  defaultChan,
		log:          log,
	}, nil
}

// Path returns the bound socket path.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled on its own goroutine and carries
// exactly one request/response exchange per spec §4.9.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return apperr.Wrap(apperr.Ipc, "accept ipc connection", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close releases the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return
	}

	var req request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		s.writeResponse(conn, response{OK: false, Error: "malformed request: " + err.Error()})
		return
	}

	if req.AuthToken == "" || req.AuthToken != s.authToken {
		s.writeResponse(conn, response{OK: false, Error: "unauthorized"})
		s.log.Warn("ipc command rejected: bad auth token", zap.String("cmd", req.Cmd))
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("failed to marshal ipc response", zap.Error(err))
		return
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		s.log.Warn("failed to write ipc response", zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Cmd {
	case "list":
		return s.handleList(ctx)
	case "approve":
		return s.handleApprove(ctx, req, true)
	case "reject":
		return s.handleApprove(ctx, req, false)
	case "resume":
		return s.handleResume(ctx, req)
	case "mode":
		return s.handleMode(ctx, req)
	case "steer":
		return s.handleSteer(ctx, req)
	case "task":
		return s.handleTask(ctx, req)
	default:
		return response{OK: false, Error: "unknown command: " + req.Cmd}
	}
}
