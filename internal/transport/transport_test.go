package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HTTPTransportServesAndStops(t *testing.T) {
	mcpServer := server.NewMCPServer("handoff-test", "0.0.0", server.WithToolCapabilities(true))

	srv := New(Config{HTTPAddr: "127.0.0.1:0"}, mcpServer, obslog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.NotNil(t, srv.HTTPAddr())

	resp, err := http.Post("http://"+srv.HTTPAddr().String()+"/mcp", "application/json", nil)
	if err == nil {
		resp.Body.Close()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, srv.Stop(stopCtx))
}

func TestServer_StartTwiceFails(t *testing.T) {
	mcpServer := server.NewMCPServer("handoff-test", "0.0.0", server.WithToolCapabilities(true))
	srv := New(Config{HTTPAddr: "127.0.0.1:0"}, mcpServer, obslog.Default())

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx)

	err := srv.Start(ctx)
	assert.Error(t, err)
}
