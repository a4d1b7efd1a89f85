package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServe_GracefulShutdown(t *testing.T) {
	logger := logging.NewMockLogger()
	c, err := container.NewContainerWithRepository(config.Default(), store.NewMockRepository(), logger)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, c, addr) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(fmt.Sprintf("http://%s/health", addr))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, logger.HasEntry("INFO", "HTTP server shutting down"))
}

func TestServe_ListenError(t *testing.T) {
	c, err := container.NewContainerWithRepository(config.Default(), store.NewMockRepository(), logging.NewMockLogger())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	err = Serve(context.Background(), c, "127.0.0.1:-1")
	assert.Error(t, err)
}

func TestServeCommand_Flags(t *testing.T) {
	assert.Equal(t, "serve", Cmd.Use)
	assert.NotNil(t, Cmd.Flags().Lookup("addr"))
}
