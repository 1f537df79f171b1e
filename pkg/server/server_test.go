package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/malbeclabs/askdb/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestAskDB_Server_New_NilLogger(t *testing.T) {
	t.Parallel()

	_, err := New(nil, newTestConfig(t))
	require.ErrorContains(t, err, "logger is required")
}

func TestAskDB_Server_New_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(logger, Config{})
	require.Error(t, err)
}

func TestAskDB_Server_Serve_ContextCancelStopsServer(t *testing.T) {
	t.Parallel()

	s, err := New(logger, newTestConfig(t))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + types.HealthzPath)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestAskDB_Server_Serve_ListenerClosed(t *testing.T) {
	t.Parallel()

	s, err := New(logger, newTestConfig(t))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = s.Serve(context.Background(), ln)
	require.Error(t, err)
}
