// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package healthsrv

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solanabridge/geyser-kafka-bridge/health"
)

func TestHealthEndpoints(t *testing.T) {
	var monitor health.Binary
	monitor.MarkHealthy()

	srv, err := New("127.0.0.1:0", &monitor)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	waitUntilUp(t, srv.Addr())

	for _, path := range []string{"/health", "/internal/health"} {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, "OK", string(body))
	}

	monitor.MarkUnhealthy()
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not shut down")
	}
}

func waitUntilUp(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err := http.Get("http://" + addr + "/health")
		if err == nil {
			conn.Body.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
