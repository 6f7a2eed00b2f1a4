package launcher

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// debugServer serves /json/version, answering 503 until failures runs out.
func debugServer(t *testing.T, failures int32) (port int, hits *atomic.Int32) {
	t.Helper()
	hits = &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path != "/json/version" || n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/126","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/browser/x"}`))
	}))
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(portStr)
	require.NoError(t, err)
	return port, hits
}

func TestWaitForReady(t *testing.T) {
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	t.Run("polls until the endpoint answers 200", func(t *testing.T) {
		port, hits := debugServer(t, 3)

		info, err := WaitForReady(context.Background(), client, port, 10*time.Millisecond, 5*time.Second, nil)
		require.NoError(t, err)
		assert.Equal(t, "Chrome/126", info.Browser)
		assert.Equal(t, "ws://127.0.0.1/devtools/browser/x", info.WebSocketDebuggerURL)
		assert.Equal(t, int32(4), hits.Load())
	})

	t.Run("gives up after the timeout", func(t *testing.T) {
		port, _ := debugServer(t, 1_000_000)

		start := time.Now()
		_, err := WaitForReady(context.Background(), client, port, 20*time.Millisecond, 150*time.Millisecond, nil)
		assert.ErrorIs(t, err, ErrLaunchTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("stops when the process exits", func(t *testing.T) {
		port, _ := debugServer(t, 1_000_000)
		exited := make(chan struct{})
		close(exited)

		_, err := WaitForReady(context.Background(), client, port, 20*time.Millisecond, 5*time.Second, exited)
		assert.ErrorIs(t, err, ErrProcessExited)
	})

	t.Run("nothing listening counts as not ready", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		_, ok := ProbeVersion(context.Background(), client, port)
		assert.False(t, ok)
	})
}
