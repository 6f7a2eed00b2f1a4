package launcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// probeTimeout bounds a single readiness request.
const probeTimeout = time.Second

// VersionInfo is the body served by /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionURL is the readiness endpoint for a debug port.
func VersionURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
}

// ProbeVersion performs one readiness request. ok is true only for a 200.
func ProbeVersion(ctx context.Context, client *http.Client, port int) (info VersionInfo, ok bool) {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, VersionURL(port), nil)
	if err != nil {
		return info, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return info, false
	}
	// A 200 is what counts; the body is best effort.
	_ = json.NewDecoder(resp.Body).Decode(&info)
	return info, true
}

// WaitForReady polls /json/version every interval until it answers 200,
// timeout elapses, ctx ends, or exited is closed.
func WaitForReady(ctx context.Context, client *http.Client, port int, interval, timeout time.Duration, exited <-chan struct{}) (VersionInfo, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if info, ok := ProbeVersion(ctx, client, port); ok {
			return info, nil
		}

		select {
		case <-ctx.Done():
			return VersionInfo{}, ctx.Err()
		case <-exited:
			return VersionInfo{}, ErrProcessExited
		case <-deadline.C:
			return VersionInfo{}, fmt.Errorf("%w: port %d after %s", ErrLaunchTimeout, port, timeout)
		case <-time.After(interval):
		}
	}
}
