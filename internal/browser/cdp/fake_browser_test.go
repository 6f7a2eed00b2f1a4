package cdp

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// noReply makes the fake swallow a command.
var noReply = &ResponseError{Code: -1, Message: "no reply"}

type call struct {
	ID     int64
	Method string
	Params json.RawMessage
}

type methodHandler func(fb *fakeBrowser, params json.RawMessage) (any, *ResponseError)

// fakeBrowser serves /json and a single page WebSocket speaking the
// DevTools framing. Unhandled methods answer with an empty result.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]methodHandler
	calls    []call
	conn     *websocket.Conn
	targets  []Target

	writeMu sync.Mutex
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{t: t, handlers: map[string]methodHandler{}}
	fb.handle("DOM.getDocument", func(*fakeBrowser, json.RawMessage) (any, *ResponseError) {
		return map[string]any{"root": map[string]any{"nodeId": 1}}, nil
	})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		targets := fb.targets
		fb.mu.Unlock()
		_ = codec.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/devtools/page/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		fb.serve(conn)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.close)

	wsBase := "ws" + strings.TrimPrefix(fb.srv.URL, "http")
	fb.targets = []Target{
		{ID: "bg", Type: "service_worker", WebSocketDebuggerURL: wsBase + "/devtools/page/bg"},
		{ID: "page-1", Type: "page", URL: "about:blank", WebSocketDebuggerURL: wsBase + "/devtools/page/page-1"},
		{ID: "page-2", Type: "page", URL: "about:blank", WebSocketDebuggerURL: wsBase + "/devtools/page/page-2"},
	}
	return fb
}

func (fb *fakeBrowser) port() int {
	_, p, err := net.SplitHostPort(fb.srv.Listener.Addr().String())
	require.NoError(fb.t, err)
	port, err := strconv.Atoi(p)
	require.NoError(fb.t, err)
	return port
}

func (fb *fakeBrowser) handle(method string, h methodHandler) {
	fb.mu.Lock()
	fb.handlers[method] = h
	fb.mu.Unlock()
}

func (fb *fakeBrowser) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req call
		if err := codec.Unmarshal(data, &req); err != nil {
			continue
		}

		fb.mu.Lock()
		fb.calls = append(fb.calls, req)
		h := fb.handlers[req.Method]
		fb.mu.Unlock()

		var result any = map[string]any{}
		var rerr *ResponseError
		if h != nil {
			result, rerr = h(fb, req.Params)
		}
		if rerr == noReply {
			continue
		}
		frame := map[string]any{"id": req.ID}
		if rerr != nil {
			frame["error"] = rerr
		} else {
			frame["result"] = result
		}
		fb.write(conn, frame)
	}
}

func (fb *fakeBrowser) write(conn *websocket.Conn, frame any) {
	b, err := codec.Marshal(frame)
	if err != nil {
		panic(err)
	}
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// emit pushes an event frame to the connected client.
func (fb *fakeBrowser) emit(method string, params any) {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(fb.t, conn, "emit before connect")
	fb.write(conn, map[string]any{"method": method, "params": params})
}

// dropConnection closes the server side of the socket.
func (fb *fakeBrowser) dropConnection() {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (fb *fakeBrowser) close() {
	fb.dropConnection()
	fb.srv.Close()
}

// callsTo returns the recorded commands for method, in arrival order.
func (fb *fakeBrowser) callsTo(method string) []call {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []call
	for _, c := range fb.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (fb *fakeBrowser) allCalls() []call {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]call(nil), fb.calls...)
}

func (fb *fakeBrowser) resetCalls() {
	fb.mu.Lock()
	fb.calls = nil
	fb.mu.Unlock()
}

func testOptions() Options {
	return Options{
		CommandTimeout:    2 * time.Second,
		NavigationTimeout: 2 * time.Second,
		MaxFrameSize:      1 << 20,
		PollInterval:      10 * time.Millisecond,
		TypeDelay:         time.Millisecond,
	}
}

// connectedClient returns a client attached to page-1 of a fresh fake, with
// the connect-time enable calls cleared.
func connectedClient(t *testing.T, tweak func(*Options)) (*Client, *fakeBrowser) {
	t.Helper()
	fb := newFakeBrowser(t)
	opts := testOptions()
	if tweak != nil {
		tweak(&opts)
	}
	c := New(fb.port(), opts, zap.NewNop())
	require.NoError(t, c.Connect(t.Context(), ""))
	t.Cleanup(func() { _ = c.Disconnect() })
	fb.resetCalls()
	return c, fb
}

func decodeParams(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, codec.Unmarshal(raw, &m), fmt.Sprintf("params %s", raw))
	return m
}
