// File: internal/browser/cdp/client.go
// Description: A DevTools protocol client speaking JSON frames over a single
// WebSocket. Commands are correlated with replies by id; frames without an
// id are dispatched to event handlers.

package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/config"
	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Options tunes timeouts and pacing of a Client.
type Options struct {
	CommandTimeout    time.Duration
	NavigationTimeout time.Duration
	MaxFrameSize      int64
	PollInterval      time.Duration
	TypeDelay         time.Duration
}

// DefaultOptions mirrors the protocol section defaults.
func DefaultOptions() Options {
	return Options{
		CommandTimeout:    30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		MaxFrameSize:      100 * 1024 * 1024,
		PollInterval:      500 * time.Millisecond,
		TypeDelay:         50 * time.Millisecond,
	}
}

// OptionsFromConfig maps the protocol config section onto Options.
func OptionsFromConfig(cfg config.ProtocolConfig) Options {
	return Options{
		CommandTimeout:    cfg.CommandTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		MaxFrameSize:      cfg.MaxFrameSize,
		PollInterval:      cfg.PollInterval,
		TypeDelay:         cfg.TypeDelay,
	}
}

type handlerEntry struct {
	id int64
	fn EventHandler
}

// Client is one DevTools connection to one target.
type Client struct {
	host       string
	opts       Options
	logger     *zap.Logger
	httpClient *http.Client

	// nextID is never reset, so ids stay unique across reconnects.
	nextID    atomic.Int64
	handlerID atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	target   *Target
	pending  map[int64]chan *Response
	handlers map[string][]handlerEntry
	loopDone chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected Client for the debug endpoint on 127.0.0.1:port.
func New(port int, opts Options, logger *zap.Logger) *Client {
	return NewForHost(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), opts, logger)
}

// NewForHost is New for an arbitrary host:port.
func NewForHost(host string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaults.NavigationTimeout
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaults.MaxFrameSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.TypeDelay < 0 {
		opts.TypeDelay = 0
	}
	return &Client{
		host:       host,
		opts:       opts,
		logger:     logger.Named("cdp").With(zap.String("host", host)),
		httpClient: &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}},
		pending:    make(map[int64]chan *Response),
		handlers:   make(map[string][]handlerEntry),
	}
}

// Connect attaches to the target whose id is targetSelector, or to the first
// page target when targetSelector is empty, and enables the Page, DOM,
// Runtime and Network domains.
func (c *Client) Connect(ctx context.Context, targetSelector string) error {
	if c.IsConnected() {
		return nil
	}

	targets, err := c.Targets(ctx)
	if err != nil {
		return err
	}
	target, err := selectTarget(targets, targetSelector)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1 << 16,
		WriteBufferSize:  1 << 16,
	}
	conn, _, err := dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target.WebSocketDebuggerURL, err)
	}
	conn.SetReadLimit(c.opts.MaxFrameSize)

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.target = &target
	c.loopDone = done
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.logger.Info("Connected to target.", zap.String("target_id", target.ID), zap.String("url", target.URL))

	enables := []struct {
		method string
		params any
	}{
		{page.CommandEnable, page.Enable()},
		{dom.CommandEnable, dom.Enable()},
		{runtime.CommandEnable, runtime.Enable()},
		{network.CommandEnable, network.Enable()},
		{page.CommandSetLifecycleEventsEnabled, page.SetLifecycleEventsEnabled(true)},
	}
	for _, e := range enables {
		if resp := c.Send(ctx, e.method, e.params); !resp.Success() {
			// Keep going; a missing domain only disables the primitives that need it.
			c.logger.Warn("Domain enable failed.", zap.String("method", e.method), zap.Error(resp.Err()))
		}
	}
	return nil
}

// Targets fetches the /json listing of the debug endpoint.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.host+"/json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list targets: status %d", resp.StatusCode)
	}

	var targets []Target
	if err := codec.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode target list: %w", err)
	}
	return targets, nil
}

func selectTarget(targets []Target, selector string) (Target, error) {
	for _, t := range targets {
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		if selector != "" && t.ID == selector {
			return t, nil
		}
		if selector == "" && t.Type == "page" {
			return t, nil
		}
	}
	if selector != "" {
		return Target{}, fmt.Errorf("%w: id %q", ErrNoTarget, selector)
	}
	return Target{}, fmt.Errorf("%w: no page target", ErrNoTarget)
}

// IsConnected reports whether a socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Target returns the target of the current connection.
func (c *Client) Target() (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return Target{}, false
	}
	return *c.target, true
}

// Send issues method with params and blocks until the correlated reply,
// CommandTimeout, or ctx ends. It never returns nil. Without a connection it
// returns a "Not connected" response immediately.
func (c *Client) Send(ctx context.Context, method string, params any) *Response {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		observability.RecordCommand("not_connected")
		return syntheticResponse(0, method, "Not connected", ErrNotConnected)
	}
	id := c.nextID.Add(1)
	reply := make(chan *Response, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	if params == nil {
		params = struct{}{}
	}
	payload, err := codec.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		observability.RecordCommand("error")
		return syntheticResponse(id, method, "encode params: "+err.Error(), err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		observability.RecordCommand("error")
		return syntheticResponse(id, method, "write: "+err.Error(), err)
	}

	timer := time.NewTimer(c.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		resp.method = method
		if resp.Success() {
			observability.RecordCommand("ok")
		} else {
			observability.RecordCommand("error")
		}
		return resp
	case <-timer.C:
		c.forget(id)
		observability.RecordCommand("timeout")
		c.logger.Warn("Command timed out.", zap.String("method", method), zap.Int64("id", id))
		return syntheticResponse(id, method, "Timeout", ErrTimeout)
	case <-ctx.Done():
		c.forget(id)
		observability.RecordCommand("timeout")
		return syntheticResponse(id, method, ctx.Err().Error(), ctx.Err())
	}
}

// SendInto is Send plus decoding of the result into out (which may be nil).
func (c *Client) SendInto(ctx context.Context, method string, params, out any) error {
	resp := c.Send(ctx, method, params)
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := codec.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// PendingCount is the number of commands awaiting a reply.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// On registers handler for event. Handlers run on the receive loop in
// registration order.
func (c *Client) On(event string, handler EventHandler) {
	c.subscribe(event, handler)
}

// subscribe registers handler and returns a func that removes it again.
func (c *Client) subscribe(event string, handler EventHandler) func() {
	id := c.handlerID.Add(1)
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Disconnect stops the receive loop, closes the socket and drops every
// registered handler. Calling it while disconnected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.loopDone
	c.conn = nil
	c.target = nil
	c.handlers = make(map[string][]handlerEntry)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := conn.Close()

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.logger.Warn("Receive loop did not exit after close.")
		}
	}
	c.logger.Info("Disconnected.")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// readLoop owns all reads from conn. It exits when the socket closes and
// leaves outstanding commands to their own timeouts.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Receive loop exiting.", zap.Error(err))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				_ = conn.Close()
			}
			c.mu.Unlock()
			return
		}

		var msg message
		if err := codec.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable frame.", zap.Error(err))
			continue
		}

		switch {
		case msg.ID != nil:
			c.resolve(&Response{ID: *msg.ID, Result: msg.Result, Error: msg.Error})
		case msg.Method != "":
			c.dispatch(msg.Method, msg.Params)
		}
	}
}

func (c *Client) resolve(resp *Response) {
	c.mu.Lock()
	reply, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping reply with no pending command.", zap.Int64("id", resp.ID))
		return
	}
	reply <- resp
}

func (c *Client) dispatch(method string, params json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[method]...)
	c.mu.Unlock()

	for _, e := range entries {
		c.invoke(method, e.fn, params)
	}
}

func (c *Client) invoke(method string, fn EventHandler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked.", zap.String("event", method), zap.Any("panic", r))
		}
	}()
	fn(params)
}
