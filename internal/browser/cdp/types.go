package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is the cause of responses to commands sent without a connection.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is the cause of responses that never got a correlated reply.
	ErrTimeout = errors.New("command timed out")
	// ErrNoTarget means the debug endpoint listed no usable target.
	ErrNoTarget = errors.New("no matching debug target")
	// ErrNodeNotFound means a selector matched nothing.
	ErrNodeNotFound = errors.New("no node matches selector")
	// ErrUnknownKey means PressKey was given a name outside the key table.
	ErrUnknownKey = errors.New("unknown key name")
	// ErrNoBoxModel means a node has no geometry to click on.
	ErrNoBoxModel = errors.New("node has no usable box model")
)

// Target is one entry of the /json listing.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResponseError is the error object of a failed reply.
type ResponseError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Response is the correlated reply to one command. Replies synthesized
// locally (not connected, timeout) carry an error and an ID of zero or the
// abandoned command id.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`

	method string
	cause  error
}

// Success reports whether the reply carried no error.
func (r *Response) Success() bool {
	return r != nil && r.Error == nil
}

// Err converts a failed response to an error. Synthetic responses wrap
// ErrNotConnected or ErrTimeout.
func (r *Response) Err() error {
	if r.Success() {
		return nil
	}
	if r == nil {
		return ErrNotConnected
	}
	return &CommandError{Method: r.method, Code: r.Error.Code, Message: r.Error.Message, cause: r.cause}
}

// CommandError is a failed command as an error value.
type CommandError struct {
	Method  string
	Code    int64
	Message string
	cause   error
}

func (e *CommandError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (%d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.cause
}

func syntheticResponse(id int64, method, message string, cause error) *Response {
	return &Response{
		ID:     id,
		Error:  &ResponseError{Message: message},
		method: method,
		cause:  cause,
	}
}

// EventHandler receives the raw params of an event.
type EventHandler func(params json.RawMessage)

// request is an outbound frame.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// message is any inbound frame. A reply has an id; an event has a method and no id.
type message struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// Cookie mirrors the browser's cookie object.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Size     int64   `json:"size"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CookieParams are the optional attributes of SetCookie.
type CookieParams struct {
	Path     string
	Secure   bool
	HTTPOnly bool
	URL      string
}
