// Package protocol defines the newline-delimited JSON envelope spoken between
// the canvas CLI and the canvas daemon.
package protocol

import (
	"encoding/json"
)

// UnknownID is the response id used when the request id could not be read.
const UnknownID = "unknown"

// Method names exposed by the daemon.
const (
	MethodPing               = "ping"
	MethodDaemonStatus       = "daemon.status"
	MethodDaemonStop         = "daemon.stop"
	MethodConnect            = "connect"
	MethodDisconnect         = "disconnect"
	MethodStatus             = "status"
	MethodScreenshotViewport = "screenshot.viewport"
	MethodScreenshotElement  = "screenshot.element"
	MethodExecute            = "execute"
	MethodStyles             = "styles"
	MethodDOM                = "dom"
	MethodDescribe           = "describe"
	MethodContext            = "context"
	MethodA11y               = "a11y"
	MethodDiff               = "diff"
	MethodWatchSubscribe     = "watch.subscribe"
	MethodWatchUnsubscribe   = "watch.unsubscribe"
	MethodWatchConfigure     = "watch.configure"
	MethodViewerStart        = "viewer.start"
	MethodViewerStop         = "viewer.stop"
	MethodViewerStatus       = "viewer.status"
	MethodDoctor             = "doctor"
)

// Request is a single CLI -> daemon call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Meta   Meta            `json:"meta"`
}

// Meta carries per-request client context.
type Meta struct {
	Cwd             string     `json:"cwd,omitempty"`
	Format          string     `json:"format,omitempty"` // "json" or "text"
	ProtocolVersion string     `json:"protocolVersion,omitempty"`
	Client          ClientInfo `json:"client"`
}

// ClientInfo identifies the calling client.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Response is the uniform envelope. Exactly one of Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event is an asynchronous watch event pushed to a subscribed connection.
// It never carries an id and is distinguishable from a Response by Event.
type Event struct {
	Event        string         `json:"event"`
	Subscription string         `json:"subscription,omitempty"`
	Data         map[string]any `json:"data"`
}

// Success builds a success envelope. A result that fails to marshal is
// reported as an internal error instead.
func Success(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return Failure(id, Internal("failed to encode result: %v", err))
	}
	return Response{ID: id, OK: true, Result: raw}
}

// Failure builds an error envelope.
func Failure(id string, e *Error) Response {
	if id == "" {
		id = UnknownID
	}
	if e == nil {
		e = Internal("unknown failure")
	}
	return Response{ID: id, OK: false, Error: e}
}
