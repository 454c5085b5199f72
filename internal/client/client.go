// Package client talks to the canvas daemon over its unix socket.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/canvas/internal/protocol"
)

// DefaultTimeout bounds a call when the context has no deadline.
const DefaultTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	Socket  string
	Timeout time.Duration
	// Cwd is sent as meta.cwd; artifacts land under it. Defaults to the
	// process working directory.
	Cwd     string
	Format  string
	Version string
}

// Client issues one request per connection. Subscribe keeps its connection
// open for the event stream.
type Client struct {
	socket  string
	timeout time.Duration
	meta    protocol.Meta
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Cwd == "" {
		opts.Cwd, _ = os.Getwd()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Client{
		socket:  opts.Socket,
		timeout: opts.Timeout,
		meta: protocol.Meta{
			Cwd:             opts.Cwd,
			Format:          opts.Format,
			ProtocolVersion: protocol.Version,
			Client:          protocol.ClientInfo{Name: "canvas", Version: opts.Version},
		},
	}
}

// Socket returns the daemon socket path.
func (c *Client) Socket() string { return c.socket }

// Call sends method with params and returns the raw result. A daemon-side
// failure is returned as *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	id, err := c.send(conn, method, params)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	for {
		resp, _, err := readFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, protocol.NewError(protocol.CodeOperationTimeout,
					fmt.Sprintf("%s: no response from daemon: %v", method, ctx.Err()),
					protocol.WithSuggestion("raise --timeout or check `canvas daemon status`"))
			}
			return nil, connectionFailed(fmt.Errorf("read response: %w", err))
		}
		if resp == nil || resp.ID != id {
			continue
		}
		if !resp.OK {
			return nil, failure(resp)
		}
		return resp.Result, nil
	}
}

// CallInto is Call followed by unmarshalling the result into out.
func (c *Client) CallInto(ctx context.Context, method string, params, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Ping reports whether a compatible daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MethodPing, nil)
	return err
}

// Subscription is the watch.subscribe result.
type Subscription struct {
	ID     string   `json:"subscription"`
	Events []string `json:"events"`
	Live   bool     `json:"live"`
}

// Subscribe opens a watch subscription and calls fn for every event until
// ctx is done, the daemon goes away or fn returns an error. onReady, if set,
// runs once the subscription is acknowledged.
func (c *Client) Subscribe(ctx context.Context, params any, onReady func(Subscription), fn func(protocol.Event) error) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	id, err := c.send(conn, protocol.MethodWatchSubscribe, params)
	if err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	subscribed := false
	for {
		resp, ev, err := readFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return connectionFailed(errors.New("daemon closed the event stream"))
			}
			return connectionFailed(err)
		}
		switch {
		case resp != nil && resp.ID == id && !subscribed:
			if !resp.OK {
				return failure(resp)
			}
			subscribed = true
			if onReady != nil {
				var sub Subscription
				_ = json.Unmarshal(resp.Result, &sub)
				onReady(sub)
			}
		case ev != nil:
			if err := fn(*ev); err != nil {
				return err
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.socket == "" {
		return nil, protocol.NewError(protocol.CodeDaemonNotRunning, "no daemon socket configured")
	}
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
		return nil, protocol.NewError(protocol.CodeDaemonNotRunning,
			fmt.Sprintf("daemon is not running at %s", c.socket),
			protocol.WithSuggestion("start it with `canvas daemon start`"))
	}
	return nil, connectionFailed(err)
}

func (c *Client) send(conn net.Conn, method string, params any) (string, error) {
	req := struct {
		ID     string        `json:"id"`
		Method string        `json:"method"`
		Params any           `json:"params,omitempty"`
		Meta   protocol.Meta `json:"meta"`
	}{ID: uuid.NewString(), Method: method, Params: params, Meta: c.meta}

	line, err := protocol.Encode(req)
	if err != nil {
		return "", protocol.InvalidRequest("encode %s: %v", method, err)
	}
	if _, err := conn.Write(line); err != nil {
		return "", connectionFailed(fmt.Errorf("send %s: %w", method, err))
	}
	return req.ID, nil
}

// readFrame reads one line and returns it as a response or an event.
func readFrame(r *bufio.Reader) (*protocol.Response, *protocol.Event, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, nil, err
	}
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, nil, nil
	}
	if probe.Event != "" {
		var ev protocol.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, nil, nil
		}
		return nil, &ev, nil
	}
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, nil, nil
	}
	return &resp, nil, nil
}

func failure(resp *protocol.Response) *protocol.Error {
	if resp.Error == nil {
		return protocol.Internal("daemon reported failure without an error")
	}
	return resp.Error
}

func connectionFailed(err error) *protocol.Error {
	return protocol.NewError(protocol.CodeDaemonConnectionFailed, err.Error(),
		protocol.WithSuggestion("check `canvas daemon status`, or restart with `canvas daemon stop && canvas daemon start`"))
}
