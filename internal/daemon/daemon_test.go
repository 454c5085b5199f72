package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/browser/browsertest"
	"github.com/neboloop/canvas/internal/config"
	"github.com/neboloop/canvas/internal/diff"
	"github.com/neboloop/canvas/internal/logging"
	"github.com/neboloop/canvas/internal/protocol"
)

const projectDir = "/project"

var testViewport = map[string]int{"width": 64, "height": 48}

type testEnv struct {
	srv    *Server
	driver *browsertest.Driver
	fs     afero.Fs
	socket string
	done   chan error
	cancel context.CancelFunc
}

func newEnv(t *testing.T, tweak ...func(*config.Config, *Server)) *testEnv {
	t.Helper()

	// Unix socket paths are length-limited, so keep them out of t.TempDir.
	sockDir, err := os.MkdirTemp("", "canvas")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Socket = filepath.Join(sockDir, "d.sock")
	cfg.Browser.BackoffMs = 0

	env := &testEnv{
		driver: browsertest.NewDriver(browser.Viewport{Width: 64, Height: 48}),
		fs:     afero.NewMemMapFs(),
		socket: cfg.Socket,
		done:   make(chan error, 1),
	}
	env.srv, err = New(Options{
		Config:  cfg,
		Driver:  env.driver,
		Fs:      env.fs,
		Logger:  logging.Discard(),
		Version: "test",
		Cwd:     projectDir,
	})
	require.NoError(t, err)
	for _, fn := range tweak {
		fn(cfg, env.srv)
	}

	ln, err := Listen(cfg.Socket)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	go func() { env.done <- env.srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-env.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return env
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	r      *bufio.Reader
	seq    atomic.Int64
	events chan protocol.Event
	resps  chan protocol.Response
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", e.socket)
	require.NoError(t, err)
	c := &testClient{
		t:      t,
		conn:   conn,
		r:      bufio.NewReader(conn),
		events: make(chan protocol.Event, 64),
		resps:  make(chan protocol.Response, 64),
	}
	go c.readLoop()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *testClient) readLoop() {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			close(c.resps)
			return
		}
		var probe struct {
			Event string `json:"event"`
		}
		_ = json.Unmarshal(line, &probe)
		if probe.Event != "" {
			var ev protocol.Event
			if json.Unmarshal(line, &ev) == nil {
				c.events <- ev
			}
			continue
		}
		var resp protocol.Response
		if json.Unmarshal(line, &resp) == nil {
			c.resps <- resp
		}
	}
}

func (c *testClient) writeLine(s string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(s + "\n"))
	require.NoError(c.t, err)
}

// await returns the next response with id, skipping others.
func (c *testClient) await(id string) protocol.Response {
	c.t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case resp, ok := <-c.resps:
			require.True(c.t, ok, "connection closed waiting for %s", id)
			if resp.ID == id {
				return resp
			}
		case <-timeout:
			c.t.Fatalf("no response for %s", id)
		}
	}
}

func (c *testClient) callMeta(method string, params any, meta protocol.Meta) protocol.Response {
	c.t.Helper()
	id := fmt.Sprintf("req-%d", c.seq.Add(1))
	req := map[string]any{"id": id, "method": method, "meta": meta}
	if params != nil {
		req["params"] = params
	}
	line, err := json.Marshal(req)
	require.NoError(c.t, err)
	c.writeLine(string(line))
	return c.await(id)
}

func (c *testClient) call(method string, params any) protocol.Response {
	c.t.Helper()
	return c.callMeta(method, params, protocol.Meta{Cwd: projectDir, ProtocolVersion: protocol.Version})
}

func (c *testClient) ok(method string, params any) map[string]any {
	c.t.Helper()
	resp := c.call(method, params)
	require.True(c.t, resp.OK, "%s failed: %+v", method, resp.Error)
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(resp.Result, &out))
	return out
}

func (c *testClient) fail(method string, params any) *protocol.Error {
	c.t.Helper()
	resp := c.call(method, params)
	require.False(c.t, resp.OK, "%s unexpectedly succeeded", method)
	require.NotNil(c.t, resp.Error)
	return resp.Error
}

func (c *testClient) connect() {
	c.t.Helper()
	c.ok(protocol.MethodConnect, map[string]any{"url": "http://localhost:3000", "viewport": testViewport})
}

func (c *testClient) nextEvent(typ string) protocol.Event {
	c.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.events:
			if ev.Event == typ {
				return ev
			}
		case <-timeout:
			c.t.Fatalf("no %s event", typ)
		}
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	c.writeLine("{not json")
	resp := c.await(protocol.UnknownID)
	assert.False(t, resp.OK)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)

	out := c.ok(protocol.MethodPing, nil)
	assert.Equal(t, true, out["pong"])
}

func TestMissingMethod(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	c.writeLine(`{"id":"abc"}`)
	resp := c.await("abc")
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMissingParam, resp.Error.Code)
	assert.Equal(t, "method", resp.Error.Data.Param)
}

func TestOversizedFrameKeepsConnection(t *testing.T) {
	env := newEnv(t, func(cfg *config.Config, _ *Server) { cfg.MaxFrameBytes = 1024 })
	c := env.dial(t)

	c.writeLine(`{"id":"big","method":"ping","params":{"pad":"` + strings.Repeat("x", 4096) + `"}}`)
	resp := c.await(protocol.UnknownID)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)

	c.ok(protocol.MethodPing, nil)
}

func TestOversizedFrameAcrossReadsGetsOneResponse(t *testing.T) {
	env := newEnv(t, func(cfg *config.Config, _ *Server) { cfg.MaxFrameBytes = 1024 })
	c := env.dial(t)

	// Larger than the listener's read buffer, so the line spans several reads.
	c.writeLine(`{"id":"big","method":"ping","params":{"pad":"` + strings.Repeat("x", 300<<10) + `"}}`)
	c.writeLine(`{"id":"after","method":"ping"}`)

	var rejected int
	timeout := time.After(10 * time.Second)
	for {
		select {
		case resp, ok := <-c.resps:
			require.True(t, ok, "connection closed")
			if resp.ID == protocol.UnknownID {
				assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
				rejected++
				continue
			}
			require.Equal(t, "after", resp.ID)
			assert.True(t, resp.OK)
			assert.Equal(t, 1, rejected)
			return
		case <-timeout:
			t.Fatal("no response for the request after the oversized one")
		}
	}
}

func TestVersionCheckedPerRequest(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	resp := c.callMeta(protocol.MethodPing, nil, protocol.Meta{ProtocolVersion: "2.0.0"})
	require.False(t, resp.OK)
	assert.Equal(t, protocol.CodeVersionMismatch, resp.Error.Code)
	assert.Contains(t, resp.Error.Data.Suggestion, protocol.Version)

	resp = c.callMeta(protocol.MethodPing, nil, protocol.Meta{ProtocolVersion: "1.0.7"})
	assert.True(t, resp.OK)

	resp = c.callMeta(protocol.MethodPing, nil, protocol.Meta{})
	assert.True(t, resp.OK)

	resp = c.callMeta(protocol.MethodPing, nil, protocol.Meta{ProtocolVersion: "banana"})
	require.False(t, resp.OK)
	assert.Equal(t, protocol.CodeVersionMismatch, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	e := c.fail("teleport", nil)
	assert.Equal(t, protocol.CodeUnknownMethod, e.Code)
	assert.Contains(t, e.Message, "teleport")
}

func TestCapabilitiesNeedASession(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	for _, m := range []string{protocol.MethodScreenshotViewport, protocol.MethodDescribe, protocol.MethodDiff} {
		e := c.fail(m, nil)
		assert.Equal(t, protocol.CodePageNotReady, e.Code, m)
		assert.Contains(t, e.Data.Suggestion, "connect", m)
	}
}

func TestValidationComesFirst(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	tests := []struct {
		method string
		params any
		code   int
		param  string
	}{
		{protocol.MethodConnect, map[string]any{}, protocol.CodeMissingParam, "url"},
		{protocol.MethodConnect, map[string]any{"url": 5}, protocol.CodeInvalidParam, "url"},
		{protocol.MethodConnect, map[string]any{"url": "http://x", "engine": "netscape"}, protocol.CodeInvalidParam, "engine"},
		{protocol.MethodStyles, map[string]any{}, protocol.CodeMissingParam, "selector"},
		{protocol.MethodScreenshotElement, map[string]any{}, protocol.CodeMissingParam, "selector"},
		{protocol.MethodExecute, map[string]any{}, protocol.CodeMissingParam, "code"},
		{protocol.MethodDOM, map[string]any{"depth": -1}, protocol.CodeInvalidParam, "depth"},
		{protocol.MethodDOM, map[string]any{"depth": 0}, protocol.CodeInvalidParam, "depth"},
		{protocol.MethodDiff, map[string]any{"threshold": 1.5}, protocol.CodeInvalidParam, "threshold"},
		{protocol.MethodDiff, map[string]any{"since": "yesterday-ish"}, protocol.CodeInvalidParam, "since"},
		{protocol.MethodA11y, map[string]any{"level": "AAAA"}, protocol.CodeInvalidParam, "level"},
		{protocol.MethodWatchConfigure, map[string]any{"quietWindowMs": 0}, protocol.CodeInvalidParam, "quietWindowMs"},
		{protocol.MethodWatchUnsubscribe, map[string]any{}, protocol.CodeMissingParam, "subscription"},
	}
	for _, tt := range tests {
		e := c.fail(tt.method, tt.params)
		assert.Equal(t, tt.code, e.Code, "%s %v", tt.method, tt.params)
		assert.Equal(t, tt.param, e.Data.Param, "%s %v", tt.method, tt.params)
		assert.False(t, e.Data.Retryable)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()

	first := c.ok(protocol.MethodDisconnect, nil)
	second := c.ok(protocol.MethodDisconnect, nil)
	assert.Equal(t, map[string]any{"disconnected": true}, first)
	assert.Equal(t, first, second)

	status := c.ok(protocol.MethodStatus, nil)
	assert.Equal(t, false, status["connected"])
	assert.Nil(t, status["connectedUrl"])
}

func TestConnectScreenshotDiffRoundTrip(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()

	status := c.ok(protocol.MethodStatus, nil)
	assert.Equal(t, "http://localhost:3000", status["connectedUrl"])

	shot := c.ok(protocol.MethodScreenshotViewport, nil)
	assert.EqualValues(t, 64, shot["width"])
	assert.EqualValues(t, 48, shot["height"])
	path := shot["path"].(string)
	assert.True(t, strings.HasPrefix(path, filepath.Join(projectDir, ".canvas", "screenshots")))
	exists, err := afero.Exists(env.fs, path)
	require.NoError(t, err)
	assert.True(t, exists)

	first := c.ok(protocol.MethodDiff, map[string]any{"threshold": 0.1})
	assert.Equal(t, false, first["baselineInitialized"])
	assert.EqualValues(t, 0, first["mismatchedPixels"])

	second := c.ok(protocol.MethodDiff, map[string]any{"threshold": 0.1})
	assert.EqualValues(t, 0, second["mismatchedPixels"])
	assert.Empty(t, second["regions"])
}

func TestFirstDiffInitializesBaseline(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()

	out := c.ok(protocol.MethodDiff, nil)
	assert.Equal(t, true, out["baselineInitialized"])
	assert.EqualValues(t, 0.1, out["threshold"])
}

func TestDimensionMismatchSuggestionRecovers(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()
	env.driver.Page.AddElement("#card", &browsertest.Element{Role: "region", Box: browser.Rect{X: 4, Y: 4, Width: 8, Height: 8}})

	c.ok(protocol.MethodDiff, nil)
	c.ok(protocol.MethodDiff, nil)

	// Retrying alone resolves the same viewport-sized baseline every time.
	for i := 0; i < 2; i++ {
		e := c.fail(protocol.MethodDiff, map[string]any{"selector": "#card"})
		assert.Equal(t, protocol.CodeDimensionMismatch, e.Code)
		assert.Contains(t, e.Data.Suggestion, diff.PointerFile)
	}

	require.NoError(t, env.fs.Remove(filepath.Join(projectDir, diff.PointerFile)))
	out := c.ok(protocol.MethodDiff, map[string]any{"selector": "#card"})
	assert.Equal(t, false, out["baselineInitialized"])
	assert.EqualValues(t, 0, out["mismatchedPixels"])
}

func TestDiffSinceBeforeEveryCapture(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()
	c.ok(protocol.MethodDiff, nil)

	e := c.fail(protocol.MethodDiff, map[string]any{"since": "2020-01-01"})
	assert.Equal(t, protocol.CodeFileNotFound, e.Code)
	assert.Equal(t, "since", e.Data.Param)
}

func TestConnectWatchFailureDisconnects(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	e := c.fail(protocol.MethodConnect, map[string]any{
		"url":        "http://localhost:3000",
		"watchPaths": []string{filepath.Join(t.TempDir(), "missing")},
	})
	assert.Equal(t, protocol.CodeWatchFailed, e.Code)

	status := c.ok(protocol.MethodStatus, nil)
	assert.Equal(t, false, status["connected"])
	e = c.fail(protocol.MethodScreenshotViewport, nil)
	assert.Equal(t, protocol.CodePageNotReady, e.Code)
}

func TestSelectorNotFoundSuggestsAlternatives(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()
	env.driver.Page.AddElement("button", &browsertest.Element{Role: "button", Name: "Save"})

	e := c.fail(protocol.MethodStyles, map[string]any{"selector": ".totally-bogus-xyz"})
	assert.Equal(t, protocol.CodeSelectorNotFound, e.Code)
	assert.Equal(t, "selector", e.Data.Param)
	assert.Contains(t, e.Data.Suggestion, "button")
	assert.False(t, e.Data.Retryable)
}

func TestNavigationFailureIsRetryable(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	env.driver.Page.FailGoto(errors.New("net::ERR_CONNECTION_REFUSED"))

	e := c.fail(protocol.MethodConnect, map[string]any{"url": "http://localhost:1", "viewport": testViewport})
	assert.Equal(t, protocol.CodeNavigationFailed, e.Code)
	assert.True(t, e.Data.Retryable)
}

func TestNavigationTimeoutAfterRetries(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	env.driver.Page.FailGoto(browser.ErrTimeout, browser.ErrTimeout, browser.ErrTimeout)

	e := c.fail(protocol.MethodConnect, map[string]any{"url": "http://localhost:3000", "retries": 2, "viewport": testViewport})
	assert.Equal(t, protocol.CodeNavigationTimeout, e.Code)
	assert.True(t, e.Data.Retryable)
	assert.Contains(t, e.Message, "3 attempt")
}

func TestExecute(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()

	out := c.ok(protocol.MethodExecute, map[string]any{"code": `console.log("hi"); return { url: await page.url() };`})
	assert.Equal(t, map[string]any{"url": "http://localhost:3000"}, out["result"])
	assert.Equal(t, []any{"hi"}, out["logs"])

	e := c.fail(protocol.MethodExecute, map[string]any{"code": "while (true) {}", "timeoutMs": 50})
	assert.Equal(t, protocol.CodeExecuteTimeout, e.Code)
	assert.True(t, e.Data.Retryable)

	e = c.fail(protocol.MethodExecute, map[string]any{"code": `throw new Error("nope")`})
	assert.Equal(t, protocol.CodeExecuteFailed, e.Code)
	assert.Contains(t, e.Message, "nope")
}

func TestDOMAndDescribe(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()
	env.driver.Page.SetAria("- heading \"Welcome\" [level=1]\n- button \"Go\"")

	dom := c.ok(protocol.MethodDOM, nil)
	assert.EqualValues(t, 5, dom["depth"])
	tree := dom["tree"].(map[string]any)
	assert.Equal(t, "region", tree["role"])

	desc := c.ok(protocol.MethodDescribe, nil)
	assert.Contains(t, desc["description"], "A page at (0, 0) sized 64x48.")
}

func TestContextCombinesCaptures(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()
	env.driver.Page.AddElement(".card", &browsertest.Element{
		Role:   "article",
		Box:    browser.Rect{X: 2, Y: 2, Width: 20, Height: 10},
		Styles: map[string]string{"display": "block"},
	})

	out := c.ok(protocol.MethodContext, map[string]any{"selector": ".card"})
	assert.NotNil(t, out["screenshot"])
	assert.NotNil(t, out["description"])
	assert.NotNil(t, out["dom"])
	assert.Equal(t, map[string]any{"display": "block"}, out["styles"])

	e := c.fail(protocol.MethodContext, map[string]any{"selector": ".missing"})
	assert.Equal(t, protocol.CodeSelectorNotFound, e.Code)
}

func TestWatchEventsFanOut(t *testing.T) {
	env := newEnv(t)
	a, b, actor := env.dial(t), env.dial(t), env.dial(t)
	actor.connect()

	subA := a.ok(protocol.MethodWatchSubscribe, nil)
	require.NotEmpty(t, subA["subscription"])
	b.ok(protocol.MethodWatchSubscribe, map[string]any{"events": []string{"screenshot"}})

	shot := actor.ok(protocol.MethodScreenshotViewport, nil)

	for _, c := range []*testClient{a, b} {
		ev := c.nextEvent("screenshot")
		assert.Equal(t, shot["path"], ev.Data["path"])
		assert.NotEmpty(t, ev.Subscription)
	}

	out := a.ok(protocol.MethodWatchUnsubscribe, map[string]any{"subscription": subA["subscription"]})
	assert.Equal(t, true, out["unsubscribed"])
	assert.Equal(t, 1, env.srv.watch.Stats().Subscribers)
}

func TestSubscribeRejectsUnknownEvent(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	e := c.fail(protocol.MethodWatchSubscribe, map[string]any{"events": []string{"earthquake"}})
	assert.Equal(t, protocol.CodeInvalidParam, e.Code)
	assert.Equal(t, "events", e.Data.Param)
}

func TestClosingConnectionDropsSubscribers(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.ok(protocol.MethodWatchSubscribe, nil)
	c.ok(protocol.MethodWatchSubscribe, nil)
	require.Equal(t, 2, env.srv.watch.Stats().Subscribers)

	c.conn.Close()
	assert.Eventually(t, func() bool {
		return env.srv.watch.Stats().Subscribers == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchConfigure(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	out := c.ok(protocol.MethodWatchConfigure, map[string]any{"quietWindowMs": 100, "maxWaitMs": 2000, "liveMaxEntries": 5})
	assert.EqualValues(t, 100, out["quietWindowMs"])
	assert.EqualValues(t, 2000, out["maxWaitMs"])
	assert.EqualValues(t, 5, out["liveMaxEntries"])

	e := c.fail(protocol.MethodWatchConfigure, map[string]any{"paths": []string{"/definitely/not/here"}})
	assert.Equal(t, protocol.CodeWatchFailed, e.Code)
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	env := newEnv(t, func(_ *config.Config, s *Server) {
		s.handlers["boom"] = func(*call) (any, error) { panic("kaboom") }
	})
	c := env.dial(t)

	e := c.fail("boom", nil)
	assert.Equal(t, protocol.CodeInternal, e.Code)
	assert.Contains(t, e.Message, "kaboom")

	c.ok(protocol.MethodPing, nil)
}

func TestConcurrentRequestsOnOneConnection(t *testing.T) {
	env := newEnv(t, func(_ *config.Config, s *Server) {
		s.handlers["slow"] = func(c *call) (any, error) {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-c.ctx.Done():
			}
			return "slow", nil
		}
	})
	c := env.dial(t)

	c.writeLine(`{"id":"s","method":"slow"}`)
	c.writeLine(`{"id":"p","method":"ping"}`)

	first := <-c.resps
	assert.Equal(t, "p", first.ID)
	assert.Equal(t, "s", c.await("s").ID)
}

func TestDaemonStatus(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)

	out := c.ok(protocol.MethodDaemonStatus, nil)
	assert.EqualValues(t, os.Getpid(), out["pid"])
	assert.Equal(t, "test", out["version"])
	assert.Equal(t, protocol.Version, out["protocolVersion"])
	assert.Equal(t, env.socket, out["socket"])
	assert.EqualValues(t, 1, out["connections"])
}

func TestDaemonStopRespondsBeforeShutdown(t *testing.T) {
	env := newEnv(t)
	c := env.dial(t)
	c.connect()

	out := c.ok(protocol.MethodDaemonStop, nil)
	assert.Equal(t, true, out["stopping"])

	select {
	case err := <-env.done:
		assert.NoError(t, err)
		env.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after daemon.stop")
	}
	assert.True(t, env.driver.Closed())

	_, err := net.Dial("unix", env.socket)
	assert.Error(t, err)
}

func TestListenRefusesLiveSocket(t *testing.T) {
	env := newEnv(t)

	_, err := Listen(env.socket)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
