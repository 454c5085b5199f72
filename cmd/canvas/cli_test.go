package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/browser/browsertest"
	"github.com/neboloop/canvas/internal/config"
	"github.com/neboloop/canvas/internal/daemon"
	"github.com/neboloop/canvas/internal/logging"
	"github.com/neboloop/canvas/internal/protocol"
)

// serveTestDaemon serves a fake-browser daemon on a temporary socket.
func serveTestDaemon(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "canvas")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Socket = filepath.Join(dir, "d.sock")
	cfg.Browser.BackoffMs = 0

	srv, err := daemon.New(daemon.Options{
		Config:  cfg,
		Driver:  browsertest.NewDriver(browser.Viewport{Width: 64, Height: 48}),
		Fs:      afero.NewMemMapFs(),
		Logger:  logging.Discard(),
		Version: "test",
	})
	require.NoError(t, err)
	ln, err := daemon.Listen(cfg.Socket)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return cfg.Socket
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := SetupRootCmd(config.DefaultConfig())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := SetupRootCmd(config.DefaultConfig())
	for _, path := range [][]string{
		{"daemon", "run"}, {"daemon", "start"}, {"daemon", "stop"}, {"daemon", "status"},
		{"connect"}, {"screenshot"}, {"execute"}, {"diff"},
		{"watch", "configure"}, {"viewer", "start"}, {"doctor"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestCommandsAgainstDaemon(t *testing.T) {
	sock := serveTestDaemon(t)

	out, err := run(t, "", "--socket", sock, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong (daemon test, protocol "+protocol.Version+")\n", out)

	out, err = run(t, "", "--socket", sock, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not connected")

	out, err = run(t, "", "--socket", sock, "connect", "http://localhost:3000", "--width", "64", "--height", "48")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:3000 (chromium, headless, 64x48)")

	out, err = run(t, "return 1 + 1", "--socket", sock, "execute", "-")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, "", "--socket", sock, "--json", "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, true, st["connected"])

	_, err = run(t, "", "--socket", sock, "styles", ".missing")
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.CodeSelectorNotFound, pe.Code)
}

func TestNoDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("", "canvas")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = run(t, "", "--socket", filepath.Join(dir, "none.sock"), "ping")
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.CodeDaemonNotRunning, pe.Code)
	assert.Contains(t, FormatError(err), "canvas daemon start")
}

func TestExecuteNeedsCode(t *testing.T) {
	_, err := run(t, "", "--socket", "/nonexistent", "execute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file")
}

func TestFormatError(t *testing.T) {
	jsonOutput = false
	err := protocol.NewError(protocol.CodeNavigationTimeout, "navigation timed out",
		protocol.WithParam("url"), protocol.WithSuggestion("is the dev server running?"))

	got := FormatError(err)
	assert.Equal(t, "Error 2001 (browser): navigation timed out\n"+
		"  param: url\n"+
		"  suggestion: is the dev server running?\n"+
		"  (retryable)", got)

	assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))

	jsonOutput = true
	defer func() { jsonOutput = false }()
	var env struct {
		OK    bool           `json:"ok"`
		Error protocol.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(FormatError(err)), &env))
	assert.False(t, env.OK)
	assert.Equal(t, protocol.CodeNavigationTimeout, env.Error.Code)
}

func TestPrinters(t *testing.T) {
	jsonOutput = false
	var b bytes.Buffer

	require.NoError(t, printDiff(&b, json.RawMessage(`{"baselineInitialized":true,"baselinePath":".canvas/screenshots/a.png"}`)))
	assert.Equal(t, "baseline initialized: .canvas/screenshots/a.png\n", b.String())

	b.Reset()
	require.NoError(t, printDOM(&b, json.RawMessage(`{"tree":{"role":"document","children":[{"role":"heading","name":"Hi","level":1}]}}`)))
	assert.Equal(t, "- document\n  - heading \"Hi\" [level=1]\n", b.String())

	b.Reset()
	require.NoError(t, printStyles(&b, json.RawMessage(`{"styles":{"color":"red","align-items":"center"}}`)))
	assert.Equal(t, "align-items: center\ncolor: red\n", b.String())

	b.Reset()
	ev := protocol.Event{Event: "watch", Subscription: "s1", Data: map[string]any{
		"type": "file_change", "ts": "2026-01-02T03:04:05Z", "path": "src/app.tsx", "kind": "write",
	}}
	require.NoError(t, printEvent(&b, ev))
	assert.Equal(t, "2026-01-02T03:04:05Z watch         kind=write path=src/app.tsx\n", b.String())
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", formatUptime(42_000))
	assert.Equal(t, "2m05s", formatUptime(125_000))
	assert.Equal(t, "1h01m", formatUptime(3_660_000))
}
