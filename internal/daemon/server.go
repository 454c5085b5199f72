// Package daemon is the canvas daemon: a unix-socket server that owns the
// browser session and answers newline-delimited JSON requests.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"github.com/neboloop/canvas/internal/a11y"
	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/config"
	"github.com/neboloop/canvas/internal/diff"
	"github.com/neboloop/canvas/internal/script"
	"github.com/neboloop/canvas/internal/viewer"
	"github.com/neboloop/canvas/internal/watch"
)

// Options wires a Server. Only Config and Driver are required.
type Options struct {
	Config  *config.Config
	Driver  browser.Driver
	Fs      afero.Fs
	Clock   clock.Clock
	Logger  *slog.Logger
	Version string
	// Cwd is the project directory used when a request carries no meta.cwd.
	Cwd string
}

// Server is the daemon context. Every handler reaches shared state through
// it; there are no package-level singletons.
type Server struct {
	cfg     *config.Config
	fs      afero.Fs
	logger  *slog.Logger
	version string
	cwd     string
	started time.Time

	driver  browser.Driver
	manager *browser.Manager
	watch   *watch.Engine
	diff    *diff.Engine
	a11y    *a11y.Scanner
	runner  *script.Runner
	viewer  *viewer.Server

	handlers map[string]handlerFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	cancel   context.CancelFunc
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New builds a server. Nothing listens until Serve or ListenAndServe.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if opts.Driver == nil {
		return nil, errors.New("daemon: browser driver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:     opts.Config,
		fs:      fsys,
		logger:  logger.With("component", "daemon"),
		version: version,
		cwd:     cwd,
		started: time.Now(),
		driver:  opts.Driver,
		manager: browser.NewManager(opts.Driver, logger),
		diff:    diff.NewEngine(logger),
		a11y:    a11y.NewScanner(fsys, opts.Config.A11y.AxePath, logger).WithURL(opts.Config.A11y.AxeURL),
		runner:  script.NewRunner(logger),
		conns:   make(map[*conn]struct{}),
	}
	s.watch = watch.NewEngine(watch.Options{
		Clock:  opts.Clock,
		Pages:  s.manager.Page,
		Logger: logger,
		Config: opts.Config.WatchEngineConfig(),
	})
	s.viewer = viewer.New(s.watch, logger)
	s.handlers = s.routes()
	return s, nil
}

// ListenAndServe binds the configured unix socket and serves until ctx is
// cancelled or daemon.stop is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := Listen(s.cfg.SocketPath())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Listen binds a unix socket at path, removing a stale socket file first and
// restricting it to the current user.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if c, err := net.DialTimeout("unix", path, 500*time.Millisecond); err == nil {
			c.Close()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// ErrAlreadyRunning means another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("daemon already running")

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, then releases the browser and watchers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("listening", "socket", ln.Addr().String(), "version", s.version)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var err error
	for {
		nc, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("accept: %w", aerr)
			}
			break
		}
		c := newConn(nc)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, c)
		}()
	}

	s.closeConns()
	s.wg.Wait()
	if cerr := s.Close(); cerr != nil {
		s.logger.Warn("shutdown", "error", cerr)
	}
	s.logger.Info("stopped")
	return err
}

// Shutdown stops accepting and makes Serve return. In-flight requests on
// open connections are abandoned.
func (s *Server) Shutdown() {
	s.stopping.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close releases the viewer, watchers and browser. Serve calls it on exit.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(
		s.viewer.Stop(ctx),
		s.watch.Close(),
		s.manager.Close(),
	)
}

// store returns the artifact store for the request's project directory.
func (s *Server) store(c *call) *artifact.Store {
	root := c.req.Meta.Cwd
	if root == "" {
		root = s.cwd
	}
	return artifact.NewStore(s.fs, root)
}

// resolvePath makes p absolute against the request's project directory.
func (s *Server) resolvePath(c *call, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	root := c.req.Meta.Cwd
	if root == "" {
		root = s.cwd
	}
	return filepath.Join(root, p)
}
