package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
)

// Config is the engine's tunable state.
type Config struct {
	QuietWindow     time.Duration `json:"-"`
	MaxWait         time.Duration `json:"-"`
	QuietWindowMs   int64         `json:"quietWindowMs"`
	MaxWaitMs       int64         `json:"maxWaitMs"`
	Ignore          []string      `json:"ignore"`
	Settle          time.Duration `json:"-"`
	LiveIntervalSec int           `json:"liveIntervalSec"`
	LiveMaxEntries  int           `json:"liveMaxEntries"`
	Paths           []string      `json:"paths"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		QuietWindow:     DefaultQuietWindow,
		MaxWait:         DefaultMaxWait,
		Ignore:          append([]string{}, DefaultIgnore...),
		Settle:          DefaultSettle,
		LiveIntervalSec: DefaultLiveIntervalSec,
		LiveMaxEntries:  DefaultLiveMaxEntries,
		Paths:           []string{},
	}
}

func (c Config) withMillis() Config {
	c.QuietWindowMs = c.QuietWindow.Milliseconds()
	c.MaxWaitMs = c.MaxWait.Milliseconds()
	c.Ignore = append([]string{}, c.Ignore...)
	c.Paths = append([]string{}, c.Paths...)
	return c
}

// ConfigUpdate changes selected settings; nil fields are left alone.
type ConfigUpdate struct {
	QuietWindow     *time.Duration
	MaxWait         *time.Duration
	Ignore          []string
	LiveIntervalSec *int
	LiveMaxEntries  *int
	Paths           []string
}

// Options configures NewEngine.
type Options struct {
	Clock   clock.Clock
	Pages   PageFunc
	Sources []SignalSource
	Logger  *slog.Logger
	Config  Config
}

// Stats is a snapshot of engine state for status reporting.
type Stats struct {
	Subscribers     int      `json:"subscribers"`
	LiveSubscribers int      `json:"liveSubscribers"`
	LiveRunning     bool     `json:"liveRunning"`
	BurstPending    bool     `json:"burstPending"`
	Paths           []string `json:"paths"`
}

// Engine owns subscribers, the readiness debouncer, the file watcher and the
// live capture job.
type Engine struct {
	logger    *slog.Logger
	hub       *hub
	debouncer *Debouncer
	live      *liveCapture
	sources   []SignalSource

	mu  sync.Mutex
	cfg Config
	fs  *FSWatcher
}

// NewEngine returns an engine with no subscribers and no file watcher.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watch")

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = def.QuietWindow
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.Ignore == nil {
		cfg.Ignore = def.Ignore
	}
	if cfg.Settle <= 0 {
		cfg.Settle = def.Settle
	}
	if cfg.LiveIntervalSec <= 0 {
		cfg.LiveIntervalSec = def.LiveIntervalSec
	}
	if cfg.LiveMaxEntries <= 0 {
		cfg.LiveMaxEntries = def.LiveMaxEntries
	}
	if cfg.Paths == nil {
		cfg.Paths = []string{}
	}

	sources := opts.Sources
	if sources == nil {
		sources = DefaultSources()
	}
	pages := opts.Pages
	if pages == nil {
		pages = func() (browser.Page, error) { return nil, browser.ErrNotConnected }
	}

	e := &Engine{
		logger:  logger,
		hub:     newHub(logger),
		sources: sources,
		cfg:     cfg,
	}
	e.debouncer = NewDebouncer(opts.Clock, cfg.QuietWindow, cfg.MaxWait, e.ready)
	e.live = newLiveCapture(pages, e.Emit, logger)
	e.live.configure(cfg.LiveIntervalSec, cfg.LiveMaxEntries)
	e.hub.onLiveChange = e.liveChanged
	return e
}

// Subscribe registers sink. store is where live captures are written and is
// only needed when opts.Live is set.
func (e *Engine) Subscribe(sink Sink, opts SubscribeOptions, store *artifact.Store) (string, error) {
	for _, t := range opts.Events {
		if !IsEventType(t) {
			return "", fmt.Errorf("unknown event type %q", t)
		}
	}
	if opts.Live {
		if store == nil {
			return "", errors.New("live capture needs an artifact store")
		}
		e.live.setStore(store)
	}
	id := e.hub.add(sink, opts)
	e.logger.Debug("subscribed", "subscription", id, "live", opts.Live)
	return id, nil
}

// Unsubscribe removes one subscription.
func (e *Engine) Unsubscribe(id string) bool {
	return e.hub.remove(id)
}

// RemoveSink drops every subscription bound to sink.
func (e *Engine) RemoveSink(sink Sink) int {
	return e.hub.removeSink(sink)
}

// Emit fans ev out to subscribers. Readiness signals also feed the debouncer.
func (e *Engine) Emit(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	e.hub.emit(ev)
	switch {
	case startsBurst(ev.Type):
		e.debouncer.Signal()
	case extendsBurst(ev.Type):
		e.debouncer.Extend()
	}
}

func (e *Engine) ready(r Ready) {
	e.hub.emit(NewEvent(EventUIReady, map[string]any{
		"reason":   r.Reason,
		"burst_ms": r.Burst.Milliseconds(),
		"signals":  r.Signals,
	}))
}

func (e *Engine) liveChanged(live int) {
	if live == 0 {
		e.live.stop()
		return
	}
	if err := e.live.start(nil); err != nil {
		e.logger.Warn("live capture", "error", err)
	}
}

// AttachPage installs every signal source on page. A failing source is
// logged and skipped so the others still report.
func (e *Engine) AttachPage(ctx context.Context, page browser.Page) error {
	var errs []error
	for _, src := range e.sources {
		if err := src.Attach(ctx, page, e.Emit); err != nil {
			e.logger.Warn("signal source unavailable", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Watch (re)starts the file watcher on paths. An empty list stops it.
func (e *Engine) Watch(paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Paths = append([]string{}, paths...)
	return e.restartFSLocked()
}

func (e *Engine) restartFSLocked() error {
	if e.fs != nil {
		if err := e.fs.Close(); err != nil {
			e.logger.Debug("closing file watcher", "error", err)
		}
		e.fs = nil
	}
	if len(e.cfg.Paths) == 0 {
		return nil
	}
	w, err := StartFSWatcher(context.Background(), FSOptions{
		Paths:  e.cfg.Paths,
		Ignore: e.cfg.Ignore,
		Settle: e.cfg.Settle,
	}, e.fileChanged, e.logger)
	if err != nil {
		return err
	}
	e.fs = w
	return nil
}

func (e *Engine) fileChanged(path, kind string) {
	e.Emit(NewEvent(EventFileChanged, map[string]any{"path": path, "kind": kind}))
}

// Configure applies u and returns the resulting config. Changing paths or
// the ignore list restarts the file watcher.
func (e *Engine) Configure(u ConfigUpdate) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.QuietWindow != nil {
		e.cfg.QuietWindow = *u.QuietWindow
	}
	if u.MaxWait != nil {
		e.cfg.MaxWait = *u.MaxWait
	}
	e.debouncer.SetWindows(e.cfg.QuietWindow, e.cfg.MaxWait)

	if u.LiveIntervalSec != nil {
		e.cfg.LiveIntervalSec = *u.LiveIntervalSec
	}
	if u.LiveMaxEntries != nil {
		e.cfg.LiveMaxEntries = *u.LiveMaxEntries
	}
	if e.live.configure(e.cfg.LiveIntervalSec, e.cfg.LiveMaxEntries) {
		e.hub.syncLive(func(live int) {
			e.live.stop()
			e.liveChanged(live)
		})
	}

	restart := false
	if u.Ignore != nil {
		e.cfg.Ignore = append([]string{}, u.Ignore...)
		restart = true
	}
	if u.Paths != nil {
		e.cfg.Paths = append([]string{}, u.Paths...)
		restart = true
	}
	if restart {
		if err := e.restartFSLocked(); err != nil {
			return e.cfg.withMillis(), err
		}
	}
	return e.cfg.withMillis(), nil
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.withMillis()
}

// Stats reports subscriber and timer state.
func (e *Engine) Stats() Stats {
	total, live := e.hub.count()
	e.mu.Lock()
	paths := append([]string{}, e.cfg.Paths...)
	e.mu.Unlock()
	return Stats{
		Subscribers:     total,
		LiveSubscribers: live,
		LiveRunning:     e.live.running(),
		BurstPending:    e.debouncer.Pending(),
		Paths:           paths,
	}
}

// Close stops timers, the live job and the file watcher.
func (e *Engine) Close() error {
	e.debouncer.Stop()
	e.live.stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fs == nil {
		return nil
	}
	err := e.fs.Close()
	e.fs = nil
	return err
}
