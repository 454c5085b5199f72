package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
)

// Live capture defaults.
const (
	DefaultLiveIntervalSec = 2
	DefaultLiveMaxEntries  = 50
)

// PageFunc returns the current page or an error when there is none.
type PageFunc func() (browser.Page, error)

// liveCapture periodically screenshots the page into .canvas/live while at
// least one live subscriber exists.
type liveCapture struct {
	pages  PageFunc
	emit   func(Event)
	logger *slog.Logger

	mu         sync.Mutex
	cron       *cronlib.Cron
	entryID    cronlib.EntryID
	store      *artifact.Store
	intervalS  int
	maxEntries int
	index      int
	busy       bool
}

func newLiveCapture(pages PageFunc, emit func(Event), logger *slog.Logger) *liveCapture {
	return &liveCapture{
		pages:      pages,
		emit:       emit,
		logger:     logger,
		intervalS:  DefaultLiveIntervalSec,
		maxEntries: DefaultLiveMaxEntries,
	}
}

// configure updates the schedule settings and reports whether a running job
// must be restarted to pick up a new interval.
func (l *liveCapture) configure(intervalSec, maxEntries int) (restart bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	restart = l.cron != nil && intervalSec > 0 && intervalSec != l.intervalS
	if intervalSec > 0 {
		l.intervalS = intervalSec
	}
	if maxEntries > 0 {
		l.maxEntries = maxEntries
	}
	return restart
}

func (l *liveCapture) setStore(s *artifact.Store) {
	if s == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
}

// start schedules the capture job. It is a no-op when already running.
func (l *liveCapture) start(store *artifact.Store) error {
	l.setStore(store)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return nil
	}
	c := cronlib.New(cronlib.WithSeconds())
	id, err := c.AddFunc(fmt.Sprintf("@every %ds", l.intervalS), l.tick)
	if err != nil {
		return fmt.Errorf("schedule live capture: %w", err)
	}
	c.Start()
	l.cron, l.entryID = c, id
	l.logger.Info("live capture started", "interval_s", l.intervalS)
	return nil
}

// stop unschedules the job without waiting for an in-flight capture.
func (l *liveCapture) stop() {
	l.mu.Lock()
	c, id := l.cron, l.entryID
	l.cron = nil
	l.mu.Unlock()
	if c == nil {
		return
	}
	c.Remove(id)
	c.Stop()
	l.logger.Info("live capture stopped")
}

func (l *liveCapture) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cron != nil
}

func (l *liveCapture) tick() {
	l.mu.Lock()
	if l.busy || l.store == nil {
		l.mu.Unlock()
		return
	}
	l.busy = true
	store, max := l.store, l.maxEntries
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}()

	if err := l.capture(context.Background(), store, max); err != nil {
		l.logger.Debug("live capture skipped", "error", err)
	}
}

func (l *liveCapture) capture(ctx context.Context, store *artifact.Store, max int) error {
	page, err := l.pages()
	if err != nil {
		return err
	}
	data, err := page.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		return err
	}

	l.mu.Lock()
	idx := l.index
	l.index++
	l.mu.Unlock()

	path, err := store.WriteLive(idx, data)
	if err != nil {
		return err
	}
	if _, err := store.PruneLive(max); err != nil {
		l.logger.Warn("prune live captures", "error", err)
	}
	l.emit(NewEvent(EventScreenshot, map[string]any{"path": path, "index": idx}))
	return nil
}
