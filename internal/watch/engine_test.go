package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/browser/browsertest"
	"github.com/neboloop/canvas/internal/protocol"
)

type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
	fail   bool
	ch     chan protocol.Event
}

func newSink() *recordingSink { return &recordingSink{ch: make(chan protocol.Event, 64)} }

func (s *recordingSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	s.ch <- ev
	return nil
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Event
	}
	return out
}

func (s *recordingSink) next(t *testing.T, typ string) protocol.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev.Event == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return protocol.Event{}
		}
	}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Sources == nil {
		opts.Sources = []SignalSource{}
	}
	e := NewEngine(opts)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestFanOutToEverySubscriber(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	a, b := newSink(), newSink()
	idA, err := e.Subscribe(a, SubscribeOptions{}, nil)
	require.NoError(t, err)
	idB, err := e.Subscribe(b, SubscribeOptions{}, nil)
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	e.Emit(NewEvent(EventNavigation, map[string]any{"url": "http://x"}))
	assert.Equal(t, []string{EventNavigation}, a.types())
	assert.Equal(t, []string{EventNavigation}, b.types())

	ev := a.events[0]
	assert.Equal(t, idA, ev.Subscription)
	assert.Equal(t, "http://x", ev.Data["url"])
	assert.Equal(t, EventNavigation, ev.Data["type"])
	assert.NotEmpty(t, ev.Data["ts"])

	require.True(t, e.Unsubscribe(idA))
	assert.False(t, e.Unsubscribe(idA))
	e.Emit(NewEvent(EventNavigation, map[string]any{"url": "http://y"}))
	assert.Len(t, a.types(), 1)
	assert.Len(t, b.types(), 2)
}

func TestFailedSinkIsDropped(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	bad, good := newSink(), newSink()
	_, err := e.Subscribe(bad, SubscribeOptions{}, nil)
	require.NoError(t, err)
	_, err = e.Subscribe(good, SubscribeOptions{}, nil)
	require.NoError(t, err)

	bad.setFail(true)
	e.Emit(NewEvent(EventNavigation, nil))
	assert.Equal(t, 1, e.Stats().Subscribers)

	bad.setFail(false)
	e.Emit(NewEvent(EventNavigation, nil))
	assert.Empty(t, bad.types())
	assert.Len(t, good.types(), 2)
}

func TestEventFilter(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{Events: []string{EventUIReady}}, nil)
	require.NoError(t, err)

	e.Emit(NewEvent(EventNavigation, nil))
	assert.Empty(t, s.types())

	_, err = e.Subscribe(s, SubscribeOptions{Events: []string{"bogus"}}, nil)
	assert.Error(t, err)
}

func TestRemoveSinkDropsAllItsSubscriptions(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	s, other := newSink(), newSink()
	for i := 0; i < 3; i++ {
		_, err := e.Subscribe(s, SubscribeOptions{}, nil)
		require.NoError(t, err)
	}
	_, err := e.Subscribe(other, SubscribeOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, e.RemoveSink(s))
	assert.Equal(t, 1, e.Stats().Subscribers)
}

func TestSignalsProduceUIReady(t *testing.T) {
	mock := clock.NewMock()
	e := newTestEngine(t, Options{Clock: mock})
	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{}, nil)
	require.NoError(t, err)

	e.Emit(NewEvent(EventUIChanged, map[string]any{"mutations": 4}))
	e.Emit(NewEvent(EventHMRComplete, map[string]any{"duration_ms": int64(12)}))
	assert.True(t, e.Stats().BurstPending)

	mock.Add(DefaultQuietWindow)
	ev := s.next(t, EventUIReady)
	assert.Equal(t, ReasonQuiet, ev.Data["reason"])
	assert.Equal(t, 2, ev.Data["signals"])
	assert.Equal(t, int64(250), ev.Data["burst_ms"])

	// Non-signal events never start a burst.
	e.Emit(NewEvent(EventNavigation, nil))
	assert.False(t, e.Stats().BurstPending)
}

func TestHMRStartAloneLeavesEngineIdle(t *testing.T) {
	mock := clock.NewMock()
	e := newTestEngine(t, Options{Clock: mock})
	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{}, nil)
	require.NoError(t, err)

	e.Emit(NewEvent(EventHMRStart, map[string]any{"duration_ms": int64(0)}))
	assert.False(t, e.Stats().BurstPending)
	mock.Add(DefaultQuietWindow)
	assert.Equal(t, []string{EventHMRStart}, s.types())

	// The build finishes: only now does the quiet window run.
	e.Emit(NewEvent(EventHMRComplete, map[string]any{"duration_ms": int64(300)}))
	assert.True(t, e.Stats().BurstPending)
	mock.Add(DefaultQuietWindow)
	ev := s.next(t, EventUIReady)
	assert.Equal(t, ReasonQuiet, ev.Data["reason"])
}

func TestConfigureUpdatesWindows(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	quiet, maxWait, interval := 100*time.Millisecond, 2*time.Second, 5
	cfg, err := e.Configure(ConfigUpdate{QuietWindow: &quiet, MaxWait: &maxWait, LiveIntervalSec: &interval})
	require.NoError(t, err)
	assert.Equal(t, int64(100), cfg.QuietWindowMs)
	assert.Equal(t, int64(2000), cfg.MaxWaitMs)
	assert.Equal(t, 5, cfg.LiveIntervalSec)

	q, m := e.debouncer.Windows()
	assert.Equal(t, quiet, q)
	assert.Equal(t, maxWait, m)
}

func TestConfigureBadPathFails(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	_, err := e.Configure(ConfigUpdate{Paths: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}

func TestLiveCaptureLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := browsertest.NewPage(browser.Viewport{Width: 8, Height: 8})
	e := NewEngine(Options{
		Clock:   clock.NewMock(),
		Sources: []SignalSource{},
		Pages:   func() (browser.Page, error) { return page, nil },
	})
	store := artifact.NewStore(afero.NewMemMapFs(), "/proj")

	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{Live: true}, nil)
	require.Error(t, err, "live needs a store")

	id, err := e.Subscribe(s, SubscribeOptions{Live: true}, store)
	require.NoError(t, err)
	assert.True(t, e.Stats().LiveRunning)
	assert.Equal(t, 1, e.Stats().LiveSubscribers)

	require.True(t, e.Unsubscribe(id))
	assert.False(t, e.Stats().LiveRunning)
	require.NoError(t, e.Close())
}

func TestLiveCaptureFollowsConcurrentSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewEngine(Options{Clock: clock.NewMock(), Sources: []SignalSource{}})
	store := artifact.NewStore(afero.NewMemMapFs(), "/proj")

	held, err := e.Subscribe(newSink(), SubscribeOptions{Live: true}, store)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := e.Subscribe(newSink(), SubscribeOptions{Live: true}, store)
				if !assert.NoError(t, err) {
					return
				}
				e.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()
	assert.True(t, e.Stats().LiveRunning, "a live subscriber is still registered")

	interval := 7
	_, err = e.Configure(ConfigUpdate{LiveIntervalSec: &interval})
	require.NoError(t, err)
	assert.True(t, e.Stats().LiveRunning)

	require.True(t, e.Unsubscribe(held))
	assert.False(t, e.Stats().LiveRunning)
	require.NoError(t, e.Close())
}

func TestLiveCaptureWritesAndPrunes(t *testing.T) {
	page := browsertest.NewPage(browser.Viewport{Width: 8, Height: 8})
	e := newTestEngine(t, Options{
		Clock: clock.NewMock(),
		Pages: func() (browser.Page, error) { return page, nil },
	})
	store := artifact.NewStore(afero.NewMemMapFs(), "/proj")
	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{Events: []string{EventScreenshot}}, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, e.live.capture(context.Background(), store, 2))
	}
	left, err := store.LiveCaptures()
	require.NoError(t, err)
	assert.Len(t, left, 2)

	ev := s.next(t, EventScreenshot)
	assert.Equal(t, 0, ev.Data["index"])
	assert.Contains(t, ev.Data["path"], "-000000.png")
}

func TestLiveCaptureWithoutPage(t *testing.T) {
	e := newTestEngine(t, Options{Clock: clock.NewMock()})
	err := e.live.capture(context.Background(), artifact.NewStore(afero.NewMemMapFs(), "/p"), 5)
	assert.ErrorIs(t, err, browser.ErrNotConnected)
}

func TestFileWatcherEmitsFileChanged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	e := newTestEngine(t, Options{Clock: clock.NewMock(), Config: Config{Settle: 20 * time.Millisecond}})
	s := newSink()
	_, err := e.Subscribe(s, SubscribeOptions{Events: []string{EventFileChanged}}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Watch([]string{dir}))
	assert.Equal(t, []string{dir}, e.Stats().Paths)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "dep.js"), []byte("x"), 0o644))
	target := filepath.Join(dir, "src", "app.js")
	require.NoError(t, os.WriteFile(target, []byte("console.log(1)"), 0o644))

	ev := s.next(t, EventFileChanged)
	assert.Equal(t, target, ev.Data["path"])
	assert.Contains(t, []any{"create", "write"}, ev.Data["kind"])

	require.NoError(t, e.Watch(nil))
}
