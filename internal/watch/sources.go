package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/neboloop/canvas/internal/browser"
)

// SignalSource installs one kind of UI-change probe on a page.
type SignalSource interface {
	Name() string
	Attach(ctx context.Context, page browser.Page, emit func(Event)) error
}

// DefaultSources returns the probes attached to every connected page.
func DefaultSources() []SignalSource {
	return []SignalSource{&MutationSource{}, NewHMRSource(), &NavigationSource{}}
}

// uiChangedBinding is the page function the mutation observer calls.
const uiChangedBinding = "__canvasUiChanged"

// mutationObserverScript batches DOM mutations for 250ms inside the page
// before calling the binding with the record count.
const mutationObserverScript = `(() => {
  if (window.__canvasObserver) return;
  let pending = 0;
  let timer = null;
  const flush = () => {
    const n = pending;
    pending = 0;
    timer = null;
    if (typeof window.` + uiChangedBinding + ` === "function") window.` + uiChangedBinding + `(n);
  };
  const start = () => {
    if (window.__canvasObserver) return;
    window.__canvasObserver = new MutationObserver((records) => {
      pending += records.length;
      if (timer) clearTimeout(timer);
      timer = setTimeout(flush, 250);
    });
    window.__canvasObserver.observe(document.documentElement || document, {
      attributes: true, childList: true, subtree: true, characterData: true,
    });
  };
  if (document.documentElement) start();
  else document.addEventListener("DOMContentLoaded", start);
})()`

// MutationSource reports DOM mutations as ui_changed.
type MutationSource struct{}

func (*MutationSource) Name() string { return "mutation" }

func (*MutationSource) Attach(ctx context.Context, page browser.Page, emit func(Event)) error {
	err := page.ExposeFunction(ctx, uiChangedBinding, func(args ...any) any {
		emit(NewEvent(EventUIChanged, map[string]any{"mutations": countArg(args)}))
		return nil
	})
	if err != nil {
		return fmt.Errorf("expose %s: %w", uiChangedBinding, err)
	}
	if err := page.AddInitScript(ctx, mutationObserverScript); err != nil {
		return fmt.Errorf("install mutation observer: %w", err)
	}
	if _, err := page.Evaluate(ctx, mutationObserverScript, nil); err != nil {
		return fmt.Errorf("start mutation observer: %w", err)
	}
	return nil
}

func countArg(args []any) int {
	if len(args) == 0 {
		return 0
	}
	switch v := args[0].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// HMRSource sniffs dev-server websocket traffic for hot-reload progress.
// webpack-hot-middleware, webpack-dev-server and Vite frames are recognized;
// anything else is ignored.
type HMRSource struct {
	now func() time.Time

	mu      sync.Mutex
	started time.Time
}

// NewHMRSource returns a source using the wall clock.
func NewHMRSource() *HMRSource { return &HMRSource{now: time.Now} }

func (*HMRSource) Name() string { return "hmr" }

func (s *HMRSource) Attach(ctx context.Context, page browser.Page, emit func(Event)) error {
	page.OnWebSocketFrame(func(f browser.WebSocketFrame) {
		if f.Sent {
			return
		}
		if ev, ok := s.classify(f.Payload); ok {
			emit(ev)
		}
	})
	return nil
}

type hmrPhase int

const (
	hmrNone hmrPhase = iota
	hmrStart
	hmrDone
)

// classify maps one frame to an hmr event.
func (s *HMRSource) classify(payload []byte) (Event, bool) {
	if !gjson.ValidBytes(payload) {
		return Event{}, false
	}
	msg := gjson.ParseBytes(payload)

	phase, source := hmrNone, ""
	switch msg.Get("action").String() {
	case "building":
		phase, source = hmrStart, "webpack"
	case "built", "sync":
		phase, source = hmrDone, "webpack"
	}
	if phase == hmrNone {
		switch msg.Get("type").String() {
		case "invalid":
			phase, source = hmrStart, "webpack"
		case "ok", "still-ok":
			phase, source = hmrDone, "webpack"
		case "update", "full-reload":
			phase, source = hmrDone, "vite"
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	switch phase {
	case hmrStart:
		s.started = now
		return Event{Type: EventHMRStart, TS: now, Fields: map[string]any{"source": source, "duration_ms": int64(0)}}, true
	case hmrDone:
		var ms int64
		if !s.started.IsZero() {
			ms = now.Sub(s.started).Milliseconds()
			s.started = time.Time{}
		}
		return Event{Type: EventHMRComplete, TS: now, Fields: map[string]any{"source": source, "duration_ms": ms}}, true
	}
	return Event{}, false
}

// NavigationSource reports main-frame navigations.
type NavigationSource struct{}

func (*NavigationSource) Name() string { return "navigation" }

func (*NavigationSource) Attach(ctx context.Context, page browser.Page, emit func(Event)) error {
	page.OnNavigated(func(url string) {
		emit(NewEvent(EventNavigation, map[string]any{"url": url}))
	})
	return nil
}
