package watch

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Default readiness windows.
const (
	DefaultQuietWindow = 250 * time.Millisecond
	DefaultMaxWait     = 5 * time.Second
)

// Reasons a burst ended.
const (
	ReasonQuiet   = "quiet"
	ReasonMaxWait = "max_wait"
)

// Ready describes a finished burst.
type Ready struct {
	Reason  string
	Burst   time.Duration
	Signals int
}

// Debouncer decides when the UI has settled after a burst of signals.
//
// The first signal of a burst arms two timers: a quiet-window timer that every
// later signal restarts, and a max-wait timer that is never restarted. The
// first timer to fire reports Ready and disarms both, returning to idle.
type Debouncer struct {
	clock   clock.Clock
	onReady func(Ready)

	mu         sync.Mutex
	quiet      time.Duration
	maxWait    time.Duration
	quietTimer *clock.Timer
	maxTimer   *clock.Timer
	burstStart time.Time
	signals    int
	gen        uint64
}

// NewDebouncer returns an idle debouncer. A nil clk uses the wall clock.
func NewDebouncer(clk clock.Clock, quiet, maxWait time.Duration, onReady func(Ready)) *Debouncer {
	if clk == nil {
		clk = clock.New()
	}
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Debouncer{clock: clk, quiet: quiet, maxWait: maxWait, onReady: onReady}
}

// SetWindows changes the windows used by the next burst.
func (d *Debouncer) SetWindows(quiet, maxWait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if quiet > 0 {
		d.quiet = quiet
	}
	if maxWait > 0 {
		d.maxWait = maxWait
	}
}

// Windows returns the current quiet window and max wait.
func (d *Debouncer) Windows() (quiet, maxWait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quiet, d.maxWait
}

// Pending reports whether a burst is in progress.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quietTimer != nil
}

// Signal records activity, starting a burst if idle.
func (d *Debouncer) Signal() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.signals++
	if d.quietTimer == nil {
		d.gen++
		gen := d.gen
		d.burstStart = d.clock.Now()
		d.maxTimer = d.clock.AfterFunc(d.maxWait, func() { d.fire(gen, ReasonMaxWait) })
		d.quietTimer = d.clock.AfterFunc(d.quiet, func() { d.fire(gen, ReasonQuiet) })
		return
	}
	gen := d.gen
	d.quietTimer.Stop()
	d.quietTimer = d.clock.AfterFunc(d.quiet, func() { d.fire(gen, ReasonQuiet) })
}

// Extend restarts the quiet window of a pending burst. It does nothing when
// the debouncer is idle.
func (d *Debouncer) Extend() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.quietTimer == nil {
		return
	}
	d.signals++
	gen := d.gen
	d.quietTimer.Stop()
	d.quietTimer = d.clock.AfterFunc(d.quiet, func() { d.fire(gen, ReasonQuiet) })
}

func (d *Debouncer) fire(gen uint64, reason string) {
	d.mu.Lock()
	if gen != d.gen || d.quietTimer == nil {
		d.mu.Unlock()
		return
	}
	ready := Ready{Reason: reason, Burst: d.clock.Now().Sub(d.burstStart), Signals: d.signals}
	d.disarm()
	d.mu.Unlock()

	if d.onReady != nil {
		d.onReady(ready)
	}
}

// Stop cancels any burst without reporting it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarm()
}

// disarm must be called with d.mu held.
func (d *Debouncer) disarm() {
	if d.quietTimer != nil {
		d.quietTimer.Stop()
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
	}
	d.quietTimer, d.maxTimer = nil, nil
	d.signals = 0
	d.gen++
}
