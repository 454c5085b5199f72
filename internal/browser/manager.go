package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionState is the public view of the current session.
type SessionState struct {
	ConnectedURL *string  `json:"connectedUrl"`
	Viewport     Viewport `json:"viewport"`
	WatchPaths   []string `json:"watchPaths"`
	Engine       Engine   `json:"engine"`
	Headless     bool     `json:"headless"`
}

// Manager owns the single browser, context and page triple. Lifecycle
// transitions are serialized; reads of the current page never wait on them.
type Manager struct {
	lifecycle sync.Mutex

	mu      sync.RWMutex
	driver  Driver
	browser Browser
	page    Page
	state   SessionState

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewManager returns a disconnected manager using driver to launch browsers.
func NewManager(driver Driver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		driver: driver,
		logger: logger.With("component", "browser"),
		sleep:  sleepCtx,
		state:  emptyState(),
	}
}

func emptyState() SessionState {
	return SessionState{WatchPaths: []string{}, Engine: DefaultEngine}
}

// Connect tears down any previous page, launching or switching the engine if
// needed, and navigates a fresh page to url. Only timeout-class navigation
// failures are retried, sleeping opts.Backoff between attempts.
func (m *Manager) Connect(ctx context.Context, url string, opts ConnectOptions) (SessionState, error) {
	opts = opts.resolve()
	if !opts.Engine.Valid() {
		return SessionState{}, fmt.Errorf("unsupported engine %q", opts.Engine)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	oldBrowser, oldPage := m.browser, m.page
	m.page = nil
	m.state = emptyState()
	m.mu.Unlock()

	if oldPage != nil {
		if err := oldPage.Close(); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Debug("closing previous page", "error", err)
		}
	}

	br := oldBrowser
	if br != nil && br.Engine() != opts.Engine {
		m.logger.Info("switching engine", "from", br.Engine(), "to", opts.Engine)
		if err := br.Close(); err != nil {
			m.logger.Warn("closing previous browser", "error", err)
		}
		br = nil
	}
	if br == nil {
		launched, err := m.driver.Launch(ctx, opts.Engine, LaunchOptions{Headless: opts.Headless})
		if err != nil {
			m.mu.Lock()
			m.browser = nil
			m.mu.Unlock()
			return SessionState{}, &LaunchError{Engine: opts.Engine, Err: err}
		}
		br = launched
	}
	m.mu.Lock()
	m.browser = br
	m.mu.Unlock()

	page, err := br.NewPage(ctx, opts.Viewport)
	if err != nil {
		return SessionState{}, &LaunchError{Engine: opts.Engine, Err: fmt.Errorf("open page: %w", err)}
	}

	if err := m.navigate(ctx, page, url, opts); err != nil {
		_ = page.Close()
		return SessionState{}, err
	}

	connected := url
	state := SessionState{
		ConnectedURL: &connected,
		Viewport:     opts.Viewport,
		WatchPaths:   append([]string{}, opts.WatchPaths...),
		Engine:       opts.Engine,
		Headless:     opts.Headless,
	}

	m.mu.Lock()
	m.page = page
	m.state = state
	m.mu.Unlock()

	m.logger.Info("connected", "url", url, "engine", opts.Engine)
	return state.clone(), nil
}

func (m *Manager) navigate(ctx context.Context, page Page, url string, opts ConnectOptions) error {
	attempts := opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = page.Goto(ctx, url, opts.Timeout)
		if lastErr == nil {
			return nil
		}
		if !IsTimeout(lastErr) || attempt == attempts {
			return &NavigationError{URL: url, Attempts: attempt, Timeout: IsTimeout(lastErr), Err: lastErr}
		}
		m.logger.Warn("navigation timed out, retrying",
			"url", url,
			"attempt", attempt,
			"of", attempts,
			"backoff", opts.Backoff,
			"error", lastErr)
		if err := m.sleep(ctx, opts.Backoff); err != nil {
			return &NavigationError{URL: url, Attempts: attempt, Timeout: true, Err: err}
		}
	}
	return &NavigationError{URL: url, Attempts: attempts, Timeout: IsTimeout(lastErr), Err: lastErr}
}

// Disconnect closes the page and resets the session. The browser process is
// kept for the next Connect. Calling it without a session is a no-op.
func (m *Manager) Disconnect() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	page := m.page
	m.page = nil
	m.state = emptyState()
	m.mu.Unlock()

	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Debug("closing page on disconnect", "error", err)
	}
	m.logger.Info("disconnected")
	return nil
}

// IsConnected reports whether a page is live.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.page != nil
}

// State returns a copy of the session state.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Page returns the live page or ErrNotConnected.
func (m *Manager) Page() (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.page == nil {
		return nil, ErrNotConnected
	}
	return m.page, nil
}

// SetWatchPaths replaces the watched paths of the current session.
func (m *Manager) SetWatchPaths(paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.WatchPaths = append([]string{}, paths...)
}

// Close disconnects, closes the browser and stops the driver.
func (m *Manager) Close() error {
	_ = m.Disconnect()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	br := m.browser
	m.browser = nil
	m.mu.Unlock()

	var errs []error
	if br != nil {
		if err := br.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if m.driver != nil {
		if err := m.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop driver: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s SessionState) clone() SessionState {
	out := s
	out.WatchPaths = append([]string{}, s.WatchPaths...)
	if s.ConnectedURL != nil {
		u := *s.ConnectedURL
		out.ConnectedURL = &u
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
