package daemon

import (
	"os"
	"runtime"
	"time"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/viewer"
	"github.com/neboloop/canvas/internal/watch"
)

func (s *Server) handlePing(c *call) (any, error) {
	return map[string]any{
		"pong":            true,
		"version":         s.version,
		"protocolVersion": protocol.Version,
	}, nil
}

// DaemonStatus is the daemon.status result.
type DaemonStatus struct {
	PID             int                  `json:"pid"`
	Version         string               `json:"version"`
	ProtocolVersion string               `json:"protocolVersion"`
	Go              string               `json:"go"`
	Socket          string               `json:"socket"`
	StartedAt       time.Time            `json:"startedAt"`
	UptimeMs        int64                `json:"uptimeMs"`
	Connections     int                  `json:"connections"`
	Session         browser.SessionState `json:"session"`
	Watch           watch.Stats          `json:"watch"`
	Viewer          viewer.Status        `json:"viewer"`
}

func (s *Server) handleDaemonStatus(c *call) (any, error) {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()
	return DaemonStatus{
		PID:             os.Getpid(),
		Version:         s.version,
		ProtocolVersion: protocol.Version,
		Go:              runtime.Version(),
		Socket:          s.cfg.SocketPath(),
		StartedAt:       s.started,
		UptimeMs:        time.Since(s.started).Milliseconds(),
		Connections:     conns,
		Session:         s.manager.State(),
		Watch:           s.watch.Stats(),
		Viewer:          s.viewer.Status(),
	}, nil
}

// daemon.stop answers first; dispatch shuts the server down once the
// response is written.
func (s *Server) handleDaemonStop(c *call) (any, error) {
	s.logger.Info("stop requested")
	return map[string]any{"stopping": true}, nil
}

type connectParams struct {
	URL        string   `json:"url"`
	WatchPaths []string `json:"watchPaths"`
	Engine     string   `json:"engine"`
	TimeoutMs  *int     `json:"timeoutMs"`
	Headless   *bool    `json:"headless"`
	Retries    *int     `json:"retries"`
	BackoffMs  *int     `json:"backoffMs"`
	Viewport   *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"viewport"`
}

func (s *Server) handleConnect(c *call) (any, error) {
	var p connectParams
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if err := requireString("url", p.URL); err != nil {
		return nil, err
	}

	opts := s.cfg.ConnectOptions()
	if p.Engine != "" {
		opts.Engine = browser.Engine(p.Engine)
	}
	if !opts.Engine.Valid() {
		return nil, protocol.InvalidParam("engine", "engine must be chromium, firefox or webkit, got %q", opts.Engine)
	}
	if p.TimeoutMs != nil {
		if *p.TimeoutMs <= 0 {
			return nil, protocol.InvalidParam("timeoutMs", "timeoutMs must be positive")
		}
		opts.Timeout = time.Duration(*p.TimeoutMs) * time.Millisecond
	}
	if p.Headless != nil {
		opts.Headless = *p.Headless
	}
	if p.Retries != nil {
		if *p.Retries < 0 {
			return nil, protocol.InvalidParam("retries", "retries must not be negative")
		}
		opts.Retries = *p.Retries
	}
	if p.BackoffMs != nil {
		if *p.BackoffMs < 0 {
			return nil, protocol.InvalidParam("backoffMs", "backoffMs must not be negative")
		}
		opts.Backoff = time.Duration(*p.BackoffMs) * time.Millisecond
	}
	if p.Viewport != nil {
		if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
			return nil, protocol.InvalidParam("viewport", "viewport width and height must be positive")
		}
		opts.Viewport = browser.Viewport{Width: p.Viewport.Width, Height: p.Viewport.Height}
	}
	for _, wp := range p.WatchPaths {
		opts.WatchPaths = append(opts.WatchPaths, s.resolvePath(c, wp))
	}

	state, err := s.manager.Connect(c.ctx, p.URL, opts)
	if err != nil {
		return nil, err
	}

	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	// A source that cannot attach only loses its own signals.
	_ = s.watch.AttachPage(c.ctx, page)

	if err := s.watch.Watch(opts.WatchPaths); err != nil {
		if derr := s.manager.Disconnect(); derr != nil {
			s.logger.Warn("disconnect after watch failure", "error", derr)
		}
		_ = s.watch.Watch(nil)
		return nil, protocol.NewError(protocol.CodeWatchFailed, "watch paths: "+err.Error(),
			protocol.WithParam("watchPaths"),
			protocol.WithSuggestion("check that every watch path exists"))
	}
	return state, nil
}

func (s *Server) handleDisconnect(c *call) (any, error) {
	if err := s.manager.Disconnect(); err != nil {
		return nil, err
	}
	if err := s.watch.Watch(nil); err != nil {
		s.logger.Debug("stopping file watcher", "error", err)
	}
	return map[string]any{"disconnected": true}, nil
}

func (s *Server) handleStatus(c *call) (any, error) {
	state := s.manager.State()
	return map[string]any{
		"connected":    s.manager.IsConnected(),
		"connectedUrl": state.ConnectedURL,
		"viewport":     state.Viewport,
		"watchPaths":   state.WatchPaths,
		"engine":       state.Engine,
		"headless":     state.Headless,
	}, nil
}
