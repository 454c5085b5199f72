package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/neboloop/canvas/internal/a11y"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/defaults"
	"github.com/neboloop/canvas/internal/diff"
	"github.com/neboloop/canvas/internal/doctor"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/script"
	"github.com/neboloop/canvas/internal/watch"
)

func (s *Server) handleExecute(c *call) (any, error) {
	var p struct {
		Code      string `json:"code"`
		TimeoutMs *int   `json:"timeoutMs"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if err := requireString("code", p.Code); err != nil {
		return nil, err
	}
	timeout := s.cfg.ExecuteTimeout()
	if p.TimeoutMs != nil {
		if *p.TimeoutMs <= 0 {
			return nil, protocol.InvalidParam("timeoutMs", "timeoutMs must be positive")
		}
		timeout = time.Duration(*p.TimeoutMs) * time.Millisecond
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	return s.runner.Run(c.ctx, page, p.Code, script.Options{
		Timeout: timeout,
		Screenshot: func(ctx context.Context, selector string) (string, error) {
			shot, err := s.capture(&call{ctx: ctx, conn: c.conn, req: c.req}, page, browser.ScreenshotOptions{Selector: selector})
			if err != nil {
				return "", err
			}
			return shot.Path, nil
		},
	})
}

func (s *Server) handleA11y(c *call) (any, error) {
	var p struct {
		Selector string `json:"selector"`
		Level    string `json:"level"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	level, err := a11y.ParseLevel(p.Level)
	if err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	res, err := s.a11y.Scan(c.ctx, page, s.manager.State().Engine, a11y.Options{Selector: p.Selector, Level: level})
	if err != nil {
		return nil, withSelector(p.Selector, err)
	}
	return res, nil
}

func (s *Server) handleDiff(c *call) (any, error) {
	var p struct {
		Selector  string   `json:"selector"`
		Since     string   `json:"since"`
		Threshold *float64 `json:"threshold"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	threshold := s.cfg.Diff.Threshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, protocol.InvalidParam("threshold", "threshold must be within [0,1], got %v", threshold)
	}
	if p.Since != "" && p.Since != diff.SinceLast {
		if _, err := diff.ParseSince(p.Since); err != nil {
			return nil, protocol.InvalidParam("since", "since must be an ISO timestamp or %q, got %q", diff.SinceLast, p.Since)
		}
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	res, err := s.diff.Run(c.ctx, s.store(c), page, diff.Options{
		Selector:  p.Selector,
		Since:     p.Since,
		Threshold: threshold,
	})
	if err != nil {
		return nil, withSelector(p.Selector, err)
	}
	return res, nil
}

func (s *Server) handleWatchSubscribe(c *call) (any, error) {
	var p struct {
		Events []string `json:"events"`
		Live   bool     `json:"live"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if c.conn == nil {
		return nil, protocol.InvalidRequest("watch.subscribe needs a connection")
	}
	id, err := s.watch.Subscribe(c.conn, watch.SubscribeOptions{Events: p.Events, Live: p.Live}, s.store(c))
	if err != nil {
		return nil, protocol.InvalidParam("events", "%v", err)
	}
	events := p.Events
	if len(events) == 0 {
		events = watch.AllEvents
	}
	return map[string]any{"subscription": id, "events": events, "live": p.Live}, nil
}

func (s *Server) handleWatchUnsubscribe(c *call) (any, error) {
	var p struct {
		Subscription string `json:"subscription"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if err := requireString("subscription", p.Subscription); err != nil {
		return nil, err
	}
	return map[string]any{"unsubscribed": s.watch.Unsubscribe(p.Subscription)}, nil
}

func (s *Server) handleWatchConfigure(c *call) (any, error) {
	var p struct {
		QuietWindowMs   *int     `json:"quietWindowMs"`
		MaxWaitMs       *int     `json:"maxWaitMs"`
		Ignore          []string `json:"ignore"`
		LiveIntervalSec *int     `json:"liveIntervalSec"`
		LiveMaxEntries  *int     `json:"liveMaxEntries"`
		Paths           []string `json:"paths"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}

	var u watch.ConfigUpdate
	if p.QuietWindowMs != nil {
		if *p.QuietWindowMs <= 0 {
			return nil, protocol.InvalidParam("quietWindowMs", "quietWindowMs must be positive")
		}
		d := time.Duration(*p.QuietWindowMs) * time.Millisecond
		u.QuietWindow = &d
	}
	if p.MaxWaitMs != nil {
		if *p.MaxWaitMs <= 0 {
			return nil, protocol.InvalidParam("maxWaitMs", "maxWaitMs must be positive")
		}
		d := time.Duration(*p.MaxWaitMs) * time.Millisecond
		u.MaxWait = &d
	}
	if p.LiveIntervalSec != nil {
		if *p.LiveIntervalSec < 1 {
			return nil, protocol.InvalidParam("liveIntervalSec", "liveIntervalSec must be at least 1")
		}
		u.LiveIntervalSec = p.LiveIntervalSec
	}
	if p.LiveMaxEntries != nil {
		if *p.LiveMaxEntries < 1 {
			return nil, protocol.InvalidParam("liveMaxEntries", "liveMaxEntries must be at least 1")
		}
		u.LiveMaxEntries = p.LiveMaxEntries
	}
	u.Ignore = p.Ignore
	if p.Paths != nil {
		u.Paths = make([]string, 0, len(p.Paths))
		for _, wp := range p.Paths {
			u.Paths = append(u.Paths, s.resolvePath(c, wp))
		}
	}

	cfg, err := s.watch.Configure(u)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeWatchFailed, err.Error(),
			protocol.WithParam("paths"),
			protocol.WithSuggestion("check that every watch path exists"))
	}
	if u.Paths != nil {
		s.manager.SetWatchPaths(u.Paths)
	}
	return cfg, nil
}

func (s *Server) handleViewerStart(c *call) (any, error) {
	var p struct {
		Addr string `json:"addr"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	addr := p.Addr
	if addr == "" {
		addr = s.cfg.Viewer.Addr
	}
	st, err := s.viewer.Start(addr, s.store(c))
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternal, err.Error(),
			protocol.WithParam("addr"),
			protocol.WithSuggestion("pick a free address with `canvas viewer start --addr 127.0.0.1:0`"))
	}
	return st, nil
}

func (s *Server) handleViewerStop(c *call) (any, error) {
	if err := s.viewer.Stop(c.ctx); err != nil {
		return nil, err
	}
	return s.viewer.Status(), nil
}

func (s *Server) handleViewerStatus(c *call) (any, error) {
	return s.viewer.Status(), nil
}

func (s *Server) handleDoctor(c *call) (any, error) {
	var p struct {
		Launch bool `json:"launch"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	prober, _ := s.driver.(doctor.Prober)
	probes := []doctor.Probe{
		doctor.DataDir(s.cfg.DataDir),
		doctor.ConfigFile(filepath.Join(s.cfg.DataDir, defaults.ConfigFile)),
		doctor.Driver(prober),
		doctor.Chrome("", p.Launch),
	}
	return doctor.Run(c.ctx, probes...), nil
}
