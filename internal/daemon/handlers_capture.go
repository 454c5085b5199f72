package daemon

import (
	"bytes"
	"image"
	_ "image/png"

	"golang.org/x/sync/errgroup"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/inspect"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/watch"
)

// Screenshot is the result of the screenshot methods.
type Screenshot struct {
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	URL      string `json:"url"`
	Selector string `json:"selector,omitempty"`
}

func (s *Server) capture(c *call, page browser.Page, opts browser.ScreenshotOptions) (*Screenshot, error) {
	data, err := page.Screenshot(c.ctx, opts)
	if err != nil {
		return nil, withSelector(opts.Selector, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, protocol.Internal("browser returned an unreadable screenshot: %v", err)
	}
	path, err := s.store(c).WriteScreenshot(data)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeFileWriteFailed, err.Error(),
			protocol.WithSuggestion("check that the project directory is writable"))
	}
	s.watch.Emit(watch.NewEvent(watch.EventScreenshot, map[string]any{"path": path}))
	return &Screenshot{
		Path:     path,
		Width:    cfg.Width,
		Height:   cfg.Height,
		URL:      page.URL(),
		Selector: opts.Selector,
	}, nil
}

func (s *Server) handleScreenshotViewport(c *call) (any, error) {
	var p struct {
		FullPage bool `json:"fullPage"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	return s.capture(c, page, browser.ScreenshotOptions{FullPage: p.FullPage})
}

func (s *Server) handleScreenshotElement(c *call) (any, error) {
	var p struct {
		Selector string `json:"selector"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if err := requireString("selector", p.Selector); err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	return s.capture(c, page, browser.ScreenshotOptions{Selector: p.Selector})
}

func (s *Server) handleStyles(c *call) (any, error) {
	var p struct {
		Selector   string   `json:"selector"`
		Properties []string `json:"properties"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	if err := requireString("selector", p.Selector); err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	styles, err := inspect.Styles(c.ctx, page, p.Selector, p.Properties)
	if err != nil {
		return nil, withSelector(p.Selector, err)
	}
	return map[string]any{"selector": p.Selector, "styles": styles}, nil
}

type domParams struct {
	Selector string `json:"selector"`
	Depth    *int   `json:"depth"`
}

func (p domParams) depth() (int, error) {
	if p.Depth == nil {
		return browser.DefaultSnapshotDepth, nil
	}
	if *p.Depth < 1 {
		return 0, protocol.InvalidParam("depth", "depth must be at least 1")
	}
	return *p.Depth, nil
}

func (s *Server) handleDOM(c *call) (any, error) {
	var p domParams
	if err := c.params(&p); err != nil {
		return nil, err
	}
	depth, err := p.depth()
	if err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	selector := scopeOrBody(p.Selector)
	tree, err := inspect.DOM(c.ctx, page, selector, depth)
	if err != nil {
		return nil, withSelector(p.Selector, err)
	}
	return map[string]any{"selector": selector, "depth": depth, "tree": tree}, nil
}

func (s *Server) handleDescribe(c *call) (any, error) {
	var p struct {
		Selector string `json:"selector"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}
	d, err := inspect.Describe(c.ctx, page, p.Selector)
	if err != nil {
		return nil, withSelector(p.Selector, err)
	}
	return d, nil
}

// Context is the combined result of the context method.
type Context struct {
	Screenshot  *Screenshot          `json:"screenshot"`
	Description *inspect.Description `json:"description"`
	DOM         *browser.Node        `json:"dom"`
	Styles      map[string]string    `json:"styles"`
}

// context gathers screenshot, description, tree and styles concurrently;
// the first failure fails the call.
func (s *Server) handleContext(c *call) (any, error) {
	var p struct {
		domParams
		Properties []string `json:"properties"`
	}
	if err := c.params(&p); err != nil {
		return nil, err
	}
	depth, err := p.depth()
	if err != nil {
		return nil, err
	}
	page, err := s.manager.Page()
	if err != nil {
		return nil, err
	}

	selector := scopeOrBody(p.Selector)
	var out Context
	g, gctx := errgroup.WithContext(c.ctx)
	gc := &call{ctx: gctx, conn: c.conn, req: c.req}
	g.Go(func() error {
		shot, err := s.capture(gc, page, browser.ScreenshotOptions{Selector: p.Selector})
		out.Screenshot = shot
		return err
	})
	g.Go(func() error {
		d, err := inspect.Describe(gctx, page, p.Selector)
		out.Description = d
		return withSelector(p.Selector, err)
	})
	g.Go(func() error {
		tree, err := inspect.DOM(gctx, page, selector, depth)
		out.DOM = tree
		return withSelector(p.Selector, err)
	})
	g.Go(func() error {
		styles, err := inspect.Styles(gctx, page, selector, p.Properties)
		out.Styles = styles
		return withSelector(p.Selector, err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func scopeOrBody(selector string) string {
	if selector == "" {
		return "body"
	}
	return selector
}
