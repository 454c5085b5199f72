package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultActionTimeout = 30 * time.Second

type pwPage struct {
	page     playwright.Page
	context  playwright.BrowserContext
	viewport Viewport
	audit    *auditLogger

	mu        sync.Mutex
	frameFns  []func(WebSocketFrame)
	navFns    []func(string)
	closeOnce sync.Once
}

func (p *pwPage) listen() {
	p.page.OnWebSocket(func(ws playwright.WebSocket) {
		url := ws.URL()
		ws.OnFrameReceived(func(payload []byte) {
			p.dispatchFrame(WebSocketFrame{URL: url, Payload: payload})
		})
		ws.OnFrameSent(func(payload []byte) {
			p.dispatchFrame(WebSocketFrame{URL: url, Payload: payload, Sent: true})
		})
	})
	p.page.OnFrameNavigated(func(f playwright.Frame) {
		if f.ParentFrame() != nil {
			return
		}
		p.mu.Lock()
		fns := append([]func(string){}, p.navFns...)
		p.mu.Unlock()
		for _, fn := range fns {
			fn(f.URL())
		}
	})
}

func (p *pwPage) dispatchFrame(f WebSocketFrame) {
	p.mu.Lock()
	fns := append([]func(WebSocketFrame){}, p.frameFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}

func (p *pwPage) OnWebSocketFrame(fn func(WebSocketFrame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameFns = append(p.frameFns, fn)
}

func (p *pwPage) OnNavigated(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navFns = append(p.navFns, fn)
}

func (p *pwPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	p.audit.log("navigate", url)
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return wrapPlaywrightErr(err)
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Viewport() Viewport { return p.viewport }

func (p *pwPage) Title(ctx context.Context) (string, error) {
	title, err := p.page.Title()
	return title, wrapPlaywrightErr(err)
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	html, err := p.page.Content()
	return html, wrapPlaywrightErr(err)
}

func (p *pwPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	timeout := playwright.Float(actionTimeout(ctx))
	if opts.Selector == "" {
		data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(opts.FullPage),
			Type:     playwright.ScreenshotTypePng,
			Timeout:  timeout,
		})
		return data, wrapPlaywrightErr(err)
	}
	loc, err := p.locate(opts.Selector)
	if err != nil {
		return nil, err
	}
	data, err := loc.Screenshot(playwright.LocatorScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: timeout,
	})
	return data, wrapPlaywrightErr(err)
}

func (p *pwPage) Evaluate(ctx context.Context, expr string, arg any) (any, error) {
	p.audit.log("evaluate", expr)
	var (
		v   any
		err error
	)
	if arg == nil {
		v, err = p.page.Evaluate(expr)
	} else {
		v, err = p.page.Evaluate(expr, arg)
	}
	return v, wrapPlaywrightErr(err)
}

func (p *pwPage) EvaluateOn(ctx context.Context, selector, expr string, arg any) (any, error) {
	loc, err := p.locate(selector)
	if err != nil {
		return nil, err
	}
	v, err := loc.Evaluate(expr, arg, playwright.LocatorEvaluateOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	})
	return v, wrapPlaywrightErr(err)
}

func (p *pwPage) AriaSnapshot(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	loc, err := p.locate(selector)
	if err != nil {
		return "", err
	}
	snap, err := loc.AriaSnapshot(playwright.LocatorAriaSnapshotOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	})
	return snap, wrapPlaywrightErr(err)
}

func (p *pwPage) BoundingBox(ctx context.Context, selector string) (*Rect, error) {
	loc, err := p.locate(selector)
	if err != nil {
		return nil, err
	}
	box, err := loc.BoundingBox(playwright.LocatorBoundingBoxOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	})
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (p *pwPage) State(ctx context.Context, selector string) (ElementState, error) {
	loc, err := p.locate(selector)
	if err != nil {
		return ElementState{}, err
	}
	visible, err := loc.IsVisible()
	if err != nil {
		return ElementState{}, wrapPlaywrightErr(err)
	}
	disabled, err := loc.IsDisabled(playwright.LocatorIsDisabledOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	})
	if err != nil {
		// Only form controls have a disabled state.
		disabled = false
	}
	return ElementState{Visible: visible, Disabled: disabled}, nil
}

func (p *pwPage) Count(ctx context.Context, selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	return n, wrapPlaywrightErr(err)
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	loc, err := p.locate(selector)
	if err != nil {
		return err
	}
	return wrapPlaywrightErr(loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	}))
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	loc, err := p.locate(selector)
	if err != nil {
		return err
	}
	return wrapPlaywrightErr(loc.Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	}))
}

func (p *pwPage) InnerText(ctx context.Context, selector string) (string, error) {
	loc, err := p.locate(selector)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(actionTimeout(ctx)),
	})
	return text, wrapPlaywrightErr(err)
}

func (p *pwPage) AddScriptTag(ctx context.Context, content string) error {
	p.audit.log("add_script_tag", content)
	_, err := p.page.AddScriptTag(playwright.PageAddScriptTagOptions{Content: playwright.String(content)})
	return wrapPlaywrightErr(err)
}

func (p *pwPage) AddInitScript(ctx context.Context, script string) error {
	p.audit.log("add_init_script", script)
	return wrapPlaywrightErr(p.page.AddInitScript(playwright.Script{Content: playwright.String(script)}))
}

func (p *pwPage) ExposeFunction(ctx context.Context, name string, fn func(args ...any) any) error {
	p.audit.log("expose_function", name)
	return wrapPlaywrightErr(p.page.ExposeFunction(name, func(args ...interface{}) interface{} {
		return fn(args...)
	}))
}

// Close closes the page and its context. Repeated calls return nil.
func (p *pwPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := p.page.Close(); cerr != nil {
			err = wrapPlaywrightErr(cerr)
		}
		if cerr := p.context.Close(); cerr != nil && err == nil {
			err = wrapPlaywrightErr(cerr)
		}
	})
	return err
}

// locate resolves selector to its first match, returning ErrNotFound
// up front instead of letting the action wait out its timeout.
func (p *pwPage) locate(selector string) (playwright.Locator, error) {
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return loc.First(), nil
}

func actionTimeout(ctx context.Context) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return float64(d.Milliseconds())
		}
		return 1
	}
	return float64(defaultActionTimeout.Milliseconds())
}
