// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/canvas/internal/browser"
)

// Element is a fake DOM element addressable by its selector.
type Element struct {
	Role     string
	Name     string
	Box      browser.Rect
	Hidden   bool
	Disabled bool
	Text     string
	Styles   map[string]string
	Aria     string
}

// EvalFunc answers an Evaluate or EvaluateOn call. selector is empty for
// page-level evaluation.
type EvalFunc func(selector, expr string, arg any) (any, error)

// Driver is a fake browser.Driver. Every launched browser shares Page.
type Driver struct {
	mu        sync.Mutex
	Page      *Page
	LaunchErr error
	launches  []browser.Engine
	closed    bool
}

// NewDriver returns a driver whose pages render a white vp-sized frame.
func NewDriver(vp browser.Viewport) *Driver {
	return &Driver{Page: NewPage(vp)}
}

func (d *Driver) Launch(ctx context.Context, engine browser.Engine, opts browser.LaunchOptions) (browser.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	d.launches = append(d.launches, engine)
	return &Browser{engine: engine, driver: d}, nil
}

// Launches returns the engines launched so far.
func (d *Driver) Launches() []browser.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.Engine{}, d.launches...)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Browser is a fake browser.Browser.
type Browser struct {
	engine browser.Engine
	driver *Driver
	closed bool
}

func (b *Browser) Engine() browser.Engine { return b.engine }

func (b *Browser) NewPage(ctx context.Context, vp browser.Viewport) (browser.Page, error) {
	p := b.driver.Page
	p.reopen(vp)
	return p, nil
}

func (b *Browser) Close() error {
	b.closed = true
	return nil
}

// Page is a fake browser.Page backed by an in-memory frame.
type Page struct {
	mu        sync.Mutex
	url       string
	title     string
	viewport  browser.Viewport
	frame     *image.RGBA
	elements  map[string]*Element
	aria      string
	closed    bool
	closes    int
	gotoErrs  []error
	gotos     []string
	eval      EvalFunc
	exposed   map[string]func(args ...any) any
	scripts   []string
	frameFns  []func(browser.WebSocketFrame)
	navFns    []func(string)
	evalDelay time.Duration
}

// NewPage returns a page with a white frame of size vp.
func NewPage(vp browser.Viewport) *Page {
	p := &Page{
		title:    "Fake Page",
		elements: make(map[string]*Element),
		exposed:  make(map[string]func(args ...any) any),
	}
	p.reopen(vp)
	return p
}

func (p *Page) reopen(vp browser.Viewport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
	if p.frame == nil || p.viewport != vp {
		p.viewport = vp
		p.frame = image.NewRGBA(image.Rect(0, 0, vp.Width, vp.Height))
		draw.Draw(p.frame, p.frame.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}
}

// AddElement registers el under selector.
func (p *Page) AddElement(selector string, el *Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = el
}

// SetAria sets the snapshot text returned for the page body.
func (p *Page) SetAria(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aria = text
}

// SetPixel paints one pixel of the rendered frame.
func (p *Page) SetPixel(x, y int, c color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame.Set(x, y, c)
}

// FailGoto queues errors returned by successive Goto calls.
func (p *Page) FailGoto(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoErrs = append(p.gotoErrs, errs...)
}

// Gotos returns every URL passed to Goto.
func (p *Page) Gotos() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.gotos...)
}

// SetEval installs the handler for Evaluate and EvaluateOn.
func (p *Page) SetEval(fn EvalFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eval = fn
}

// SetEvalDelay makes every Evaluate block for d.
func (p *Page) SetEvalDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalDelay = d
}

// Scripts returns every script added with AddScriptTag or AddInitScript.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.scripts...)
}

// CallExposed invokes a function registered with ExposeFunction.
func (p *Page) CallExposed(name string, args ...any) (any, error) {
	p.mu.Lock()
	fn, ok := p.exposed[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no exposed function %q", name)
	}
	return fn(args...), nil
}

// EmitFrame delivers a websocket frame to registered listeners.
func (p *Page) EmitFrame(f browser.WebSocketFrame) {
	p.mu.Lock()
	fns := append([]func(browser.WebSocketFrame){}, p.frameFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}

// EmitNavigation delivers a main-frame navigation to registered listeners.
func (p *Page) EmitNavigation(url string) {
	p.mu.Lock()
	p.url = url
	fns := append([]func(string){}, p.navFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(url)
	}
}

// Closes counts Close calls that actually closed the page.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotos = append(p.gotos, url)
	if len(p.gotoErrs) > 0 {
		err := p.gotoErrs[0]
		p.gotoErrs = p.gotoErrs[1:]
		if err != nil {
			return err
		}
	}
	p.url = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	b.WriteString("<html><body>")
	for sel := range p.elements {
		fmt.Fprintf(&b, "<!-- %s -->", sel)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (p *Page) Viewport() browser.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrClosed
	}
	var img image.Image = p.frame
	if opts.Selector != "" {
		el, err := p.element(opts.Selector)
		if err != nil {
			return nil, err
		}
		r := image.Rect(int(el.Box.X), int(el.Box.Y), int(el.Box.X+el.Box.Width), int(el.Box.Y+el.Box.Height))
		img = p.frame.SubImage(r.Intersect(p.frame.Bounds()))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Page) Evaluate(ctx context.Context, expr string, arg any) (any, error) {
	return p.evaluate(ctx, "", expr, arg)
}

func (p *Page) EvaluateOn(ctx context.Context, selector, expr string, arg any) (any, error) {
	p.mu.Lock()
	el, err := p.element(selector)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if strings.Contains(expr, "getComputedStyle") {
		p.mu.Lock()
		fn := p.eval
		p.mu.Unlock()
		if fn == nil {
			return stylesFor(el, arg), nil
		}
	}
	return p.evaluate(ctx, selector, expr, arg)
}

func (p *Page) evaluate(ctx context.Context, selector, expr string, arg any) (any, error) {
	p.mu.Lock()
	fn, delay := p.eval, p.evalDelay
	p.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", browser.ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}
	if fn == nil {
		return nil, nil
	}
	return fn(selector, expr, arg)
}

func stylesFor(el *Element, arg any) map[string]any {
	out := make(map[string]any)
	var props []string
	switch v := arg.(type) {
	case []string:
		props = v
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				props = append(props, s)
			}
		}
	}
	if len(props) == 0 {
		for k, v := range el.Styles {
			out[k] = v
		}
		return out
	}
	for _, k := range props {
		out[k] = el.Styles[k]
	}
	return out
}

func (p *Page) AriaSnapshot(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == "" || selector == "body" {
		return p.aria, nil
	}
	el, err := p.element(selector)
	if err != nil {
		return "", err
	}
	if el.Aria != "" {
		return el.Aria, nil
	}
	if el.Name != "" {
		return fmt.Sprintf("- %s %q", el.Role, el.Name), nil
	}
	return "- " + el.Role, nil
}

func (p *Page) BoundingBox(ctx context.Context, selector string) (*browser.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element(selector)
	if err != nil {
		return nil, err
	}
	if el.Hidden {
		return nil, nil
	}
	box := el.Box
	return &box, nil
}

func (p *Page) State(ctx context.Context, selector string) (browser.ElementState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element(selector)
	if err != nil {
		return browser.ElementState{}, err
	}
	return browser.ElementState{Visible: !el.Hidden, Disabled: el.Disabled}, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == "body" {
		return 1, nil
	}
	if _, ok := p.elements[selector]; ok {
		return 1, nil
	}
	return 0, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.element(selector)
	return err
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element(selector)
	if err != nil {
		return err
	}
	el.Text = value
	return nil
}

func (p *Page) InnerText(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.element(selector)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (p *Page) AddScriptTag(ctx context.Context, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, content)
	return nil
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil
}

func (p *Page) ExposeFunction(ctx context.Context, name string, fn func(args ...any) any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exposed[name]; ok {
		return fmt.Errorf("function %q has been already registered", name)
	}
	p.exposed[name] = fn
	return nil
}

func (p *Page) OnWebSocketFrame(fn func(browser.WebSocketFrame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameFns = append(p.frameFns, fn)
}

func (p *Page) OnNavigated(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navFns = append(p.navFns, fn)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.closes++
		p.exposed = make(map[string]func(args ...any) any)
		p.frameFns = nil
		p.navFns = nil
	}
	return nil
}

// element must be called with p.mu held.
func (p *Page) element(selector string) (*Element, error) {
	if p.closed {
		return nil, browser.ErrClosed
	}
	if selector == "" || selector == "body" {
		if el, ok := p.elements["body"]; ok {
			return el, nil
		}
		return &Element{Role: "generic", Box: browser.Rect{Width: float64(p.viewport.Width), Height: float64(p.viewport.Height)}}, nil
	}
	el, ok := p.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return el, nil
}
