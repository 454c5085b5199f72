package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver launches browsers through playwright-go. The node driver
// is started lazily on the first Launch.
type PlaywrightDriver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	install bool
	audit   *auditLogger
}

// NewPlaywrightDriver returns a driver. When install is true, missing
// browsers are downloaded before the first launch.
func NewPlaywrightDriver(install bool, logger *slog.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{install: install, audit: newAuditLogger(logger)}
}

func (d *PlaywrightDriver) ensureRunning() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}
	if d.install {
		if err := playwright.Install(); err != nil {
			return nil, fmt.Errorf("install playwright browsers: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "install") {
			return nil, fmt.Errorf("%w: %v", ErrNotInstalled, err)
		}
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

// Launch starts the requested engine.
func (d *PlaywrightDriver) Launch(ctx context.Context, engine Engine, opts LaunchOptions) (Browser, error) {
	pw, err := d.ensureRunning()
	if err != nil {
		return nil, err
	}
	var bt playwright.BrowserType
	switch engine {
	case EngineChromium:
		bt = pw.Chromium
	case EngineFirefox:
		bt = pw.Firefox
	case EngineWebKit:
		bt = pw.WebKit
	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(opts.Headless)}
	if deadline, ok := ctx.Deadline(); ok {
		launchOpts.Timeout = playwright.Float(float64(time.Until(deadline).Milliseconds()))
	}
	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	return &pwBrowser{engine: engine, browser: b, audit: d.audit}, nil
}

// Close stops the node driver.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

type pwBrowser struct {
	engine  Engine
	browser playwright.Browser
	audit   *auditLogger
}

func (b *pwBrowser) Engine() Engine { return b.engine }

func (b *pwBrowser) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	bc, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: vp.Width, Height: vp.Height},
	})
	if err != nil {
		return nil, wrapPlaywrightErr(err)
	}
	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, wrapPlaywrightErr(err)
	}
	p := &pwPage{page: page, context: bc, viewport: vp, audit: b.audit}
	p.listen()
	return p, nil
}

func (b *pwBrowser) Close() error {
	if !b.browser.IsConnected() {
		return nil
	}
	return wrapPlaywrightErr(b.browser.Close())
}

// wrapPlaywrightErr attaches the package sentinels to playwright errors so
// callers can classify with errors.Is.
func wrapPlaywrightErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Executable doesn't exist"):
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	case strings.Contains(msg, "is not a valid selector"), strings.Contains(msg, "Unexpected token"):
		return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	return err
}

// Probe starts the Playwright driver if it is not running yet. It reports
// whether browsers can be launched at all.
func (d *PlaywrightDriver) Probe(ctx context.Context) error {
	_, err := d.ensureRunning()
	return err
}
