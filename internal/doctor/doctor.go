// Package doctor runs environment health checks for the daemon and CLI.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/canvas/internal/browser"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// Check is the outcome of one probe.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Report collects checks in the order their probes were given.
type Report struct {
	Checks []Check `json:"checks"`
	OK     int     `json:"ok"`
	Warn   int     `json:"warn"`
	Error  int     `json:"error"`
}

// Healthy reports whether no check failed.
func (r Report) Healthy() bool { return r.Error == 0 }

// Probe produces one Check.
type Probe func(ctx context.Context) Check

// Run executes probes concurrently and returns them in order.
func Run(ctx context.Context, probes ...Probe) Report {
	checks := make([]Check, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			checks[i] = p(gctx)
			return nil
		})
	}
	_ = g.Wait()

	r := Report{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case StatusOK:
			r.OK++
		case StatusWarn:
			r.Warn++
		default:
			r.Error++
		}
	}
	return r
}

// DataDir checks that dir exists and is writable.
func DataDir(dir string) Probe {
	return func(ctx context.Context) Check {
		c := Check{Name: "Data Directory"}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			c.Status, c.Message = StatusError, fmt.Sprintf("cannot create %s: %v", dir, err)
			return c
		}
		f, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			c.Status, c.Message = StatusError, fmt.Sprintf("%s is not writable: %v", dir, err)
			return c
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		c.Status, c.Message = StatusOK, dir
		return c
	}
}

// ConfigFile reports whether path exists. A missing file only warns since
// defaults apply.
func ConfigFile(path string) Probe {
	return func(ctx context.Context) Check {
		c := Check{Name: "Config File"}
		if _, err := os.Stat(path); err != nil {
			c.Status, c.Message = StatusWarn, fmt.Sprintf("%s not found, using defaults", filepath.Base(path))
			return c
		}
		c.Status, c.Message = StatusOK, path
		return c
	}
}

// Socket dials the daemon socket.
func Socket(path string) Probe {
	return func(ctx context.Context) Check {
		c := Check{Name: "Daemon Socket"}
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			c.Status, c.Message = StatusWarn, fmt.Sprintf("daemon not reachable at %s (run `canvas daemon start`)", path)
			return c
		}
		conn.Close()
		c.Status, c.Message = StatusOK, path
		return c
	}
}

// Prober is implemented by drivers that can check their own readiness.
type Prober interface {
	Probe(ctx context.Context) error
}

// Driver checks that the browser driver starts.
func Driver(p Prober) Probe {
	return func(ctx context.Context) Check {
		c := Check{Name: "Playwright Driver"}
		if p == nil {
			c.Status, c.Message = StatusWarn, "no driver configured"
			return c
		}
		if err := p.Probe(ctx); err != nil {
			c.Status = StatusError
			c.Message = fmt.Sprintf("%v (run `go run github.com/playwright-community/playwright-go/cmd/playwright install --with-deps`)", err)
			return c
		}
		c.Status, c.Message = StatusOK, "driver running"
		return c
	}
}

// Chrome looks for a system Chromium. With launch set it also starts it
// headless over CDP and reads the product version.
func Chrome(customPath string, launch bool) Probe {
	return func(ctx context.Context) Check {
		c := Check{Name: "System Chromium"}
		exe, err := browser.FindChromeExecutable(customPath)
		if err != nil {
			c.Status, c.Message = StatusWarn, err.Error()
			return c
		}
		if exe == nil {
			c.Status, c.Message = StatusWarn, "no system Chrome or Chromium found; Playwright's bundled browsers are used"
			return c
		}
		if !launch {
			c.Status, c.Message = StatusOK, fmt.Sprintf("%s at %s", exe.Kind, exe.Path)
			return c
		}
		product, err := chromeVersion(ctx, exe.Path)
		if err != nil {
			c.Status, c.Message = StatusWarn, fmt.Sprintf("%s at %s did not start: %v", exe.Kind, exe.Path, err)
			return c
		}
		c.Status, c.Message = StatusOK, fmt.Sprintf("%s (%s)", product, exe.Path)
		return c
	}
}

func chromeVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(path),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var product string
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, p, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		product = p
		return err
	}))
	return product, err
}
