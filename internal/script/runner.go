// Package script runs caller-supplied JavaScript against the live page.
//
// Code runs inside an embedded goja runtime as the body of an async
// function with a page object in scope. Page methods call straight into the
// browser adapter and return plain values, so scripts read like:
//
//	const n = await page.count("li");
//	return { title: await page.title(), items: n };
//
// There is no sandbox beyond the timeout.
package script

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/neboloop/canvas/internal/browser"
)

// DefaultTimeout bounds a script when the caller gives none.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a script outlives its timeout.
var ErrTimeout = errors.New("script timed out")

// Error is a script that threw, rejected or failed to compile.
type Error struct {
	Message string
	Logs    []string
}

func (e *Error) Error() string { return "script failed: " + e.Message }

// ScreenshotFunc persists a capture made by page.screenshot and returns
// where it went.
type ScreenshotFunc func(ctx context.Context, selector string) (string, error)

// Options configures one run.
type Options struct {
	Timeout    time.Duration
	Screenshot ScreenshotFunc
}

// Result is the settled value of the script plus its console output.
type Result struct {
	Value      any      `json:"result"`
	Logs       []string `json:"logs"`
	DurationMs int64    `json:"durationMs"`
}

type outcome struct {
	value any
	err   error
}

// Runner executes scripts. Each Run gets a fresh runtime.
type Runner struct {
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger.With("component", "execute")}
}

// Run evaluates code with page bound. When the timeout fires the runtime is
// interrupted and ErrTimeout returned at once; a browser call already in
// flight is cancelled through its context but may still complete.
func (r *Runner) Run(ctx context.Context, page browser.Page, code string, opts Options) (*Result, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	vm := goja.New()
	logs := &console{}
	if err := bind(ctx, vm, page, logs, opts.Screenshot); err != nil {
		return nil, err
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &Error{Message: fmt.Sprint(p)}}
			}
		}()
		v, err := evaluate(vm, code)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		vm.Interrupt(ErrTimeout)
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		r.logger.Warn("script interrupted", "timeout", opts.Timeout)
		return nil, ErrTimeout
	}

	var interrupted *goja.InterruptedError
	if errors.As(out.err, &interrupted) || (out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return nil, ErrTimeout
	}
	if out.err != nil {
		var se *Error
		if errors.As(out.err, &se) {
			se.Logs = logs.lines()
		}
		return nil, out.err
	}
	return &Result{
		Value:      jsonSafe(out.value),
		Logs:       logs.lines(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func evaluate(vm *goja.Runtime, code string) (any, error) {
	v, err := vm.RunString("(async function () {\n" + code + "\n})()")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, err
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, &Error{Message: rejection(ex.Value())}
		}
		return nil, &Error{Message: err.Error()}
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, &Error{Message: rejection(p.Result())}
	default:
		return nil, &Error{Message: "script awaited a value that never settled"}
	}
}

func rejection(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

// jsonSafe replaces values encoding/json cannot encode, such as functions,
// with their string form.
func jsonSafe(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

type console struct {
	mu  sync.Mutex
	out []string
}

func (c *console) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	c.mu.Lock()
	c.out = append(c.out, strings.Join(parts, " "))
	c.mu.Unlock()
	return goja.Undefined()
}

func (c *console) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.out...)
}

func bind(ctx context.Context, vm *goja.Runtime, page browser.Page, logs *console, shot ScreenshotFunc) error {
	con := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := con.Set(name, logs.log); err != nil {
			return err
		}
	}
	if err := vm.Set("console", con); err != nil {
		return err
	}

	p := vm.NewObject()
	methods := map[string]any{
		"evaluate": func(expr string, arg any) (any, error) {
			return page.Evaluate(ctx, expr, arg)
		},
		"url": func() string {
			return page.URL()
		},
		"title": func() (string, error) {
			return page.Title(ctx)
		},
		"content": func() (string, error) {
			return page.Content(ctx)
		},
		"click": func(selector string) error {
			return page.Click(ctx, selector)
		},
		"fill": func(selector, value string) error {
			return page.Fill(ctx, selector, value)
		},
		"text": func(selector string) (string, error) {
			return page.InnerText(ctx, selector)
		},
		"count": func(selector string) (int, error) {
			return page.Count(ctx, selector)
		},
		"screenshot": func(selector string) (string, error) {
			if shot != nil {
				return shot(ctx, selector)
			}
			b, err := page.Screenshot(ctx, browser.ScreenshotOptions{Selector: selector})
			if err != nil {
				return "", err
			}
			return base64.StdEncoding.EncodeToString(b), nil
		},
	}
	for name, fn := range methods {
		if err := p.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.Set("page", p)
}
