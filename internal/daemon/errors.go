package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neboloop/canvas/internal/a11y"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/diff"
	"github.com/neboloop/canvas/internal/inspect"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/script"
)

const suggestTimeout = 3 * time.Second

// selectorError ties a browser failure to the selector that caused it so a
// not-found can be answered with alternatives.
type selectorError struct {
	selector string
	err      error
}

func (e *selectorError) Error() string { return e.err.Error() }
func (e *selectorError) Unwrap() error { return e.err }

func withSelector(selector string, err error) error {
	if err == nil || selector == "" {
		return err
	}
	return &selectorError{selector: selector, err: err}
}

// toProtocolError maps a handler error onto the wire taxonomy.
func (s *Server) toProtocolError(err error) *protocol.Error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe
	}

	var nav *browser.NavigationError
	var launch *browser.LaunchError
	var scriptErr *script.Error
	var selErr *selectorError

	switch {
	case errors.Is(err, browser.ErrNotConnected):
		return protocol.PageNotReady()

	case errors.As(err, &nav):
		code, what := protocol.CodeNavigationFailed, "failed"
		if nav.Timeout {
			code, what = protocol.CodeNavigationTimeout, "timed out"
		}
		return protocol.NewError(code,
			fmt.Sprintf("navigation to %s %s after %d attempt(s): %v", nav.URL, what, nav.Attempts, nav.Err),
			protocol.WithParam("url"),
			protocol.WithSuggestion("check that the dev server is running, or raise timeoutMs/retries"))

	case errors.Is(err, browser.ErrNotInstalled), errors.As(err, &launch) && browser.Classify(err) == browser.KindNotInstalled:
		return protocol.NewError(protocol.CodeBrowserNotInstalled, err.Error(),
			protocol.WithSuggestion("run `canvas doctor`, then `go run github.com/playwright-community/playwright-go/cmd/playwright install --with-deps`"))

	case launch != nil:
		return protocol.NewError(protocol.CodeBrowserLaunchFailed, err.Error(),
			protocol.WithSuggestion("run `canvas doctor` to check the browser installation"))

	case errors.Is(err, script.ErrTimeout):
		return protocol.NewError(protocol.CodeExecuteTimeout, err.Error(),
			protocol.WithParam("timeoutMs"),
			protocol.WithSuggestion("raise timeoutMs or make sure every promise in the script settles"))

	case errors.As(err, &scriptErr):
		return protocol.NewError(protocol.CodeExecuteFailed, scriptErr.Message)

	case errors.Is(err, diff.ErrDimensionMismatch):
		return protocol.NewError(protocol.CodeDimensionMismatch, err.Error(),
			protocol.WithSuggestion("pass since with the timestamp of a capture the same size as this one, or delete "+diff.PointerFile+" so the next diff compares against the latest screenshot"))
	case errors.Is(err, diff.ErrInvalidThreshold):
		return protocol.InvalidParam("threshold", "%v", err)
	case errors.Is(err, diff.ErrInvalidSince):
		return protocol.InvalidParam("since", "%v", err)
	case errors.Is(err, diff.ErrNoCaptureSince):
		return protocol.NewError(protocol.CodeFileNotFound, err.Error(),
			protocol.WithParam("since"),
			protocol.WithSuggestion("pass a later since, or omit it to compare against the previous diff"))
	case errors.Is(err, diff.ErrUnreadableImage):
		return protocol.NewError(protocol.CodeFileReadFailed, err.Error())

	case errors.Is(err, a11y.ErrInvalidLevel):
		return protocol.InvalidParam("level", "%v", err)
	case errors.Is(err, a11y.ErrInject) && !browser.IsTimeout(err):
		return protocol.NewError(protocol.CodeExecuteFailed, err.Error(),
			protocol.WithSuggestion("set a11y.axe_path to a local axe.min.js when the page cannot reach "+s.cfg.A11y.AxeURL))
	}

	switch browser.Classify(err) {
	case browser.KindInvalidSelector:
		return protocol.NewError(protocol.CodeSelectorInvalid, err.Error(), protocol.WithParam("selector"))
	case browser.KindNotInstalled:
		return protocol.NewError(protocol.CodeBrowserNotInstalled, err.Error(),
			protocol.WithSuggestion("run `canvas doctor`"))
	}

	if errors.As(err, &selErr) && browser.IsNotFound(err) {
		return s.selectorNotFound(selErr.selector)
	}
	if browser.IsTimeout(err) {
		return protocol.NewError(protocol.CodeOperationTimeout, err.Error())
	}
	return protocol.FromError(err)
}

func (s *Server) selectorNotFound(selector string) *protocol.Error {
	opts := []protocol.Option{protocol.WithParam("selector")}
	if page, err := s.manager.Page(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), suggestTimeout)
		candidates := inspect.Suggest(ctx, page, selector)
		cancel()
		if len(candidates) > 0 {
			opts = append(opts, protocol.WithSuggestion("try one of: "+strings.Join(candidates, ", ")))
		}
	}
	return protocol.NewError(protocol.CodeSelectorNotFound,
		fmt.Sprintf("no element matches selector %q", selector), opts...)
}
