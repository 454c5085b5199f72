package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout         = errors.New("browser: timeout")
	ErrNotFound        = errors.New("browser: no element matches selector")
	ErrInvalidSelector = errors.New("browser: invalid selector")
	ErrNotInstalled    = errors.New("browser: engine not installed")
	ErrClosed          = errors.New("browser: page closed")
	ErrNotConnected    = errors.New("browser: no active session")
)

// Kind is the coarse failure class used to pick an error code.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindNotFound
	KindInvalidSelector
	KindNotInstalled
)

// Classify maps err to a Kind. Sentinel errors are checked first; message
// matching remains as a fallback for errors the adapter could not wrap.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	switch {
	case errors.Is(err, ErrNotInstalled):
		return KindNotInstalled
	case errors.Is(err, ErrInvalidSelector):
		return KindInvalidSelector
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "executable doesn't exist"), strings.Contains(msg, "playwright install"):
		return KindNotInstalled
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	return KindOther
}

// IsTimeout reports whether err is a timeout-class failure.
func IsTimeout(err error) bool { return Classify(err) == KindTimeout }

// IsNotFound reports whether err means a selector matched nothing. Besides
// ErrNotFound it accepts engine messages that mention a locator or selector.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindNotFound:
		return true
	case KindInvalidSelector:
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locator") || strings.Contains(msg, "selector") ||
		strings.Contains(msg, "no element")
}

// NavigationError is returned by Manager.Connect when every attempt failed.
type NavigationError struct {
	URL      string
	Attempts int
	Timeout  bool
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// LaunchError is returned when the engine process could not be started.
type LaunchError struct {
	Engine Engine
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Engine, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
