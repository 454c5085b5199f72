package browser

import "time"

// ConnectOptions configures Manager.Connect. A zero Engine, Timeout or
// Viewport takes the package default. Retries is only defaulted when negative
// so callers can ask for a single attempt.
type ConnectOptions struct {
	Engine     Engine
	Headless   bool
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	WatchPaths []string
	Viewport   Viewport
}

// DefaultConnectOptions returns the options used when the caller sets nothing.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Engine:   DefaultEngine,
		Headless: true,
		Timeout:  DefaultNavTimeout,
		Retries:  DefaultRetries,
		Backoff:  DefaultBackoff,
		Viewport: Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	}
}

func (o ConnectOptions) resolve() ConnectOptions {
	def := DefaultConnectOptions()
	if o.Engine == "" {
		o.Engine = def.Engine
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Retries < 0 {
		o.Retries = def.Retries
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.Viewport.Width <= 0 {
		o.Viewport.Width = def.Viewport.Width
	}
	if o.Viewport.Height <= 0 {
		o.Viewport.Height = def.Viewport.Height
	}
	return o
}
