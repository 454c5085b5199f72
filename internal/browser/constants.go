// Package browser owns the single headless browser session the daemon drives.
// The Playwright adapter lives here; everything above it talks to the Driver,
// Browser and Page interfaces so tests can swap in browsertest.
package browser

import "time"

// Engine names a Playwright browser engine.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Session defaults applied to zero-valued ConnectOptions.
const (
	DefaultEngine         = EngineChromium
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultNavTimeout     = 30 * time.Second
	DefaultRetries        = 2
	DefaultBackoff        = 500 * time.Millisecond
)

// Valid reports whether e is one of the supported engines.
func (e Engine) Valid() bool {
	switch e {
	case EngineChromium, EngineFirefox, EngineWebKit:
		return true
	}
	return false
}
