package browser

import (
	"context"
	"time"
)

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	Headless bool
}

// ScreenshotOptions scopes a capture. An empty Selector captures the page.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
}

// ElementState holds the flags describe reports for an element.
type ElementState struct {
	Visible  bool
	Disabled bool
}

// Driver starts browsers. The Playwright implementation owns the node driver
// process; Close stops it.
type Driver interface {
	Launch(ctx context.Context, engine Engine, opts LaunchOptions) (Browser, error)
	Close() error
}

// Browser is one launched engine process.
type Browser interface {
	Engine() Engine
	// NewPage opens a fresh context with a single page sized to vp.
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	Close() error
}

// Page is the automation surface capability handlers use. Methods taking a
// selector return an error wrapping ErrNotFound when nothing matches.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	URL() string
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Viewport() Viewport

	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Evaluate(ctx context.Context, expr string, arg any) (any, error)
	EvaluateOn(ctx context.Context, selector, expr string, arg any) (any, error)
	AriaSnapshot(ctx context.Context, selector string) (string, error)
	BoundingBox(ctx context.Context, selector string) (*Rect, error)
	State(ctx context.Context, selector string) (ElementState, error)
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	InnerText(ctx context.Context, selector string) (string, error)

	AddScriptTag(ctx context.Context, content string) error
	AddInitScript(ctx context.Context, script string) error
	ExposeFunction(ctx context.Context, name string, fn func(args ...any) any) error
	OnWebSocketFrame(fn func(frame WebSocketFrame))
	OnNavigated(fn func(url string))

	Close() error
}

// WebSocketFrame is one frame observed on a page websocket.
type WebSocketFrame struct {
	URL     string
	Payload []byte
	Sent    bool
}
