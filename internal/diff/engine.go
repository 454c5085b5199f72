package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
)

// DefaultThreshold is used when the caller does not pass one.
const DefaultThreshold = 0.1

var (
	ErrInvalidThreshold = errors.New("diff: threshold must be within [0,1]")
	ErrUnreadableImage  = errors.New("diff: image could not be decoded")
)

// Capturer is the part of browser.Page a diff needs.
type Capturer interface {
	Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error)
	URL() string
	Viewport() browser.Viewport
}

// Options selects what to capture and how strictly to compare.
type Options struct {
	Selector  string
	Since     string
	Threshold float64
}

// Result is returned to the client and mirrored in the manifest.
type Result struct {
	BaselinePath        string   `json:"baselinePath"`
	CurrentPath         string   `json:"currentPath"`
	DiffPath            string   `json:"diffPath,omitempty"`
	OverlayPath         string   `json:"overlayPath,omitempty"`
	MismatchedPixels    int      `json:"mismatchedPixels"`
	MismatchedRatio     float64  `json:"mismatchedRatio"`
	Regions             []Region `json:"regions"`
	Threshold           float64  `json:"threshold"`
	BaselineInitialized bool     `json:"baselineInitialized"`
	Summary             string   `json:"summary"`
	URL                 string   `json:"url,omitempty"`
	Selector            string   `json:"selector,omitempty"`
}

// Engine runs diffs against the artifacts of one project store.
type Engine struct {
	logger *slog.Logger
}

// NewEngine returns an engine logging through logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "diff")}
}

// Run resolves the baseline, captures the page, compares and records the
// outcome. The baseline is resolved before capturing so the new capture is
// never its own baseline. Every successful run moves the pointer to the new
// capture.
func (e *Engine) Run(ctx context.Context, store *artifact.Store, page Capturer, opts Options) (*Result, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, opts.Threshold)
	}

	baselinePath, err := ResolveBaseline(store, opts.Since)
	if err != nil {
		return nil, err
	}

	shot, err := page.Screenshot(ctx, browser.ScreenshotOptions{Selector: opts.Selector})
	if err != nil {
		return nil, err
	}
	currentPath, err := store.WriteScreenshot(shot)
	if err != nil {
		return nil, err
	}
	stamp := strings.TrimSuffix(filepath.Base(currentPath), ".png")
	vp := page.Viewport()

	res := &Result{
		CurrentPath: currentPath,
		Threshold:   opts.Threshold,
		Regions:     []Region{},
		URL:         page.URL(),
		Selector:    opts.Selector,
	}

	if baselinePath == "" {
		if err := store.Copy(currentPath, store.BaselinePath()); err != nil {
			return nil, err
		}
		res.BaselinePath = store.BaselinePath()
		res.BaselineInitialized = true
		res.Summary = "Baseline initialized; nothing to compare yet."
		e.logger.Info("baseline initialized", "path", res.BaselinePath)
		if err := e.record(store, res); err != nil {
			return nil, err
		}
		return res, nil
	}
	res.BaselinePath = baselinePath

	baseImg, err := e.decode(store, baselinePath)
	if err != nil {
		return nil, err
	}
	curImg, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, currentPath, err)
	}

	cmp, err := Compare(baseImg, curImg, opts.Threshold)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cmp.Diff); err != nil {
		return nil, fmt.Errorf("encode diff image: %w", err)
	}
	if res.DiffPath, err = store.WriteDiff(stamp, ".diff.png", buf.Bytes()); err != nil {
		return nil, err
	}

	res.MismatchedPixels = cmp.Mismatched
	res.MismatchedRatio = cmp.Ratio()
	res.Regions = Regions(cmp.Diff)
	res.Summary = Summarize(res.Regions, vp.Width, vp.Height)

	if overlay, err := RenderOverlay(curImg, cmp.Diff, res.Regions); err != nil {
		e.logger.Warn("overlay render failed", "error", err)
	} else if res.OverlayPath, err = store.WriteDiff(stamp, ".overlay.png", overlay); err != nil {
		e.logger.Warn("overlay write failed", "error", err)
		res.OverlayPath = ""
	}

	e.logger.Debug("diff complete",
		"baseline", baselinePath,
		"current", currentPath,
		"mismatched", res.MismatchedPixels,
		"regions", len(res.Regions))
	if err := e.record(store, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) decode(store *artifact.Store, path string) (image.Image, error) {
	data, err := store.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", path, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	return img, nil
}

func (e *Engine) record(store *artifact.Store, res *Result) error {
	now := store.Now()
	if err := WritePointer(store, res.CurrentPath, now); err != nil {
		return err
	}
	return AppendRecord(store, Record{
		Timestamp:           now.UTC(),
		BaselinePath:        res.BaselinePath,
		CurrentPath:         res.CurrentPath,
		DiffPath:            res.DiffPath,
		MismatchedPixels:    res.MismatchedPixels,
		MismatchedRatio:     res.MismatchedRatio,
		Regions:             res.Regions,
		Threshold:           res.Threshold,
		BaselineInitialized: res.BaselineInitialized,
		URL:                 res.URL,
		Selector:            res.Selector,
	})
}
