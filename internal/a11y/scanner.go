// Package a11y runs axe-core against the live page.
package a11y

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/neboloop/canvas/internal/browser"
)

// DefaultAxeURL is where the page loads axe-core from when no local copy is
// configured.
const DefaultAxeURL = "https://cdn.jsdelivr.net/npm/axe-core@4.10.2/axe.min.js"

// Level is a WCAG conformance level.
type Level string

const (
	LevelA   Level = "A"
	LevelAA  Level = "AA"
	LevelAAA Level = "AAA"
)

// DefaultLevel is used when a scan names no level.
const DefaultLevel = LevelAA

// ErrInvalidLevel is returned by ParseLevel for anything but A, AA or AAA.
var ErrInvalidLevel = errors.New("level must be A, AA or AAA")

// ErrInject is returned when axe-core could not be loaded into the page.
var ErrInject = errors.New("inject axe-core")

// ParseLevel accepts a level in any case. Empty means DefaultLevel.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return DefaultLevel, nil
	case LevelA:
		return LevelA, nil
	case LevelAA:
		return LevelAA, nil
	case LevelAAA:
		return LevelAAA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Tags returns the axe rule tags checked at l. Each level includes the
// levels below it.
func (l Level) Tags() []string {
	tags := []string{"wcag2a", "wcag21a"}
	if l == LevelAA || l == LevelAAA {
		tags = append(tags, "wcag2aa", "wcag21aa")
	}
	if l == LevelAAA {
		tags = append(tags, "wcag2aaa")
	}
	return tags
}

// Options scopes a scan.
type Options struct {
	Selector string
	Level    Level
}

// Result holds axe's result lists as returned by the page.
type Result struct {
	Level        Level    `json:"level"`
	Tags         []string `json:"tags"`
	Selector     string   `json:"selector,omitempty"`
	URL          string   `json:"url"`
	Violations   []any    `json:"violations"`
	Passes       []any    `json:"passes"`
	Incomplete   []any    `json:"incomplete"`
	Inapplicable []any    `json:"inapplicable"`
	Note         string   `json:"note,omitempty"`
}

const presentScript = `() => typeof window.axe !== "undefined" && typeof window.axe.run === "function"`

const loadScript = `(src) => new Promise((resolve, reject) => {
  const s = document.createElement("script");
  s.src = src;
  s.onload = () => resolve(true);
  s.onerror = () => reject(new Error("failed to load axe-core from " + src));
  document.head.appendChild(s);
})`

const runScript = `async ({ selector, tags }) => {
  const context = selector ? document.querySelector(selector) : document;
  const r = await window.axe.run(context, { runOnly: { type: "tag", values: tags } });
  return {
    violations: r.violations,
    passes: r.passes,
    incomplete: r.incomplete,
    inapplicable: r.inapplicable,
  };
}`

// Scanner injects axe-core into pages on demand and runs it.
type Scanner struct {
	fs      afero.Fs
	path    string
	url     string
	logger  *slog.Logger
	once    sync.Once
	source  string
	loadErr error
}

// NewScanner returns a scanner that injects axe-core from path on fs, or
// has the page fetch it from DefaultAxeURL when path is empty.
func NewScanner(fs afero.Fs, path string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{fs: fs, path: path, url: DefaultAxeURL, logger: logger.With("component", "a11y")}
}

// WithURL overrides the remote axe-core location.
func (s *Scanner) WithURL(url string) *Scanner {
	s.url = url
	return s
}

func (s *Scanner) axeSource() (string, error) {
	s.once.Do(func() {
		if s.path == "" {
			return
		}
		b, err := afero.ReadFile(s.fs, s.path)
		if err != nil {
			s.loadErr = fmt.Errorf("read axe-core: %w", err)
			return
		}
		s.source = string(b)
	})
	return s.source, s.loadErr
}

func (s *Scanner) inject(ctx context.Context, page browser.Page) error {
	present, err := page.Evaluate(ctx, presentScript, nil)
	if err != nil {
		return err
	}
	if ok, _ := present.(bool); ok {
		return nil
	}
	src, err := s.axeSource()
	if err != nil {
		return err
	}
	if src != "" {
		return page.AddScriptTag(ctx, src)
	}
	s.logger.Debug("loading axe-core from network", "url", s.url)
	_, err = page.Evaluate(ctx, loadScript, s.url)
	return err
}

// Scan checks the page, or the subtree at opts.Selector, against the rules
// of opts.Level.
func (s *Scanner) Scan(ctx context.Context, page browser.Page, engine browser.Engine, opts Options) (*Result, error) {
	if opts.Level == "" {
		opts.Level = DefaultLevel
	}
	if opts.Selector != "" {
		n, err := page.Count(ctx, opts.Selector)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, opts.Selector)
		}
	}
	if err := s.inject(ctx, page); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInject, err)
	}

	tags := opts.Level.Tags()
	raw, err := page.Evaluate(ctx, runScript, map[string]any{"selector": opts.Selector, "tags": tags})
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected axe result %T", raw)
	}

	res := &Result{
		Level:        opts.Level,
		Tags:         tags,
		Selector:     opts.Selector,
		URL:          page.URL(),
		Violations:   list(m["violations"]),
		Passes:       list(m["passes"]),
		Incomplete:   list(m["incomplete"]),
		Inapplicable: list(m["inapplicable"]),
	}
	if engine != "" && engine != browser.EngineChromium {
		res.Note = fmt.Sprintf("axe-core results are most reliable in chromium; %s may report more incomplete checks", engine)
	}
	return res, nil
}

func list(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}
