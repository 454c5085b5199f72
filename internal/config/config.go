// Package config loads the daemon configuration from <data dir>/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/canvas/internal/a11y"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/defaults"
	"github.com/neboloop/canvas/internal/diff"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/script"
	"github.com/neboloop/canvas/internal/watch"
)

// Config holds the daemon configuration.
type Config struct {
	DataDir       string `yaml:"data_dir"`
	Socket        string `yaml:"socket"`
	MaxFrameBytes int    `yaml:"max_frame_bytes"`

	Browser BrowserConfig `yaml:"browser"`
	Watch   WatchConfig   `yaml:"watch"`
	Diff    DiffConfig    `yaml:"diff"`
	Execute ExecuteConfig `yaml:"execute"`
	A11y    A11yConfig    `yaml:"a11y"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Log     LogConfig     `yaml:"log"`
}

// BrowserConfig holds connect defaults; request params override them.
type BrowserConfig struct {
	Engine    string         `yaml:"engine"`
	Headless  bool           `yaml:"headless"`
	Install   bool           `yaml:"install"` // download Playwright browsers on first launch
	TimeoutMs int            `yaml:"timeout_ms"`
	Retries   int            `yaml:"retries"`
	BackoffMs int            `yaml:"backoff_ms"`
	Viewport  ViewportConfig `yaml:"viewport"`
}

type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// WatchConfig seeds the watch engine.
type WatchConfig struct {
	QuietWindowMs   int      `yaml:"quiet_window_ms"`
	MaxWaitMs       int      `yaml:"max_wait_ms"`
	SettleMs        int      `yaml:"settle_ms"`
	LiveIntervalSec int      `yaml:"live_interval_sec"`
	LiveMaxEntries  int      `yaml:"live_max_entries"`
	Ignore          []string `yaml:"ignore"`
}

type DiffConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type ExecuteConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

type A11yConfig struct {
	AxePath string `yaml:"axe_path"`
	AxeURL  string `yaml:"axe_url"`
}

type ViewerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   bool   `yaml:"file"`   // also write <data dir>/daemon.log
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:       DefaultDataDir(),
		MaxFrameBytes: protocol.DefaultMaxFrame,
		Browser: BrowserConfig{
			Engine:    string(browser.DefaultEngine),
			Headless:  true,
			TimeoutMs: int(browser.DefaultNavTimeout / time.Millisecond),
			Retries:   browser.DefaultRetries,
			BackoffMs: int(browser.DefaultBackoff / time.Millisecond),
			Viewport: ViewportConfig{
				Width:  browser.DefaultViewportWidth,
				Height: browser.DefaultViewportHeight,
			},
		},
		Watch: WatchConfig{
			QuietWindowMs:   int(watch.DefaultQuietWindow / time.Millisecond),
			MaxWaitMs:       int(watch.DefaultMaxWait / time.Millisecond),
			SettleMs:        int(watch.DefaultSettle / time.Millisecond),
			LiveIntervalSec: watch.DefaultLiveIntervalSec,
			LiveMaxEntries:  watch.DefaultLiveMaxEntries,
			Ignore:          append([]string{}, watch.DefaultIgnore...),
		},
		Diff:    DiffConfig{Threshold: diff.DefaultThreshold},
		Execute: ExecuteConfig{TimeoutMs: int(script.DefaultTimeout / time.Millisecond)},
		A11y:    A11yConfig{AxeURL: a11y.DefaultAxeURL},
		Viewer:  ViewerConfig{Addr: "127.0.0.1:7357"},
		Log:     LogConfig{Level: "info", Format: "text", File: true},
	}
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	dir, err := defaults.DataDir()
	if err != nil {
		return ".canvas-data"
	}
	return dir
}

// Load reads config.yaml from the data directory. A missing file yields the
// defaults.
func Load() (*Config, error) {
	path := filepath.Join(DefaultDataDir(), defaults.ConfigFile)
	cfg, err := LoadFrom(path)
	if err != nil && os.IsNotExist(err) {
		cfg = DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands $VARS in data, decodes it over the defaults and applies the
// environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a sparse file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if strings.HasPrefix(c.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.Browser.Engine == "" {
		c.Browser.Engine = def.Browser.Engine
	}
	if c.Browser.TimeoutMs <= 0 {
		c.Browser.TimeoutMs = def.Browser.TimeoutMs
	}
	if c.Browser.Retries < 0 {
		c.Browser.Retries = def.Browser.Retries
	}
	if c.Browser.BackoffMs < 0 {
		c.Browser.BackoffMs = 0
	}
	if c.Browser.Viewport.Width <= 0 {
		c.Browser.Viewport.Width = def.Browser.Viewport.Width
	}
	if c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport.Height = def.Browser.Viewport.Height
	}
	if c.Watch.QuietWindowMs <= 0 {
		c.Watch.QuietWindowMs = def.Watch.QuietWindowMs
	}
	if c.Watch.MaxWaitMs <= 0 {
		c.Watch.MaxWaitMs = def.Watch.MaxWaitMs
	}
	if c.Watch.SettleMs <= 0 {
		c.Watch.SettleMs = def.Watch.SettleMs
	}
	if c.Watch.LiveIntervalSec <= 0 {
		c.Watch.LiveIntervalSec = def.Watch.LiveIntervalSec
	}
	if c.Watch.LiveMaxEntries <= 0 {
		c.Watch.LiveMaxEntries = def.Watch.LiveMaxEntries
	}
	if c.Watch.Ignore == nil {
		c.Watch.Ignore = def.Watch.Ignore
	}
	if c.Execute.TimeoutMs <= 0 {
		c.Execute.TimeoutMs = def.Execute.TimeoutMs
	}
	if c.A11y.AxeURL == "" {
		c.A11y.AxeURL = def.A11y.AxeURL
	}
	if c.Viewer.Addr == "" {
		c.Viewer.Addr = def.Viewer.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CANVAS_SOCKET"); v != "" {
		c.Socket = v
	}
	if v := os.Getenv("CANVAS_ENGINE"); v != "" {
		c.Browser.Engine = v
	}
	if v := os.Getenv("CANVAS_HEADLESS"); v != "" {
		c.Browser.Headless = parseBool(v, c.Browser.Headless)
	}
	if v := os.Getenv("CANVAS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if !browser.Engine(c.Browser.Engine).Valid() {
		return fmt.Errorf("browser.engine: unsupported engine %q", c.Browser.Engine)
	}
	if c.Diff.Threshold < 0 || c.Diff.Threshold > 1 {
		return fmt.Errorf("diff.threshold: %v is outside [0,1]", c.Diff.Threshold)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SocketPath returns the configured socket or the default inside DataDir.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return defaults.SocketPath(c.DataDir)
}

// ConnectOptions turns the browser section into manager options.
func (c *Config) ConnectOptions() browser.ConnectOptions {
	return browser.ConnectOptions{
		Engine:   browser.Engine(c.Browser.Engine),
		Headless: c.Browser.Headless,
		Timeout:  time.Duration(c.Browser.TimeoutMs) * time.Millisecond,
		Retries:  c.Browser.Retries,
		Backoff:  time.Duration(c.Browser.BackoffMs) * time.Millisecond,
		Viewport: browser.Viewport{Width: c.Browser.Viewport.Width, Height: c.Browser.Viewport.Height},
	}
}

// WatchEngineConfig turns the watch section into engine settings.
func (c *Config) WatchEngineConfig() watch.Config {
	return watch.Config{
		QuietWindow:     time.Duration(c.Watch.QuietWindowMs) * time.Millisecond,
		MaxWait:         time.Duration(c.Watch.MaxWaitMs) * time.Millisecond,
		Settle:          time.Duration(c.Watch.SettleMs) * time.Millisecond,
		Ignore:          append([]string{}, c.Watch.Ignore...),
		LiveIntervalSec: c.Watch.LiveIntervalSec,
		LiveMaxEntries:  c.Watch.LiveMaxEntries,
	}
}

// ExecuteTimeout is the default script timeout.
func (c *Config) ExecuteTimeout() time.Duration {
	return time.Duration(c.Execute.TimeoutMs) * time.Millisecond
}

// parseBool accepts "true", "1" and "yes" as true; empty returns defaultVal.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}
