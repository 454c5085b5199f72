package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/canvas/internal/client"
	"github.com/neboloop/canvas/internal/protocol"
)

func PingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodPing, nil, printPing)
		},
	}
}

func ConnectCmd() *cobra.Command {
	var (
		watchPaths []string
		engine     string
		timeoutMs  int
		headed     bool
		retries    int
		backoffMs  int
		width      int
		height     int
	)
	cmd := &cobra.Command{
		Use:   "connect <url>",
		Short: "Open a page in the daemon's browser",
		Long: `Open url in the daemon's browser, replacing any previous session.

Examples:
  canvas connect http://localhost:3000
  canvas connect http://localhost:5173 --watch src --engine firefox`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"url": args[0]}
			if len(watchPaths) > 0 {
				params["watchPaths"] = watchPaths
			}
			if engine != "" {
				params["engine"] = engine
			}
			if cmd.Flags().Changed("timeout-ms") {
				params["timeoutMs"] = timeoutMs
			}
			if cmd.Flags().Changed("headed") {
				params["headless"] = !headed
			}
			if cmd.Flags().Changed("retries") {
				params["retries"] = retries
			}
			if cmd.Flags().Changed("backoff-ms") {
				params["backoffMs"] = backoffMs
			}
			if width > 0 || height > 0 {
				params["viewport"] = map[string]int{"width": width, "height": height}
			}
			return call(cmd, protocol.MethodConnect, params, printSession)
		},
	}
	cmd.Flags().StringSliceVarP(&watchPaths, "watch", "w", nil, "paths to watch for file changes")
	cmd.Flags().StringVar(&engine, "engine", "", "chromium, firefox or webkit")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "navigation timeout per attempt")
	cmd.Flags().BoolVar(&headed, "headed", false, "show the browser window")
	cmd.Flags().IntVar(&retries, "retries", 0, "extra attempts after a navigation timeout")
	cmd.Flags().IntVar(&backoffMs, "backoff-ms", 0, "pause between attempts")
	cmd.Flags().IntVar(&width, "width", 0, "viewport width")
	cmd.Flags().IntVar(&height, "height", 0, "viewport height")
	return cmd
}

func DisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Close the current page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodDisconnect, nil, func(w io.Writer, _ json.RawMessage) error {
				_, err := fmt.Fprintln(w, "disconnected")
				return err
			})
		},
	}
}

func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodStatus, nil, printSession)
		},
	}
}

func ScreenshotCmd() *cobra.Command {
	var (
		selector string
		full     bool
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the viewport or one element into .canvas/screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if selector != "" {
				return call(cmd, protocol.MethodScreenshotElement, map[string]any{"selector": selector}, printPath)
			}
			return call(cmd, protocol.MethodScreenshotViewport, map[string]any{"fullPage": full}, printPath)
		},
	}
	cmd.Flags().StringVarP(&selector, "selector", "s", "", "capture only this element")
	cmd.Flags().BoolVar(&full, "full", false, "capture the full scrollable page")
	return cmd
}

func ExecuteCmd() *cobra.Command {
	var (
		file      string
		timeoutMs int
	)
	cmd := &cobra.Command{
		Use:   "execute [code]",
		Short: "Run JavaScript with a page object in scope",
		Long: `Run code as the body of an async function. The page object exposes
evaluate, url, title, content, click, fill, text, count and screenshot.

Examples:
  canvas execute 'return await page.title()'
  canvas execute --file check.js
  echo 'return page.count("li")' | canvas execute -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(cmd, file, args)
			if err != nil {
				return err
			}
			params := map[string]any{"code": code}
			if timeoutMs > 0 {
				params["timeoutMs"] = timeoutMs
			}
			return call(cmd, protocol.MethodExecute, params, printExecute)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the script from a file")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "script timeout (default from config)")
	return cmd
}

func readCode(cmd *cobra.Command, file string, args []string) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	case len(args) == 1:
		return args[0], nil
	}
	return "", errors.New("pass code as an argument, - for stdin, or --file")
}

func StylesCmd() *cobra.Command {
	var props []string
	cmd := &cobra.Command{
		Use:   "styles <selector>",
		Short: "Print computed styles of an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodStyles, map[string]any{"selector": args[0], "properties": props}, printStyles)
		},
	}
	cmd.Flags().StringSliceVarP(&props, "prop", "p", nil, "only these properties")
	return cmd
}

func DOMCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "dom [selector]",
		Short: "Print the accessibility tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"depth": depth}
			if len(args) == 1 {
				params["selector"] = args[0]
			}
			return call(cmd, protocol.MethodDOM, params, printDOM)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 5, "levels to include")
	return cmd
}

func DescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [selector]",
		Short: "Describe the page or an element in one sentence",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if len(args) == 1 {
				params["selector"] = args[0]
			}
			return call(cmd, protocol.MethodDescribe, params, printDescription)
		},
	}
}

func ContextCmd() *cobra.Command {
	var (
		depth int
		props []string
	)
	cmd := &cobra.Command{
		Use:   "context [selector]",
		Short: "Screenshot, description, tree and styles in one call",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"depth": depth, "properties": props}
			if len(args) == 1 {
				params["selector"] = args[0]
			}
			return call(cmd, protocol.MethodContext, params, printContext)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 5, "tree levels to include")
	cmd.Flags().StringSliceVarP(&props, "prop", "p", nil, "only these style properties")
	return cmd
}

func A11yCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "a11y [selector]",
		Short: "Run an axe-core accessibility scan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"level": level}
			if len(args) == 1 {
				params["selector"] = args[0]
			}
			return call(cmd, protocol.MethodA11y, params, printA11y)
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "AA", "WCAG level: A, AA or AAA")
	return cmd
}

func DiffCmd() *cobra.Command {
	var (
		selector  string
		since     string
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare the page against the last capture",
		Long: `Capture the page and compare it pixel by pixel with a baseline: the
capture named by --since, else the previous diff's capture, else the latest
screenshot. The first diff in a project only records a baseline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if selector != "" {
				params["selector"] = selector
			}
			if since != "" {
				params["since"] = since
			}
			if cmd.Flags().Changed("threshold") {
				params["threshold"] = threshold
			}
			return call(cmd, protocol.MethodDiff, params, printDiff)
		},
	}
	cmd.Flags().StringVarP(&selector, "selector", "s", "", "compare only this element")
	cmd.Flags().StringVar(&since, "since", "", `baseline: ISO timestamp or "last"`)
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.1, "per-pixel colour tolerance in [0,1]")
	return cmd
}

func WatchCmd() *cobra.Command {
	var (
		events []string
		live   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream file, HMR and UI readiness events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			params := map[string]any{"events": events, "live": live}
			return newClient().Subscribe(ctx, params,
				func(sub client.Subscription) {
					if !jsonOutput {
						fmt.Fprintf(cmd.ErrOrStderr(), "subscribed (%s); Ctrl+C to stop\n", sub.ID)
					}
				},
				func(ev protocol.Event) error { return printEvent(out, ev) })
		},
	}
	cmd.Flags().StringSliceVarP(&events, "events", "e", nil, "only these event types")
	cmd.Flags().BoolVar(&live, "live", false, "also capture the viewport periodically")
	cmd.AddCommand(watchConfigureCmd())
	return cmd
}

func watchConfigureCmd() *cobra.Command {
	var (
		quietMs, maxWaitMs, liveInterval, liveMax int
		ignore, paths                             []string
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Change debounce windows, ignore list, paths and live capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			set := func(flag, key string, v any) {
				if cmd.Flags().Changed(flag) {
					params[key] = v
				}
			}
			set("quiet-ms", "quietWindowMs", quietMs)
			set("max-wait-ms", "maxWaitMs", maxWaitMs)
			set("live-interval", "liveIntervalSec", liveInterval)
			set("live-max", "liveMaxEntries", liveMax)
			set("ignore", "ignore", ignore)
			set("paths", "paths", paths)
			return call(cmd, protocol.MethodWatchConfigure, params, nil)
		},
	}
	cmd.Flags().IntVar(&quietMs, "quiet-ms", 0, "quiet window before ui_ready")
	cmd.Flags().IntVar(&maxWaitMs, "max-wait-ms", 0, "longest a burst may delay ui_ready")
	cmd.Flags().IntVar(&liveInterval, "live-interval", 0, "seconds between live captures")
	cmd.Flags().IntVar(&liveMax, "live-max", 0, "live captures to keep")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "path segments the file watcher skips")
	cmd.Flags().StringSliceVar(&paths, "paths", nil, "paths to watch")
	return cmd
}

func ViewerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Serve a local page that streams watch events and the latest capture",
	}
	var addr string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if addr != "" {
				params["addr"] = addr
			}
			return call(cmd, protocol.MethodViewerStart, params, printViewer)
		},
	}
	start.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.AddCommand(start)
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodViewerStop, nil, printViewer)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the viewer address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodViewerStatus, nil, printViewer)
		},
	})
	return cmd
}
