package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/defaults"
	"github.com/neboloop/canvas/internal/doctor"
	"github.com/neboloop/canvas/internal/protocol"
)

var errUnhealthy = errors.New("doctor found problems")

// DoctorCmd checks the local installation, or asks the running daemon to
// check its own with --daemon.
func DoctorCmd() *cobra.Command {
	var (
		launch    bool
		viaDaemon bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and diagnose issues",
		Long: `Run diagnostic checks on the canvas installation.

Checks:
  - Data directory exists and is writable
  - Configuration file parses
  - Daemon socket answers
  - Playwright driver and browsers are installed
  - A Chrome binary is available (--launch also starts it)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report doctor.Report
			if viaDaemon {
				raw, err := newClient().Call(cmd.Context(), protocol.MethodDoctor, map[string]any{"launch": launch})
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &report); err != nil {
					return err
				}
			} else {
				dataDir := ServerConfig.DataDir
				report = doctor.Run(cmd.Context(),
					doctor.DataDir(dataDir),
					doctor.ConfigFile(filepath.Join(dataDir, defaults.ConfigFile)),
					doctor.Socket(resolvedSocket()),
					doctor.Driver(browser.NewPlaywrightDriver(false, slog.Default())),
					doctor.Chrome("", launch),
				)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				raw, err := json.Marshal(report)
				if err != nil {
					return err
				}
				if err := printJSON(out, raw); err != nil {
					return err
				}
			} else {
				printReport(out, report)
			}
			if !report.Healthy() {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "also start Chrome headless")
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "run the checks inside the running daemon")
	return cmd
}

func printReport(w io.Writer, r doctor.Report) {
	fmt.Fprintln(w, "Canvas Doctor")
	fmt.Fprintln(w, "=============")
	fmt.Fprintln(w)
	for _, c := range r.Checks {
		switch c.Status {
		case doctor.StatusOK:
			fmt.Fprintf(w, "\033[32m✓\033[0m %s: %s\n", c.Name, c.Message)
		case doctor.StatusWarn:
			fmt.Fprintf(w, "\033[33m⚠\033[0m %s: %s\n", c.Name, c.Message)
		default:
			fmt.Fprintf(w, "\033[31m✗\033[0m %s: %s\n", c.Name, c.Message)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  \033[32m%d passed\033[0m", r.OK)
	if r.Warn > 0 {
		fmt.Fprintf(w, "  \033[33m%d warnings\033[0m", r.Warn)
	}
	if r.Error > 0 {
		fmt.Fprintf(w, "  \033[31m%d errors\033[0m", r.Error)
	}
	fmt.Fprintln(w)
}
