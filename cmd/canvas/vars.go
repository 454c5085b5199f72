package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/canvas/internal/client"
	"github.com/neboloop/canvas/internal/config"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	jsonOutput bool
	socketPath string
	timeout    time.Duration
)

// ServerConfig holds the loaded configuration (set by main)
var ServerConfig *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	ServerConfig = c

	rootCmd := &cobra.Command{
		Use:   "canvas",
		Short: "Canvas - headless browser inspection for local dev servers",
		Long: `Canvas keeps a headless browser pointed at your dev server and answers
inspection commands: screenshots, styles, accessibility trees, a11y scans,
pixel diffs and a live stream of UI events.

Start the daemon once with 'canvas daemon start', then 'canvas connect <url>'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			loaded, err := config.LoadFrom(cfgFile)
			if err != nil {
				return err
			}
			*ServerConfig = *loaded
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON results")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket (default: <data dir>/daemon.sock)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "how long to wait for the daemon")

	// Add commands
	rootCmd.AddCommand(DaemonCmd())
	rootCmd.AddCommand(PingCmd())
	rootCmd.AddCommand(ConnectCmd())
	rootCmd.AddCommand(DisconnectCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(ScreenshotCmd())
	rootCmd.AddCommand(ExecuteCmd())
	rootCmd.AddCommand(StylesCmd())
	rootCmd.AddCommand(DOMCmd())
	rootCmd.AddCommand(DescribeCmd())
	rootCmd.AddCommand(ContextCmd())
	rootCmd.AddCommand(A11yCmd())
	rootCmd.AddCommand(DiffCmd())
	rootCmd.AddCommand(WatchCmd())
	rootCmd.AddCommand(ViewerCmd())
	rootCmd.AddCommand(DoctorCmd())

	return rootCmd
}

// resolvedSocket returns --socket or the configured socket.
func resolvedSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return ServerConfig.SocketPath()
}

func newClient() *client.Client {
	format := "text"
	if jsonOutput {
		format = "json"
	}
	return client.New(client.Options{
		Socket:  resolvedSocket(),
		Timeout: timeout,
		Format:  format,
		Version: Version,
	})
}
