package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/client"
	"github.com/neboloop/canvas/internal/daemon"
	"github.com/neboloop/canvas/internal/defaults"
	"github.com/neboloop/canvas/internal/logging"
	"github.com/neboloop/canvas/internal/protocol"
)

// DaemonCmd groups the daemon lifecycle commands
func DaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run, start, stop or inspect the canvas daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon, session and watcher state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, protocol.MethodDaemonStatus, nil, printDaemonStatus)
		},
	})
	return cmd
}

func runDaemon(cmd *cobra.Command) error {
	cfg := ServerConfig
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if dir, err := defaults.DataDir(); err == nil && dir == cfg.DataDir {
		if _, err := defaults.EnsureDataDir(); err != nil {
			return err
		}
	}

	// Enforce single instance with lock file
	lockFile, err := acquireLock(cfg.DataDir)
	if err != nil {
		return alreadyRunning(err)
	}
	defer releaseLock(lockFile)

	logFile := ""
	if cfg.Log.File {
		logFile = defaults.LogPath(cfg.DataDir)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   logFile,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	srv, err := daemon.New(daemon.Options{
		Config:  cfg,
		Driver:  browser.NewPlaywrightDriver(cfg.Browser.Install, logger),
		Logger:  logger,
		Version: Version,
	})
	if err != nil {
		return err
	}

	ln, err := daemon.Listen(cfg.SocketPath())
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return alreadyRunning(err)
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if !jsonOutput {
		printStartupBanner(cmd.OutOrStdout(), cfg.SocketPath(), cfg.DataDir)
	}
	return srv.Serve(ctx, ln)
}

func alreadyRunning(err error) error {
	return protocol.NewError(protocol.CodeDaemonAlreadyRunning, err.Error(),
		protocol.WithSuggestion("check it with `canvas daemon status` or stop it with `canvas daemon stop`"))
}

func startDaemon(cmd *cobra.Command) error {
	c := newClient()
	if err := c.Ping(cmd.Context()); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "daemon already running at %s\n", c.Socket())
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate canvas binary: %w", err)
	}
	args := []string{"daemon", "run", "--socket", c.Socket()}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	child := exec.Command(exe, args...)
	child.SysProcAttr = detachedProcAttr()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	if !waitForDaemon(cmd.Context(), c, 15*time.Second) {
		return protocol.NewError(protocol.CodeDaemonNotRunning,
			fmt.Sprintf("daemon (pid %d) did not come up at %s", pid, c.Socket()),
			protocol.WithSuggestion("run `canvas daemon run` to see its output, or `canvas doctor`"))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "daemon started (pid %d) at %s\n", pid, c.Socket())
	return nil
}

func stopDaemon(cmd *cobra.Command) error {
	c := newClient()
	if _, err := c.Call(cmd.Context(), protocol.MethodDaemonStop, nil); err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) && pe.Code == protocol.CodeDaemonNotRunning {
			fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
			return nil
		}
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 500*time.Millisecond)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return protocol.NewError(protocol.CodeDaemonShuttingDown, "daemon is still answering after stop",
		protocol.WithSuggestion("try `canvas daemon stop` again"))
}

// waitForDaemon polls the socket until the daemon answers or timeout
func waitForDaemon(ctx context.Context, c *client.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		err := c.Ping(pctx)
		cancel()
		if err == nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// printStartupBanner prints where the daemon listens
func printStartupBanner(w io.Writer, socket, dataDir string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "\033[1;32m  canvas daemon is running\033[0m")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  \033[1;36m→\033[0m Socket:   %s\n", socket)
	fmt.Fprintf(w, "  \033[1;36m→\033[0m Protocol: %s\n", protocol.Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  \033[2mData: %s\033[0m\n", dataDir)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  \033[2mPress Ctrl+C to stop\033[0m")
	fmt.Fprintln(w)
}

func writePID(file *os.File) {
	file.Truncate(0)
	file.Seek(0, 0)
	fmt.Fprintf(file, "%d\n", os.Getpid())
	file.Sync()
}
