package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/config"
	"github.com/steveyegge/coord/internal/debug"
	"github.com/steveyegge/coord/internal/lockfile"
	"github.com/steveyegge/coord/internal/rpc"
)

// startWait bounds how long a background start waits for the socket.
const startWait = 10 * time.Second

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the coordination daemon",
	Long: `Start the daemon that owns the agent registry, command queue, locks and
event bus for this project.

By default the daemon detaches and logs to .coord/daemon.log. Use
--foreground to run it under a supervisor (systemd, supervisord) or while
debugging; logs then also go to stderr.

Examples:
  coord daemon start                  # Start in the background
  coord daemon start --foreground     # Run attached to the terminal
  coord daemon start --log-level debug`,
}

// runDaemonStart is attached in init to avoid an initialization cycle
// (startBackground reads daemonStartCmd's flags).
func runDaemonStart(cmd *cobra.Command, args []string) error {
	foreground, _ := cmd.Flags().GetBool("foreground")

	loader, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bindStartFlags(cmd, loader)
	if cfg, err = loader.Load(); err != nil {
		return err
	}

	if running, pid := lockfile.TryDaemonLock(cfg.Dir); running {
		if jsonOutput {
			outputJSON(map[string]any{"running": true, "pid": pid, "socket": cfg.Socket})
			return nil
		}
		fmt.Printf("Daemon already running (PID %d)\n", pid)
		return nil
	}

	if foreground {
		return runDaemon(cmd.Context(), loader, cfg, true, nil)
	}
	return startBackground(cmd.Context(), cfg)
}

func init() {
	daemonStartCmd.RunE = runDaemonStart
	daemonStartCmd.Flags().Bool("foreground", false, "Run in foreground (don't daemonize)")
	daemonStartCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	daemonStartCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	daemonStartCmd.Flags().String("log", "", "Log file path (default: .coord/daemon.log)")
	daemonStartCmd.Flags().Duration("sweep-interval", 0, "Liveness sweep interval")
	daemonStartCmd.Flags().Duration("stale-after", 0, "Heartbeat age after which an agent is dead")
}

// bindStartFlags lets explicitly set flags override file and environment.
func bindStartFlags(cmd *cobra.Command, loader *config.Loader) {
	v := loader.Viper()
	bind := map[string]string{
		"log-level":      config.KeyLogLevel,
		"log-json":       config.KeyLogJSON,
		"log":            config.KeyLogFile,
		"sweep-interval": config.KeySweepInterval,
		"stale-after":    config.KeyStaleAfter,
	}
	for flag, key := range bind {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}

// startBackground re-executes this binary with --foreground in a new
// session and waits until its socket answers.
func startBackground(ctx context.Context, cfg config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"--dir", cfg.Dir, "daemon", "start", "--foreground"}
	for _, name := range []string{"log-level", "log-json", "log", "sweep-interval", "stale-after"} {
		if f := daemonStartCmd.Flags().Lookup(name); f != nil && f.Changed {
			args = append(args, "--"+name+"="+f.Value.String())
		}
	}
	if socketFlag != "" {
		args = append(args, "--socket", socketFlag)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer func() { _ = devNull.Close() }()

	child := exec.Command(exe, args...) // #nosec G204 -- re-exec of our own binary
	child.Env = append(os.Environ(), "COORD_DAEMON_CHILD=1")
	child.Stdin = devNull
	child.Stdout = devNull
	child.Stderr = devNull
	configureDaemonProcess(child)

	debug.Logf("starting daemon: %s %v", exe, args)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	client, err := rpc.WaitForDaemon(ctx, cfg.Socket, startWait)
	if err != nil {
		return fmt.Errorf("daemon (PID %d) did not come up, see %s: %w", pid, cfg.LogFile, err)
	}
	_ = client.Close()

	if jsonOutput {
		outputJSON(map[string]any{"started": true, "pid": pid, "socket": cfg.Socket, "log": cfg.LogFile})
		return nil
	}
	debug.PrintNormal("Daemon started (PID %d)\n", pid)
	debug.PrintNormal("Socket: %s\nLogging to: %s\n", cfg.Socket, cfg.LogFile)
	return nil
}
