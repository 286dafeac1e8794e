package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/coord/internal/config"
	"github.com/steveyegge/coord/internal/coord"
	"github.com/steveyegge/coord/internal/lockfile"
	"github.com/steveyegge/coord/internal/logging"
	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/storage"
	"github.com/steveyegge/coord/internal/telemetry"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the coordination daemon",
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// policyFrom maps the reloadable part of the config onto coordinator policy.
func policyFrom(cfg config.Config) coord.Policy {
	return coord.Policy{
		StaleAfter:         cfg.StaleAfter,
		ReapAfter:          cfg.ReapAfter,
		MaxRequeues:        cfg.MaxRequeues,
		DefaultLockTimeout: cfg.DefaultLockTimeout,
	}
}

// runDaemon serves until ctx is cancelled or a client sends
// daemon.shutdown. ready, if non-nil, is closed once the socket accepts
// connections.
func runDaemon(ctx context.Context, loader *config.Loader, cfg config.Config, foreground bool, ready chan<- struct{}) (err error) {
	logger, err := logging.New(logging.Options{
		File:       cfg.LogFile,
		Level:      cfg.LogLevel,
		JSON:       cfg.LogJSON,
		Foreground: foreground,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	log := logger.Logger

	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			stack = stack[:runtime.Stack(stack, false)]
			log.Error("daemon crashed", "panic", r, "trace", string(stack))
			err = fmt.Errorf("daemon crashed: %v", r)
		}
	}()

	lock, err := lockfile.Acquire(cfg.Dir, Version, cfg.Socket)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			running, pid := lockfile.TryDaemonLock(cfg.Dir)
			if running {
				return fmt.Errorf("daemon already running (PID %d)", pid)
			}
		}
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	otelShutdown, err := telemetry.Init(ctx, telemetry.SettingsFromEnv("coord", Version))
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	store := telemetry.WrapStore(storage.NewFileStore(cfg.StateDir()))
	c, err := coord.New(ctx, coord.Options{
		Store:  store,
		Policy: policyFrom(cfg),
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := c.Close(closeCtx); closeErr != nil {
			log.Error("final flush failed", "error", closeErr)
		}
	}()

	srv := rpc.NewServer(c, rpc.Config{
		SocketPath:    cfg.Socket,
		MaxConns:      cfg.MaxConns,
		MaxFrameBytes: cfg.MaxFrameBytes,
		WriteTimeout:  cfg.WriteTimeout,
		EventBuffer:   cfg.EventBuffer,
		SweepInterval: cfg.SweepInterval,
		Version:       Version,
		Logger:        log,
	})

	if loader != nil && loader.Watch(log, func(next config.Config) {
		c.SetPolicy(policyFrom(next))
		logger.SetLevel(next.LogLevel)
	}) {
		log.Debug("watching config", "file", config.ConfigFile(cfg.Dir))
	}

	log.Info("daemon starting", "version", Version, "pid", os.Getpid(), "dir", cfg.Dir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-srv.WaitReady():
			if ready != nil {
				close(ready)
			}
		case <-gctx.Done():
		case <-srv.Done():
		}
		return nil
	})
	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, rotateSignals...)
		defer signal.Stop(sigs)
		for {
			select {
			case sig := <-sigs:
				if isRotateSignal(sig) {
					if err := logger.Rotate(); err != nil {
						log.Warn("log rotation failed", "error", err)
					}
				}
			case <-gctx.Done():
				return nil
			case <-srv.Done():
				return nil
			}
		}
	})

	err = g.Wait()
	_ = srv.Stop()
	log.Info("daemon stopped")
	return err
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		running, pid := lockfile.TryDaemonLock(cfg.Dir)
		if !running {
			if jsonOutput {
				outputJSON(map[string]any{"running": false, "socket": cfg.Socket})
				return nil
			}
			fmt.Println("Daemon is not running")
			return nil
		}
		return withClient(func(c *rpc.Client) error {
			health, err := c.Health()
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(map[string]any{"running": true, "pid": pid, "socket": cfg.Socket, "health": health})
				return nil
			}
			printHealth(pid, cfg.Socket, health)
			return nil
		})
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		running, pid := lockfile.TryDaemonLock(cfg.Dir)
		if !running {
			return errors.New("daemon is not running")
		}
		return stopDaemon(cmd.Context(), cfg, pid)
	},
}

// stopDaemon asks politely over the socket, then falls back to SIGTERM.
func stopDaemon(ctx context.Context, cfg config.Config, pid int) error {
	if c, err := rpc.Dial(cfg.Socket, time.Second); err == nil {
		shutdownErr := c.Shutdown()
		_ = c.Close()
		if shutdownErr == nil && waitForExit(ctx, cfg.Dir, 5*time.Second) {
			printStopped(pid)
			return nil
		}
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := sendStopSignal(proc); err != nil {
		return fmt.Errorf("signal daemon (PID %d): %w", pid, err)
	}
	if !waitForExit(ctx, cfg.Dir, 5*time.Second) {
		return fmt.Errorf("daemon (PID %d) did not exit", pid)
	}
	printStopped(pid)
	return nil
}

func waitForExit(ctx context.Context, dir string, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if running, _ := lockfile.TryDaemonLock(dir); !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

func printStopped(pid int) {
	if jsonOutput {
		outputJSON(map[string]any{"stopped": true, "pid": pid})
		return
	}
	fmt.Printf("Stopped daemon (PID %d)\n", pid)
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
}
