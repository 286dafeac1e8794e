// Command coord runs and talks to the agent coordination daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/config"
	"github.com/steveyegge/coord/internal/debug"
	"github.com/steveyegge/coord/internal/rpc"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	dirFlag     string
	socketFlag  string
	callTimeout time.Duration

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "coord",
	Short: "Coordinate agents through a local daemon",
	Long: `coord runs a local daemon that coordinates cooperating agents.

Agents register and heartbeat, pull prioritized commands from a shared queue,
take named locks, and exchange events over a pub/sub bus. Everything goes
through one unix socket in the project's .coord directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Path to the .coord directory (default: nearest .coord above cwd)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Daemon socket path (default: <dir>/coord.sock)")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Per-request timeout")
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(rootCtx)
	rootCancel()
	if err != nil {
		if jsonOutput {
			outputJSONError(err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// coordDir resolves --dir, falling back to the nearest .coord directory.
func coordDir() (string, error) {
	if dirFlag != "" {
		return filepath.Abs(dirFlag)
	}
	if env := os.Getenv("COORD_DIR"); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return config.FindDir(cwd), nil
}

// loadConfig reads config for the resolved directory. --socket wins over
// file and environment.
func loadConfig() (*config.Loader, config.Config, error) {
	dir, err := coordDir()
	if err != nil {
		return nil, config.Config{}, err
	}
	loader, err := config.NewLoader(dir)
	if err != nil {
		return nil, config.Config{}, err
	}
	if f := rootCmd.PersistentFlags().Lookup("socket"); f != nil && f.Changed {
		loader.Viper().Set(config.KeySocket, socketFlag)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	return loader, cfg, nil
}

// connect dials the daemon for client commands.
func connect() (*rpc.Client, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	debug.Logf("connecting to %s", cfg.Socket)
	client, err := rpc.Dial(cfg.Socket, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (run 'coord daemon start'): %w", cfg.Socket, err)
	}
	client.SetTimeout(callTimeout)
	return client, nil
}

// withClient runs fn against a fresh connection and closes it afterwards.
func withClient(fn func(c *rpc.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}
