package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/config"
	"github.com/steveyegge/coord/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .coord/ with a default config.yaml in the current directory",
	Long: `Create the .coord directory and a commented config.yaml.

With --interactive, prompts for the liveness and requeue settings first.
The form uses keyboard navigation:
  - Tab/Shift+Tab: Move between fields
  - Enter: Submit
  - Ctrl+C: Cancel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		interactive, _ := cmd.Flags().GetBool("interactive")
		dir := dirFlag
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir = filepath.Join(cwd, config.DirName)
		}

		var overrides map[string]any
		if interactive {
			if !ui.IsTerminal() {
				return errors.New("--interactive needs a terminal")
			}
			var err error
			if overrides, err = runInitForm(); err != nil {
				return err
			}
		}

		path, err := config.WriteConfig(dir, overrides, force)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"dir": dir, "config": path})
			return nil
		}
		fmt.Printf("%s Initialized %s\n", ui.RenderPassIcon(), dir)
		fmt.Printf("Edit %s, then run 'coord daemon start'\n", path)
		return nil
	},
}

func validDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func runInitForm() (map[string]any, error) {
	var (
		staleAfter    = "5m"
		sweepInterval = "30s"
		requeues      = "0"
		logLevel      = "info"
	)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Stale after").
				Description("Heartbeat age after which an agent is marked dead").
				Value(&staleAfter).
				Validate(validDuration),
			huh.NewInput().
				Title("Sweep interval").
				Description("How often the liveness sweeper runs").
				Value(&sweepInterval).
				Validate(validDuration),
			huh.NewInput().
				Title("Max requeues").
				Description("Requeues before a command fails as abandoned (0 = unlimited)").
				Value(&requeues).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 0 {
						return errors.New("enter a whole number >= 0")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&logLevel),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(requeues))
	return map[string]any{
		config.KeyStaleAfter:    strings.TrimSpace(staleAfter),
		config.KeySweepInterval: strings.TrimSpace(sweepInterval),
		config.KeyMaxRequeues:   n,
		config.KeyLogLevel:      logLevel,
	}, nil
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config.yaml")
	initCmd.Flags().BoolP("interactive", "i", false, "Prompt for settings")
	rootCmd.AddCommand(initCmd)
}
