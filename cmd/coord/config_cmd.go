package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (file, environment and flags merged)",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if jsonOutput {
			format = "json"
		}
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Render(format)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the .coord directory in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := coordDir()
		if err != nil {
			return err
		}
		fmt.Println(dir)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "yaml", "Output format: yaml, toml or json")
	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
