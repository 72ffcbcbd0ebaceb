package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"swallow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if file := config.ConfigFile(configPath); file != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", file)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# defaults only, no config file found")
		}
		return cfg.Render(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
