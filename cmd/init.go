package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"swallow/internal/processor"
	"swallow/internal/tui"
)

var initCmd = &cobra.Command{
	Use:   "init [pipeline...]",
	Short: "Create the directory set of each pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelines, err := cfg.Select(args)
		if err != nil {
			return err
		}
		if len(pipelines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines configured.")
			return nil
		}

		rows := make([]tui.SummaryRow, 0, len(pipelines))
		for _, p := range pipelines {
			dirs := processor.NewDirs(cfg.Storage.Root, p.Name)
			if err := dirs.Ensure(); err != nil {
				return err
			}
			log.Infow("Directory set ready", "pipeline", p.Name, "input", dirs.Input)
			rows = append(rows, tui.SummaryRow{Label: p.Name, Value: dirs.Path(processor.RoleInput), Tone: tui.ToneGood})
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
