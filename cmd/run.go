package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"swallow/internal/processor"
	"swallow/internal/store"
	"swallow/internal/tui"
)

var (
	runDryRun   bool
	runProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline...]",
	Short: "Process the input directory of each pipeline once",
	Long:  "Run every named pipeline (all configured pipelines when none is named) over its input directory once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelines, err := cfg.Select(args)
		if err != nil {
			return err
		}

		var db *store.Store
		if !runDryRun {
			if db, err = openStore(); err != nil {
				return err
			}
			defer db.Close()
		}

		for _, p := range pipelines {
			proc, err := newProcessor(p, db, runDryRun)
			if err != nil {
				return err
			}
			summary, err := runOnce(cmd.Context(), proc, p.Name, runProgress)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(tui.RunRows(p.Name, summary, runDryRun)))
		}
		return nil
	},
}

// runOnce runs proc, showing the progress model when asked to.
func runOnce(ctx context.Context, proc *processor.Processor, name string, progress bool) (processor.Summary, error) {
	if !progress {
		return proc.Run(ctx, nil)
	}

	updates := make(chan processor.ProgressUpdate, 64)
	program := tea.NewProgram(tui.NewModel(name, updates))

	uiDone := make(chan struct{})
	go func() {
		_, _ = program.Run()
		close(uiDone)
	}()

	summary, err := proc.Run(ctx, updates)
	close(updates)
	<-uiDone
	return summary, err
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dryrun", false, "claim and release matching files without invoking builders")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "show live progress")

	rootCmd.AddCommand(runCmd)
}
