package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"swallow/internal/processor"
	"swallow/internal/tui"
	"swallow/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [pipeline...]",
	Short: "Run pipelines whenever files arrive, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelines, err := cfg.Select(args)
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		procs := make([]*processor.Processor, 0, len(pipelines))
		roots := make([]string, 0, len(pipelines))
		for _, p := range pipelines {
			proc, err := newProcessor(p, db, false)
			if err != nil {
				return err
			}
			if err := proc.Dirs().Ensure(); err != nil {
				return err
			}
			procs = append(procs, proc)
			roots = append(roots, proc.Dirs().Input)
		}

		trigger, err := watch.New(watch.Options{
			Roots:            roots,
			Debounce:         time.Duration(cfg.Watch.DebounceMS) * time.Millisecond,
			Interval:         time.Duration(cfg.Watch.IntervalSeconds) * time.Second,
			MaxRunsPerMinute: cfg.Watch.MaxRunsPerMinute,
		}, log)
		if err != nil {
			return err
		}

		log.Infow("Watching pipelines", "pipelines", len(procs))
		return trigger.Run(cmd.Context(), func(ctx context.Context, reason string) error {
			for i, proc := range procs {
				summary, err := proc.Run(ctx, nil)
				if err != nil {
					return err
				}
				if summary.Discovered > 0 || summary.Swept > 0 || summary.Invalid > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(tui.RunRows(pipelines[i].Name, summary, false)))
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
