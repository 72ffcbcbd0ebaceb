package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"swallow/internal/cleanup"
	"swallow/internal/processor"
	"swallow/internal/tui"
)

var (
	cleanDryRun    bool
	cleanDirs      string
	cleanAge       int
	cleanVerbosity int
)

var cleanCmd = &cobra.Command{
	Use:   "clean <pipeline...> --dirs input,done --age SECONDS",
	Short: "Delete aged files from pipeline directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipelines, err := cfg.Select(args)
		if err != nil {
			return err
		}
		roles, err := cleanup.ParseRoles(cleanDirs)
		if err != nil {
			return err
		}

		dirs := make([]processor.Dirs, 0, len(pipelines))
		names := make([]string, 0, len(pipelines))
		for _, p := range pipelines {
			dirs = append(dirs, processor.NewDirs(cfg.Storage.Root, p.Name))
			names = append(names, p.Name)
		}

		res, err := cleanup.Clean(cleanup.Options{
			Dirs:      dirs,
			Roles:     roles,
			MaxAge:    time.Duration(cleanAge) * time.Second,
			DryRun:    cleanDryRun,
			Verbosity: cleanVerbosity,
			Out:       cmd.OutOrStdout(),
			Log:       log,
		})
		if err != nil {
			return err
		}

		if cleanVerbosity > 0 {
			rows := []tui.SummaryRow{
				{Label: "Pipelines", Value: strings.Join(names, ", ")},
				{Label: "Directories", Value: cleanDirs},
				{Label: "Candidates", Value: fmt.Sprintf("%d", res.Candidates)},
				{Label: "Deleted", Value: fmt.Sprintf("%d", res.Deleted), Tone: tui.ToneGood},
			}
			if res.Failed > 0 {
				rows = append(rows, tui.SummaryRow{Label: "Failed", Value: fmt.Sprintf("%d", res.Failed), Tone: tui.ToneBad})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(rows))
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dryrun", false, "pretend to clean but don't do it")
	cleanCmd.Flags().StringVar(&cleanDirs, "dirs", "", "which directories to clean (input, work, done, error, duplicate)")
	cleanCmd.Flags().IntVar(&cleanAge, "age", 0, "minimum age in seconds a file should have to be deleted")
	cleanCmd.Flags().IntVar(&cleanVerbosity, "verbosity", 1, "0 keeps the command quiet")
	_ = cleanCmd.MarkFlagRequired("dirs")
	_ = cleanCmd.MarkFlagRequired("age")

	rootCmd.AddCommand(cleanCmd)
}
