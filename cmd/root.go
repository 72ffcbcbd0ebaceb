package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swallow/internal/config"
	"swallow/internal/logging"
)

var (
	configPath string
	verbose    int
	jsonLogs   bool

	cfg      *config.Config
	log      *zap.SugaredLogger
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "swallow",
	Short: "swallow - move files through input, work, done and error directories",
	Long: "swallow watches the input directory of each configured pipeline, hands every settled file " +
		"to a builder and files it into done, error or back into input depending on the outcome.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if jsonLogs {
			loaded.Log.JSON = true
		}
		logger, closeFn, err := logging.New(logging.Options{
			JSON:      loaded.Log.JSON,
			Level:     loaded.Log.Level,
			Verbosity: verbose,
			File:      loaded.Log.File,
			Out:       cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		cfg, log, closeLog = loaded, logger, closeFn
		log.Debugw("Configuration loaded", "file", config.ConfigFile(configPath), "pipelines", len(cfg.Pipelines))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		_ = closeLog()
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: swallow.toml in the working directory or a parent)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (-v, -vv)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON log lines")
}
