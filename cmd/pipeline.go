package cmd

import (
	"context"

	"github.com/cockroachdb/errors"

	"swallow/internal/builder"
	"swallow/internal/config"
	"swallow/internal/processor"
	"swallow/internal/store"
)

// newProcessor wires one configured pipeline. db may be nil for dry runs,
// where no builder is ever invoked.
func newProcessor(p config.PipelineConfig, db *store.Store, dryRun bool) (*processor.Processor, error) {
	factory := &builder.Factory{
		Pipeline: p.Name,
		Patterns: p.Patterns,
		Kinds:    config.KindsOf(p),
		Log:      log.With("pipeline", p.Name),
	}
	if db != nil {
		factory.Store = db
	}

	pc := processor.Config{
		Name:        p.Name,
		Root:        cfg.Storage.Root,
		Quarantine:  cfg.Quarantine(p),
		GracePeriod: cfg.GracePeriod(p),
		Factory:     factory,
		DryRun:      dryRun,
	}
	if p.Ledger && db != nil && !dryRun {
		pc.Postprocess = ledger(db, p.Name)
	}
	return processor.New(pc, log)
}

// ledger records one run row per pipeline run.
func ledger(db *store.Store, pipeline string) processor.PostprocessFunc {
	return func(ctx context.Context, results []any) error {
		run := store.Run{Pipeline: pipeline, Results: len(results)}
		for _, r := range results {
			if imp, ok := r.(builder.Import); ok {
				run.Records += len(imp.RecordIDs)
				run.Attachments += len(imp.Attachments)
			}
		}
		id, err := db.RecordRun(ctx, run)
		if err != nil {
			return errors.Wrap(err, "write ledger")
		}
		log.Infow("Ledger updated", "pipeline", pipeline, "run", id, "results", run.Results, "records", run.Records)
		return nil
	}
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.Database.Path, log)
}
