package processor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor runs one pipeline over its input tree. It is not safe for
// concurrent use; independent processes may run over the same directory
// set, in which case file relocation is the only coordination.
type Processor struct {
	cfg  Config
	dirs Dirs
	log  *zap.SugaredLogger

	runID    string
	touched  []string
	retained map[string]bool
	results  []any
	summary  Summary
	updates  chan<- ProgressUpdate
}

// New validates cfg and returns a Processor for it.
func New(cfg Config, log *zap.SugaredLogger) (*Processor, error) {
	if cfg.Name == "" {
		return nil, errors.New("pipeline name is required")
	}
	if cfg.Root == "" {
		return nil, errors.Newf("pipeline %s: storage root is required", cfg.Name)
	}
	if cfg.Factory == nil {
		return nil, errors.Newf("pipeline %s: builder factory is required", cfg.Name)
	}
	if cfg.Quarantine < 0 || cfg.GracePeriod < 0 {
		return nil, errors.Newf("pipeline %s: quarantine and grace period must not be negative", cfg.Name)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Processor{
		cfg:  cfg,
		dirs: NewDirs(cfg.Root, cfg.Name),
		log:  log.With("pipeline", cfg.Name),
	}
	p.reset(nil)
	return p, nil
}

// Dirs returns the directory set of the pipeline.
func (p *Processor) Dirs() Dirs {
	return p.dirs
}

func (p *Processor) reset(updates chan<- ProgressUpdate) {
	p.runID = uuid.NewString()[:8]
	p.touched = nil
	p.retained = make(map[string]bool)
	p.results = nil
	p.summary = Summary{}
	p.updates = updates
}

// Run walks the input tree once, then hands the collected results to the
// post-processing hook when one is configured. updates may be nil.
func (p *Processor) Run(ctx context.Context, updates chan<- ProgressUpdate) (Summary, error) {
	p.reset(updates)

	p.log.Infow("Run pipeline",
		"input", p.dirs.Input,
		"dryrun", p.cfg.DryRun,
		"run", p.runID)

	if info, err := os.Stat(p.dirs.Input); err != nil {
		return p.summary, errors.WithHint(
			errors.Wrapf(err, "input directory of %s", p.cfg.Name),
			"create the directory set with `swallow init`")
	} else if !info.IsDir() {
		return p.summary, errors.Newf("input of %s is not a directory: %s", p.cfg.Name, p.dirs.Input)
	}

	if err := p.walk(ctx, ""); err != nil {
		return p.summary, err
	}

	if p.cfg.Postprocess != nil {
		if err := p.cfg.Postprocess(ctx, p.results); err != nil {
			return p.summary, errors.Wrapf(err, "postprocess %s", p.cfg.Name)
		}
	}

	p.log.Infow("Run complete",
		"processed", p.summary.Processed,
		"done", p.summary.Done,
		"errors", p.summary.Errors,
		"postponed", p.summary.Postponed,
		"swept", p.summary.Swept)
	return p.summary, nil
}

// walk handles one directory level: mirror directories, entries in listing
// order (recursing into subdirectories as they come), then the aging sweep.
func (p *Processor) walk(ctx context.Context, rel string) error {
	input, work, errDir, done := p.dirs.Paths(rel)

	p.log.Debugw("Process directory", "path", rel)
	for _, dir := range []string{work, errDir, done} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		if rel != "" && errors.Is(err, fs.ErrNotExist) {
			p.log.Infow("Directory vanished during run", "path", rel)
			return nil
		}
		return errors.Wrapf(err, "list %s", input)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			p.log.Warnw("Interrupted", "path", rel)
			return err
		}

		halt, err := p.visit(ctx, rel, entry)
		if err != nil {
			return err
		}
		if halt {
			p.summary.Stopped = true
			return nil
		}
	}

	p.sweep(rel)
	return nil
}

func (p *Processor) visit(ctx context.Context, rel string, entry fs.DirEntry) (bool, error) {
	child := filepath.Join(rel, entry.Name())

	switch p.classify(child, entry) {
	case classInvalidName:
		p.rejectName(child, entry.Name())
		return false, nil
	case classDir:
		return false, p.walk(ctx, child)
	case classEligible:
		return p.process(ctx, child), nil
	default:
		return false, nil
	}
}

// process runs one eligible file through the factory, the builder and the
// outcome resolver, and relocates everything it touched in one batch.
func (p *Processor) process(ctx context.Context, rel string) bool {
	builder, loadErr := p.cfg.Factory.LoadBuilder(p, rel)
	if loadErr != nil && errors.Is(loadErr, fs.ErrNotExist) {
		p.log.Infow("File already moved", "path", rel)
		p.skip()
		return false
	}
	if loadErr == nil && builder == nil {
		p.log.Infow("Skip file", "path", rel)
		p.skip()
		return false
	}

	if err := p.claim(rel); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrClaimed) {
			p.log.Infow("File claimed elsewhere", "path", rel)
			p.skip()
			return false
		}
		p.log.Errorw("Cannot move file to work", "path", rel, "error", err)
		p.summary.Errors++
		p.emit(ProgressUpdate{ErrorDelta: 1})
		return false
	}

	p.log.Infow("Match", "path", rel)
	p.summary.Discovered++
	p.emit(ProgressUpdate{DiscoveredDelta: 1})

	if p.cfg.DryRun {
		p.relocate(RoleInput)
		return false
	}

	var outcome Outcome
	if loadErr != nil {
		outcome = Failure(errors.Wrap(loadErr, "load builder"))
	} else {
		outcome = p.invoke(ctx, builder)
	}

	decision := Resolve(outcome)
	p.report(rel, outcome)
	p.relocate(decision.Target)

	if decision.Collect && p.cfg.Postprocess != nil {
		p.results = append(p.results, outcome.Value)
	}
	p.count(decision)
	return decision.Halt
}

func (p *Processor) invoke(ctx context.Context, b Builder) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure(errors.Newf("builder panicked: %v", r))
		}
	}()
	return b.ProcessAndSave(ctx)
}

func (p *Processor) report(rel string, o Outcome) {
	switch o.Kind {
	case OutcomeSuccess:
		p.log.Infow("Processed", "path", rel, "outcome", o.Kind)
	case OutcomePartial:
		p.log.Warnw("Processed with errors", "path", rel, "outcome", o.Kind, "error", fmt.Sprintf("%+v", o.Err))
	case OutcomePostpone:
		p.log.Infow("Postponed", "path", rel, "reason", o.Reason)
	case OutcomeStop:
		p.log.Warnw("Import stopped", "path", rel, "reason", o.Reason)
	default:
		p.log.Errorw("Builder processing failed", "path", rel, "input", p.InputPath(rel), "error", fmt.Sprintf("%+v", o.Err))
	}
}

func (p *Processor) count(d Decision) {
	p.summary.Processed++
	update := ProgressUpdate{ProcessedDelta: 1}
	switch d.Target {
	case RoleDone:
		p.summary.Done++
		update.DoneDelta = 1
	case RoleInput:
		p.summary.Postponed++
		update.PostponedDelta = 1
	default:
		p.summary.Errors++
		update.ErrorDelta = 1
	}
	p.emit(update)
}

func (p *Processor) skip() {
	p.summary.Skipped++
	p.emit(ProgressUpdate{SkippedDelta: 1})
}

func (p *Processor) emit(u ProgressUpdate) {
	if p.updates != nil {
		p.updates <- u
	}
}

func (p *Processor) now() time.Time {
	return p.cfg.Now()
}
