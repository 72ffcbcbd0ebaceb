// Package watch repeats pipeline runs when files arrive in input
// directories, and periodically so that quarantine and grace period
// deadlines are met without new events.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RunFunc performs one round of runs. reason is "start", "change" or "tick".
type RunFunc func(ctx context.Context, reason string) error

type Options struct {
	// Roots are the directories watched recursively.
	Roots            []string
	Debounce         time.Duration
	Interval         time.Duration
	MaxRunsPerMinute int
}

// Trigger calls a RunFunc sequentially, never concurrently with itself.
type Trigger struct {
	opts    Options
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func New(opts Options, log *zap.SugaredLogger) (*Trigger, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.MaxRunsPerMinute <= 0 {
		return nil, errors.Newf("max runs per minute must be > 0, got %d", opts.MaxRunsPerMinute)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	t := &Trigger{
		opts:    opts,
		watcher: watcher,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.MaxRunsPerMinute)/60.0), 1),
		log:     log,
	}
	for _, root := range opts.Roots {
		if err := t.addTree(root); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return t, nil
}

// addTree watches dir and every directory below it.
func (t *Trigger) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return errors.Wrapf(err, "watch %s", path)
		}
		if !d.IsDir() {
			return nil
		}
		if err := t.watcher.Add(path); err != nil {
			return errors.Wrapf(err, "failed to watch %s", path)
		}
		t.log.Debugw("Watching", "dir", path)
		return nil
	})
}

// Run calls fn once immediately, then after every debounced burst of
// file events and every Interval, until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context, fn RunFunc) error {
	defer t.watcher.Close()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	if err := t.step(ctx, fn, "start", debounce); err != nil {
		return nil
	}

	var tick <-chan time.Time
	if t.opts.Interval > 0 {
		ticker := time.NewTicker(t.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			if t.observe(event) {
				debounce.Reset(t.opts.Debounce)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warnw("Watcher error", "error", err)

		case <-debounce.C:
			if err := t.step(ctx, fn, "change", debounce); err != nil {
				return nil
			}

		case <-tick:
			if err := t.step(ctx, fn, "tick", debounce); err != nil {
				return nil
			}
		}
	}
}

// step fires a run and re-arms debounce when files arrived while it ran.
func (t *Trigger) step(ctx context.Context, fn RunFunc, reason string, debounce *time.Timer) error {
	arrived, err := t.fire(ctx, fn, reason)
	if err != nil {
		return err
	}
	if arrived {
		t.log.Debugw("Files arrived during run", "reason", reason)
		debounce.Reset(t.opts.Debounce)
	}
	return nil
}

// observe follows new directories and reports whether event asks for a run.
func (t *Trigger) observe(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := t.addTree(event.Name); err != nil {
				t.log.Warnw("Cannot watch new directory", "dir", event.Name, "error", err)
			}
		}
	}
	t.log.Debugw("File event", "path", event.Name, "op", event.Op.String())
	return true
}

// fire waits for the limiter and runs fn. It only returns an error when ctx
// is done; run errors are logged. The result reports whether files arrived
// in the watched trees during the run.
func (t *Trigger) fire(ctx context.Context, fn RunFunc, reason string) (bool, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	t.log.Infow("Run triggered", "reason", reason)
	begun := time.Now()
	if err := fn(ctx, reason); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		t.log.Errorw("Run failed", "reason", reason, "error", err)
	}
	return t.drain(ctx, begun), nil
}

const (
	// drainQuiet ends a drain once no event came for that long.
	drainQuiet = 20 * time.Millisecond
	// mtimeSlack covers file systems stamping with a coarse clock.
	mtimeSlack = 50 * time.Millisecond
)

// drain consumes the events queued during a run, keeping track of
// directories it created, and stops at the first arrival. Files the run
// itself moved back into input keep their old modification time; anything
// written since begun counts as an arrival.
func (t *Trigger) drain(ctx context.Context, begun time.Time) bool {
	quiet := time.NewTimer(drainQuiet)
	defer quiet.Stop()
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return false
			}
			if t.observe(event) && modifiedSince(event.Name, begun.Add(-mtimeSlack)) {
				return true
			}
			quiet.Reset(drainQuiet)
		case <-quiet.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func modifiedSince(path string, since time.Time) bool {
	info, err := os.Lstat(path)
	return err == nil && !info.ModTime().Before(since)
}
