// Package cleanup deletes aged files from the directories of one or more
// pipelines.
package cleanup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"swallow/internal/processor"
)

const dryRunNotice = "This is a dry run. Check that your logging config is correctly set to see what happens\n"

type Options struct {
	Dirs  []processor.Dirs
	Roles []processor.Role
	// MaxAge: only files strictly older are deleted.
	MaxAge time.Duration
	DryRun bool
	// Verbosity 0 keeps the command quiet.
	Verbosity int
	Out       io.Writer
	Now       func() time.Time
	Log       *zap.SugaredLogger
}

type Result struct {
	Candidates int
	Deleted    int
	Failed     int
}

// ParseRoles splits a comma separated list of role names.
func ParseRoles(list string) ([]processor.Role, error) {
	var roles []processor.Role
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role, err := processor.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return nil, errors.New("no directories given")
	}
	return roles, nil
}

// Clean walks every role directory of every directory set and removes the
// regular files older than MaxAge.
func Clean(opts Options) (Result, error) {
	var res Result
	if opts.MaxAge < 0 {
		return res, errors.Newf("age must not be negative, got %s", opts.MaxAge)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}

	if opts.DryRun {
		fmt.Fprint(opts.Out, dryRunNotice)
	}

	now := opts.Now()
	for _, dirs := range opts.Dirs {
		for _, role := range opts.Roles {
			root := dirs.Path(role)
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if path == root && errors.Is(err, fs.ErrNotExist) {
						opts.Log.Infow("Directory does not exist", "dir", root)
						return filepath.SkipDir
					}
					return err
				}
				if !d.Type().IsRegular() {
					return nil
				}
				info, err := d.Info()
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if err != nil {
					return err
				}
				if now.Sub(info.ModTime()) <= opts.MaxAge {
					return nil
				}

				res.Candidates++
				if opts.Verbosity > 0 {
					fmt.Fprintf(opts.Out, "%s is to be deleted\n", path)
				}
				if opts.DryRun {
					return nil
				}
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					opts.Log.Warnw("Cannot delete file", "path", path, "error", err)
					res.Failed++
					return nil
				}
				res.Deleted++
				return nil
			})
			if err != nil {
				return res, errors.Wrapf(err, "clean %s", root)
			}
			opts.Log.Debugw("Cleaned directory", "dir", root, "role", role)
		}
	}
	return res, nil
}
