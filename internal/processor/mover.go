package processor

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

var (
	// ErrEscapesRoot is returned for relative paths leaving the input tree.
	ErrEscapesRoot = errors.New("path escapes the input directory")
	// ErrClaimed is returned when a file is already present in the work area.
	ErrClaimed = errors.New("file already claimed")
)

// InputPath returns the absolute input location of rel.
func (p *Processor) InputPath(rel string) string {
	return filepath.Join(p.dirs.Input, rel)
}

// Open is the dependency-file accessor: rel is moved from input to work,
// added to the current batch and opened for reading. Opening a file that is
// already part of the batch just reopens its work copy.
func (p *Processor) Open(rel string) (*os.File, error) {
	clean, err := localPath(rel)
	if err != nil {
		return nil, err
	}
	if !p.isTouched(clean) {
		if err := p.claim(clean); err != nil {
			return nil, err
		}
		p.log.Debugw("Opened dependency", "path", clean)
	}
	return os.Open(filepath.Join(p.dirs.Work, clean))
}

func localPath(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if !filepath.IsLocal(clean) {
		return "", errors.Wrapf(ErrEscapesRoot, "%s", rel)
	}
	return clean, nil
}

func (p *Processor) isTouched(rel string) bool {
	for _, t := range p.touched {
		if t == rel {
			return true
		}
	}
	return false
}

// claim moves rel into the work area and registers it with the batch.
func (p *Processor) claim(rel string) error {
	src := filepath.Join(p.dirs.Input, rel)
	dst := filepath.Join(p.dirs.Work, rel)

	info, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "claim %s", rel)
	}
	// only single regular files travel; a directory would drag unwalked
	// endpoints along with it
	if !info.Mode().IsRegular() {
		return errors.Wrapf(fs.ErrInvalid, "claim %s: not a regular file", rel)
	}
	if _, err := os.Lstat(dst); err == nil {
		return errors.Wrapf(ErrClaimed, "%s", rel)
	}
	if err := moveFile(src, dst); err != nil {
		return errors.Wrapf(err, "claim %s", rel)
	}
	p.touched = append(p.touched, rel)
	return nil
}

// relocate moves every file of the current batch from work to target and
// starts a new batch. Files that cannot be moved stay in work and are logged.
func (p *Processor) relocate(target Role) {
	for _, rel := range p.touched {
		src := filepath.Join(p.dirs.Work, rel)
		dst := p.destination(target, rel)
		if err := moveFile(src, dst); err != nil {
			p.log.Errorw("Cannot relocate file", "path", rel, "target", target, "error", err)
			continue
		}
		if target == RoleInput {
			p.retained[rel] = true
		}
		p.log.Debugw("Relocated", "path", rel, "target", dst)
	}
	p.touched = nil
}

// destination returns where rel lands under role. A name clash with an
// existing file diverts it to the duplicate directory; a second clash there
// adds the run id to the name.
func (p *Processor) destination(role Role, rel string) string {
	dst := filepath.Join(p.dirs.Path(role), rel)
	if !exists(dst) {
		return dst
	}

	dup := filepath.Join(p.dirs.Duplicate, rel)
	if exists(dup) {
		dup += "." + p.runID
	}
	p.log.Warnw("Name clash, moving to duplicate", "path", rel, "target", role, "duplicate", dup)
	p.summary.Duplicates++
	return dup
}

// sweep retires files left directly in the input directory rel once they
// are older than the grace period. Files returned to input by this run are
// left alone.
func (p *Processor) sweep(rel string) {
	if p.cfg.DryRun || p.cfg.GracePeriod <= 0 {
		return
	}

	input := filepath.Join(p.dirs.Input, rel)
	entries, err := os.ReadDir(input)
	if err != nil {
		p.log.Warnw("Cannot list directory for aging sweep", "path", rel, "error", err)
		return
	}

	now := p.now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !utf8.ValidString(entry.Name()) {
			continue
		}
		child := filepath.Join(rel, entry.Name())
		if p.retained[child] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= p.cfg.GracePeriod {
			continue
		}

		dst := p.destination(RoleDone, child)
		if err := moveFile(filepath.Join(input, entry.Name()), dst); err != nil {
			p.log.Errorw("Cannot retire unclaimed file", "path", child, "error", err)
			continue
		}
		p.log.Infow("Retired unclaimed file", "path", child, "age", age.String())
		p.summary.Swept++
		p.emit(ProgressUpdate{SweptDelta: 1})
	}
}

// moveFile renames src to dst, creating dst's parent. When the rename
// crosses devices the content is copied through a temporary file next to
// dst so dst only ever appears complete.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyAcross(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyAcross(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), "swallow-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := io.Copy(tmpFile, in); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	// keep the mtime: quarantine and the aging sweep read it
	if err := os.Chtimes(tmpFile.Name(), srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmpFile.Name(), dst)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
