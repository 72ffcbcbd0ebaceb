package processor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

type fileClass int

const (
	classEligible fileClass = iota
	classInvalidName
	classDir
	classGone
	classTooRecent
	classIgnored
)

// classify decides what happens to one directory entry. Checks run in a
// fixed order: name encoding, directory, existence, quarantine.
func (p *Processor) classify(rel string, entry fs.DirEntry) fileClass {
	if !utf8.ValidString(entry.Name()) {
		return classInvalidName
	}
	if entry.IsDir() {
		return classDir
	}

	path := filepath.Join(p.dirs.Input, rel)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Debugw("File already moved", "path", rel)
		} else {
			p.log.Warnw("Cannot stat file", "path", rel, "error", err)
		}
		return classGone
	}
	if !info.Mode().IsRegular() {
		p.log.Infow("Skip non-regular file", "path", rel, "mode", info.Mode().String())
		p.skip()
		return classIgnored
	}

	if p.cfg.Quarantine > 0 {
		if age := p.now().Sub(info.ModTime()); age < p.cfg.Quarantine {
			p.log.Infow("Skipping too recent file", "path", rel, "age", age.Round(time.Second))
			p.skip()
			return classTooRecent
		}
	}
	return classEligible
}

// rejectName moves an entry whose name is not valid UTF-8 straight into the
// top of the error directory, outside of the outcome flow.
func (p *Processor) rejectName(rel, name string) {
	src := filepath.Join(p.dirs.Input, rel)
	dst := p.destination(RoleError, name)

	p.log.Errorw("Invalid file name encoding", "path", fmt.Sprintf("%q", rel), "target", dst)
	if err := moveFile(src, dst); err != nil {
		p.log.Errorw("Cannot move file with invalid name", "path", fmt.Sprintf("%q", rel), "error", err)
	}
	p.summary.Invalid++
	p.summary.Errors++
	p.emit(ProgressUpdate{ErrorDelta: 1})
}
