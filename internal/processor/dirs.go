package processor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Role names one of the lifecycle directories of a pipeline.
type Role int

const (
	RoleInput Role = iota
	RoleWork
	RoleDone
	RoleError
	RoleDuplicate
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleWork:
		return "work"
	case RoleDone:
		return "done"
	case RoleError:
		return "error"
	case RoleDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ParseRole maps a directory label back to its Role.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "input":
		return RoleInput, nil
	case "work":
		return RoleWork, nil
	case "done":
		return RoleDone, nil
	case "error":
		return RoleError, nil
	case "duplicate":
		return RoleDuplicate, nil
	}
	return 0, errors.Newf("unknown directory %q", name)
}

// Dirs is the directory set of one pipeline: <root>/<name>/<role>.
type Dirs struct {
	Input     string
	Work      string
	Done      string
	Error     string
	Duplicate string
}

// NewDirs derives the directory set for pipeline name under root. The
// result only depends on its arguments.
func NewDirs(root, name string) Dirs {
	base := filepath.Join(root, strings.ToLower(name))
	return Dirs{
		Input:     filepath.Join(base, RoleInput.String()),
		Work:      filepath.Join(base, RoleWork.String()),
		Done:      filepath.Join(base, RoleDone.String()),
		Error:     filepath.Join(base, RoleError.String()),
		Duplicate: filepath.Join(base, RoleDuplicate.String()),
	}
}

// Path returns the directory for role.
func (d Dirs) Path(role Role) string {
	switch role {
	case RoleInput:
		return d.Input
	case RoleWork:
		return d.Work
	case RoleDone:
		return d.Done
	case RoleError:
		return d.Error
	case RoleDuplicate:
		return d.Duplicate
	}
	return ""
}

// Paths returns the input, work, error and done locations of rel.
func (d Dirs) Paths(rel string) (input, work, errPath, done string) {
	return filepath.Join(d.Input, rel),
		filepath.Join(d.Work, rel),
		filepath.Join(d.Error, rel),
		filepath.Join(d.Done, rel)
}

// Ensure creates every directory of the set.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Input, d.Work, d.Done, d.Error, d.Duplicate} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}
