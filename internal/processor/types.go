package processor

import (
	"context"
	"os"
	"time"
)

// Builder processes one endpoint file and persists what it derives from it.
type Builder interface {
	ProcessAndSave(ctx context.Context) Outcome
}

// Workspace is the view of a running pipeline handed to builders.
type Workspace interface {
	// Open pulls rel out of input into the work area, registers it with the
	// current relocation batch and opens it for reading.
	Open(rel string) (*os.File, error)
	// InputPath returns the absolute input location of rel.
	InputPath(rel string) string
}

// Factory selects a Builder for a file. A nil Builder with a nil error
// means the file is not handled by this pipeline and is skipped.
type Factory interface {
	LoadBuilder(ws Workspace, rel string) (Builder, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ws Workspace, rel string) (Builder, error)

func (f FactoryFunc) LoadBuilder(ws Workspace, rel string) (Builder, error) {
	return f(ws, rel)
}

// PostprocessFunc receives, once per run, the values produced by every
// successful builder invocation in walk order.
type PostprocessFunc func(ctx context.Context, results []any) error

// Config describes one pipeline. The engine reads nothing else.
type Config struct {
	Name string
	Root string

	// Quarantine is the minimum file age before processing; zero disables it.
	Quarantine time.Duration
	// GracePeriod is how long an unclaimed file may stay in input before the
	// aging sweep retires it to done; zero disables the sweep.
	GracePeriod time.Duration

	Factory     Factory
	Postprocess PostprocessFunc
	DryRun      bool

	// Now defaults to time.Now.
	Now func() time.Time
}

type Summary struct {
	Discovered int
	Processed  int
	Done       int
	Errors     int
	Postponed  int
	Skipped    int
	Invalid    int
	Swept      int
	Duplicates int
	Stopped    bool
}

type ProgressUpdate struct {
	DiscoveredDelta int
	ProcessedDelta  int
	DoneDelta       int
	ErrorDelta      int
	PostponedDelta  int
	SkippedDelta    int
	SweptDelta      int
}
