// Package builder holds the builders the swallow command wires into its
// pipelines: structured documents, XML exports and images.
package builder

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"swallow/internal/processor"
	"swallow/internal/store"
	"swallow/pkg/sniff"
)

// ErrMissingAttachment is reported when a document references a dependency
// file that has not arrived in input yet.
var ErrMissingAttachment = errors.New("attachment not found")

// Saver is the part of the store builders write to.
type Saver interface {
	SaveRecord(ctx context.Context, r store.Record) (string, error)
	SaveAttachment(ctx context.Context, a store.Attachment) (string, error)
}

// Import is the value a builder hands to post-processing.
type Import struct {
	Path        string
	Kind        string
	RecordIDs   []string
	Attachments []string
}

// Factory picks a builder by file name pattern and sniffed content kind.
type Factory struct {
	Pipeline string
	// Patterns are filepath.Match globs. A pattern without a separator is
	// matched against the base name, otherwise against the whole relative
	// path. No patterns means every name matches.
	Patterns []string
	// Kinds limits the accepted content kinds. Empty accepts all known kinds.
	Kinds []sniff.Kind
	Store Saver
	Log   *zap.SugaredLogger
}

func (f *Factory) LoadBuilder(ws processor.Workspace, rel string) (processor.Builder, error) {
	ok, err := f.matches(rel)
	if err != nil || !ok {
		return nil, err
	}

	kind, err := sniff.SniffFile(ws.InputPath(rel))
	if err != nil {
		return nil, err
	}
	if kind == sniff.KindUnknown || !f.accepts(kind) {
		f.logger().Debugw("Kind not handled", "path", rel, "kind", kind)
		return nil, nil
	}

	common := base{
		ws:       ws,
		rel:      rel,
		pipeline: f.Pipeline,
		kind:     kind,
		store:    f.Store,
		log:      f.logger().With("path", rel, "kind", kind.String()),
	}
	switch kind {
	case sniff.KindJSON, sniff.KindYAML:
		return &DocumentBuilder{common}, nil
	case sniff.KindXML:
		return &XMLBuilder{common}, nil
	default:
		return &ImageBuilder{common}, nil
	}
}

func (f *Factory) matches(rel string) (bool, error) {
	if len(f.Patterns) == 0 {
		return true, nil
	}
	slashed := filepath.ToSlash(rel)
	for _, pattern := range f.Patterns {
		name := filepath.Base(rel)
		if strings.Contains(pattern, "/") {
			name = slashed
		}
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, errors.Wrapf(err, "pattern %q", pattern)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *Factory) accepts(kind sniff.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *Factory) logger() *zap.SugaredLogger {
	if f.Log == nil {
		return zap.NewNop().Sugar()
	}
	return f.Log
}

// base carries what every builder needs about its endpoint.
type base struct {
	ws       processor.Workspace
	rel      string
	pipeline string
	kind     sniff.Kind
	store    Saver
	log      *zap.SugaredLogger
}

func (b base) source() string {
	return filepath.ToSlash(b.rel)
}

func (b base) record(fields map[string]any) store.Record {
	return store.Record{
		Pipeline: b.pipeline,
		Source:   b.source(),
		Kind:     b.kind.String(),
		Fields:   fields,
	}
}

// save persists records in order. A closed store or an ended context
// aborts; any other failure is collected and the remaining records are
// still saved.
func (b base) save(ctx context.Context, records []store.Record) ([]string, error, error) {
	var ids []string
	var failed error
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return ids, nil, err
		}
		id, err := b.store.SaveRecord(ctx, r)
		if fatalSaveError(err) {
			return ids, nil, err
		}
		if err != nil {
			b.log.Warnw("Record not saved", "index", i, "error", err)
			failed = errors.CombineErrors(failed, errors.Wrapf(err, "record %d", i))
			continue
		}
		ids = append(ids, id)
	}
	return ids, failed, nil
}

func fatalSaveError(err error) bool {
	return errors.Is(err, store.ErrClosed) || interrupted(err)
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// finish turns the result of saving into an outcome. An interrupted save
// sends the endpoint back to input for the next run.
func (b base) finish(imp Import, failed, fatal error) processor.Outcome {
	if fatal != nil && interrupted(fatal) {
		return processor.Postpone("interrupted: " + fatal.Error())
	}
	if fatal != nil {
		return processor.Stop(fatal.Error())
	}
	if failed != nil {
		return processor.Partial(imp, failed)
	}
	return processor.Success(imp)
}
