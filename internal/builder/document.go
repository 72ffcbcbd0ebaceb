package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"swallow/internal/processor"
	"swallow/internal/store"
	"swallow/pkg/sniff"
)

// DocumentBuilder imports JSON and YAML documents. A document is an object
// (one record), an array of objects, or an object with a "records" array
// and an optional "attachments" list of paths relative to the document.
// A record may name its own attachments under "attachments".
type DocumentBuilder struct {
	base
}

type pendingAttachment struct {
	record int // -1 for document level
	path   string
}

func (b *DocumentBuilder) ProcessAndSave(ctx context.Context) processor.Outcome {
	doc, err := b.decode()
	if err != nil {
		return processor.Failure(err)
	}

	fields, pending, err := splitDocument(doc)
	if err != nil {
		return processor.Failure(errors.Wrapf(err, "document %s", b.source()))
	}

	// dependency files first, so a postponed document leaves nothing behind
	files := make([]store.Attachment, 0, len(pending))
	for _, p := range pending {
		a, err := b.pull(p.path)
		if errors.Is(err, fs.ErrNotExist) {
			return processor.Postpone(errors.Wrapf(ErrMissingAttachment, "%s", p.path).Error())
		}
		if err != nil {
			return processor.Failure(err)
		}
		files = append(files, a)
	}

	records := make([]store.Record, len(fields))
	for i, f := range fields {
		records[i] = b.record(f)
	}
	ids, failed, fatal := b.save(ctx, records)
	if fatal != nil {
		return b.finish(Import{}, nil, fatal)
	}

	imp := Import{Path: b.source(), Kind: b.kind.String(), RecordIDs: ids}
	for i, a := range files {
		if r := pending[i].record; r >= 0 && r < len(ids) && len(ids) == len(records) {
			a.RecordID = ids[r]
		}
		if err := ctx.Err(); err != nil {
			return b.finish(imp, nil, err)
		}
		if _, err := b.store.SaveAttachment(ctx, a); err != nil {
			if fatalSaveError(err) {
				return b.finish(imp, nil, err)
			}
			failed = errors.CombineErrors(failed, err)
			continue
		}
		imp.Attachments = append(imp.Attachments, a.Path)
	}
	return b.finish(imp, failed, nil)
}

func (b *DocumentBuilder) decode() (any, error) {
	f, err := b.ws.Open(b.rel)
	if err != nil {
		return nil, errors.Wrap(err, "open document")
	}
	defer f.Close()

	var doc any
	if b.kind == sniff.KindYAML {
		err = yaml.NewDecoder(f).Decode(&doc)
	} else {
		dec := json.NewDecoder(f)
		dec.UseNumber()
		err = dec.Decode(&doc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s document %s", b.kind, b.source())
	}
	return doc, nil
}

// pull claims a dependency file and describes it.
func (b *DocumentBuilder) pull(ref string) (store.Attachment, error) {
	rel := filepath.Join(filepath.Dir(b.rel), filepath.FromSlash(ref))
	f, err := b.ws.Open(rel)
	if err != nil {
		return store.Attachment{}, err
	}
	defer f.Close()

	h := sha256.New()
	header := make([]byte, sniff.HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return store.Attachment{}, errors.Wrapf(err, "read attachment %s", ref)
	}
	h.Write(header[:n])
	rest, err := io.Copy(h, f)
	if err != nil {
		return store.Attachment{}, errors.Wrapf(err, "read attachment %s", ref)
	}

	kind := sniff.DetectHeader(header[:n])
	if kind == sniff.KindUnknown {
		if k, ok := sniff.ParseKind(strings.TrimPrefix(filepath.Ext(rel), ".")); ok {
			kind = k
		}
	}
	b.log.Debugw("Attachment", "attachment", rel, "kind", kind)
	return store.Attachment{
		Pipeline: b.pipeline,
		Source:   b.source(),
		Path:     filepath.ToSlash(rel),
		Kind:     kind.String(),
		Size:     int64(n) + rest,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func splitDocument(doc any) ([]map[string]any, []pendingAttachment, error) {
	var pending []pendingAttachment
	var items []any

	switch v := doc.(type) {
	case map[string]any:
		recs, ok := v["records"]
		if !ok {
			items = []any{v}
			break
		}
		list, ok := recs.([]any)
		if !ok {
			return nil, nil, errors.New("records must be a list")
		}
		items = list
		refs, err := stringList(v["attachments"])
		if err != nil {
			return nil, nil, err
		}
		for _, ref := range refs {
			pending = append(pending, pendingAttachment{record: -1, path: ref})
		}
	case []any:
		items = v
	default:
		return nil, nil, errors.Newf("unsupported document of type %T", doc)
	}

	fields := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, nil, errors.Newf("record %d is %T, not an object", i, item)
		}
		if raw, ok := m["attachments"]; ok {
			refs, err := stringList(raw)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "record %d", i)
			}
			for _, ref := range refs {
				pending = append(pending, pendingAttachment{record: i, path: ref})
			}
			m = withoutKey(m, "attachments")
		}
		fields = append(fields, m)
	}
	return fields, pending, nil
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.Newf("attachments must be a list, got %T", v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, errors.Newf("attachment %v is not a path", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
