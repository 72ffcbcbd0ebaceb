package builder

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"swallow/internal/processor"
	"swallow/internal/store"
	"swallow/pkg/sniff"
)

// dirWorkspace serves files straight from a directory and remembers what
// builders opened.
type dirWorkspace struct {
	root   string
	opened []string
}

func (w *dirWorkspace) Open(rel string) (*os.File, error) {
	w.opened = append(w.opened, filepath.ToSlash(rel))
	return os.Open(filepath.Join(w.root, rel))
}

func (w *dirWorkspace) InputPath(rel string) string {
	return filepath.Join(w.root, rel)
}

type memSaver struct {
	records     []store.Record
	attachments []store.Attachment
	failAt      map[int]error
	calls       int
}

func (s *memSaver) SaveRecord(_ context.Context, r store.Record) (string, error) {
	s.calls++
	if err, ok := s.failAt[s.calls]; ok {
		return "", err
	}
	s.records = append(s.records, r)
	return r.Source + "#" + string(rune('0'+len(s.records))), nil
}

func (s *memSaver) SaveAttachment(_ context.Context, a store.Attachment) (string, error) {
	s.attachments = append(s.attachments, a)
	return a.Path, nil
}

func setup(t *testing.T, files map[string]string) (*dirWorkspace, *memSaver, *Factory) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	saver := &memSaver{}
	return &dirWorkspace{root: root}, saver, &Factory{
		Pipeline: "articles",
		Store:    saver,
		Log:      zaptest.NewLogger(t).Sugar(),
	}
}

func load(t *testing.T, f *Factory, ws *dirWorkspace, rel string) processor.Builder {
	t.Helper()
	b, err := f.LoadBuilder(ws, rel)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func TestFactorySelectsBuilder(t *testing.T) {
	ws, _, f := setup(t, map[string]string{
		"a.json":    `{"id": 1}`,
		"b.xml":     `<root/>`,
		"c.yaml":    "id: 1\n",
		"d.png":     string(pngSignature),
		"notes.txt": "hello",
	})

	assert.IsType(t, &DocumentBuilder{}, load(t, f, ws, "a.json"))
	assert.IsType(t, &XMLBuilder{}, load(t, f, ws, "b.xml"))
	assert.IsType(t, &DocumentBuilder{}, load(t, f, ws, "c.yaml"))
	assert.IsType(t, &ImageBuilder{}, load(t, f, ws, "d.png"))

	b, err := f.LoadBuilder(ws, "notes.txt")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestFactoryFilters(t *testing.T) {
	ws, _, f := setup(t, map[string]string{
		"a.json":       `{"id": 1}`,
		"b.xml":        `<root/>`,
		"sub/c.json":   `{"id": 2}`,
		"other/d.json": `{"id": 3}`,
	})

	f.Patterns = []string{"*.json"}
	f.Kinds = []sniff.Kind{sniff.KindJSON}

	b, err := f.LoadBuilder(ws, "b.xml")
	require.NoError(t, err)
	assert.Nil(t, b, "pattern mismatch")

	assert.NotNil(t, load(t, f, ws, filepath.Join("sub", "c.json")))

	f.Patterns = []string{"sub/*.json"}
	b, err = f.LoadBuilder(ws, filepath.Join("other", "d.json"))
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NotNil(t, load(t, f, ws, filepath.Join("sub", "c.json")))

	f.Patterns = []string{"*"}
	b, err = f.LoadBuilder(ws, "b.xml")
	require.NoError(t, err)
	assert.Nil(t, b, "kind not accepted")

	f.Patterns = []string{"["}
	_, err = f.LoadBuilder(ws, "a.json")
	assert.Error(t, err)
}

func TestFactoryMissingFile(t *testing.T) {
	ws, _, f := setup(t, nil)
	_, err := f.LoadBuilder(ws, "gone.json")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDocumentShapes(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		records int
	}{
		{"object", "a.json", `{"title": "Article Ski"}`, 1},
		{"array", "a.json", `[{"title": "a"}, {"title": "b"}]`, 2},
		{"records", "a.json", `{"records": [{"title": "a"}, {"title": "b"}, {"title": "c"}]}`, 3},
		{"yaml list", "a.yaml", "- title: a\n- title: b\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, saver, f := setup(t, map[string]string{tt.file: tt.content})
			out := load(t, f, ws, tt.file).ProcessAndSave(context.Background())

			require.Equal(t, processor.OutcomeSuccess, out.Kind, "%+v", out.Err)
			imp := out.Value.(Import)
			assert.Len(t, imp.RecordIDs, tt.records)
			assert.Len(t, saver.records, tt.records)
			assert.Equal(t, tt.file, saver.records[0].Source)
			assert.Equal(t, "articles", saver.records[0].Pipeline)
		})
	}
}

func TestDocumentUndecodable(t *testing.T) {
	for name, content := range map[string]string{
		"broken":       `{"title": `,
		"scalar items": `[1, 2]`,
		"bad records":  `{"records": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			ws, saver, f := setup(t, map[string]string{"a.json": content})
			out := load(t, f, ws, "a.json").ProcessAndSave(context.Background())
			assert.Equal(t, processor.OutcomeFailure, out.Kind)
			assert.Error(t, out.Err)
			assert.Empty(t, saver.records)
		})
	}
}

func TestDocumentAttachments(t *testing.T) {
	ws, saver, f := setup(t, map[string]string{
		"batch/doc.json": `{
			"records": [{"title": "a", "attachments": ["media/a.txt"]}, {"title": "b"}],
			"attachments": ["cover.txt"]
		}`,
		"batch/media/a.txt": "alpha",
		"batch/cover.txt":   "cover",
	})

	out := load(t, f, ws, filepath.Join("batch", "doc.json")).ProcessAndSave(context.Background())
	require.Equal(t, processor.OutcomeSuccess, out.Kind, "%+v", out.Err)

	imp := out.Value.(Import)
	assert.Equal(t, []string{"batch/cover.txt", "batch/media/a.txt"}, imp.Attachments)
	assert.Equal(t, []string{"batch/doc.json", "batch/cover.txt", "batch/media/a.txt"}, ws.opened)

	require.Len(t, saver.attachments, 2)
	assert.Empty(t, saver.attachments[0].RecordID)
	assert.Equal(t, imp.RecordIDs[0], saver.attachments[1].RecordID)
	assert.EqualValues(t, 5, saver.attachments[1].Size)
	assert.Len(t, saver.attachments[1].SHA256, 64)

	_, nested := saver.records[0].Fields["attachments"]
	assert.False(t, nested)
}

func TestDocumentMissingAttachmentPostpones(t *testing.T) {
	ws, saver, f := setup(t, map[string]string{
		"doc.json": `{"records": [{"title": "a"}], "attachments": ["later.jpg"]}`,
	})

	out := load(t, f, ws, "doc.json").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomePostpone, out.Kind)
	assert.Contains(t, out.Reason, "later.jpg")
	assert.Empty(t, saver.records)
}

func TestDocumentPartialAndStop(t *testing.T) {
	content := `[{"title": "a"}, {"title": "b"}, {"title": "c"}]`

	ws, saver, f := setup(t, map[string]string{"a.json": content})
	saver.failAt = map[int]error{2: errors.New("constraint failed")}
	out := load(t, f, ws, "a.json").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomePartial, out.Kind)
	assert.Len(t, out.Value.(Import).RecordIDs, 2)
	assert.ErrorContains(t, out.Err, "constraint failed")

	ws, saver, f = setup(t, map[string]string{"a.json": content})
	saver.failAt = map[int]error{1: errors.Wrap(store.ErrClosed, "insert")}
	out = load(t, f, ws, "a.json").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomeStop, out.Kind)
	assert.Empty(t, saver.records)
}

func TestDocumentCancelledContextPostpones(t *testing.T) {
	ws, saver, f := setup(t, map[string]string{
		"a.json": `[{"title": "a"}, {"title": "b"}]`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := load(t, f, ws, "a.json").ProcessAndSave(ctx)
	assert.Equal(t, processor.OutcomePostpone, out.Kind)
	assert.Contains(t, out.Reason, "interrupted")
	assert.Empty(t, saver.records)
}

// cancelSaver fails every save after the first with the context's error,
// like a database driver whose context ends mid-file.
type cancelSaver struct {
	memSaver
	cancel context.CancelFunc
}

func (s *cancelSaver) SaveRecord(ctx context.Context, r store.Record) (string, error) {
	if len(s.records) == 1 {
		s.cancel()
		return "", errors.Wrap(ctx.Err(), "insert record")
	}
	return s.memSaver.SaveRecord(ctx, r)
}

func TestDocumentInterruptedSaveIsNotPartial(t *testing.T) {
	ws, _, f := setup(t, map[string]string{
		"a.json": `[{"title": "a"}, {"title": "b"}, {"title": "c"}]`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	saver := &cancelSaver{cancel: cancel}
	f.Store = saver

	out := load(t, f, ws, "a.json").ProcessAndSave(ctx)
	assert.Equal(t, processor.OutcomePostpone, out.Kind)
	assert.Len(t, saver.records, 1)
}

func TestDocumentUnreadableAttachmentFails(t *testing.T) {
	ws, saver, f := setup(t, map[string]string{
		"doc.json":      `{"records": [{"title": "a"}], "attachments": ["media"]}`,
		"media/one.txt": "one",
	})

	out := load(t, f, ws, "doc.json").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomeFailure, out.Kind)
	assert.ErrorContains(t, out.Err, "read attachment media")
	assert.Empty(t, saver.records)
	assert.Empty(t, saver.attachments)
}

func TestXMLRecords(t *testing.T) {
	ws, saver, f := setup(t, map[string]string{
		"export.xml": `<?xml version="1.0"?>
<articles>
  <article id="A-1"><title>Article Ski</title><weight>10</weight><tag>winter</tag><tag>sport</tag></article>
  <article id="A-2"><title>Boots</title><size><eu>42</eu></size></article>
  <generated>2024-01-01</generated>
</articles>`,
		"single.xml": `<article><title>Poles</title><weight>2</weight></article>`,
	})

	out := load(t, f, ws, "export.xml").ProcessAndSave(context.Background())
	require.Equal(t, processor.OutcomeSuccess, out.Kind, "%+v", out.Err)
	require.Len(t, saver.records, 2)
	assert.Equal(t, map[string]any{
		"@id":    "A-1",
		"title":  "Article Ski",
		"weight": "10",
		"tag":    []any{"winter", "sport"},
	}, saver.records[0].Fields)
	assert.Equal(t, "42", saver.records[1].Fields["eu"])

	out = load(t, f, ws, "single.xml").ProcessAndSave(context.Background())
	require.Equal(t, processor.OutcomeSuccess, out.Kind)
	assert.Equal(t, map[string]any{"title": "Poles", "weight": "2"}, saver.records[2].Fields)
}

func TestXMLBroken(t *testing.T) {
	ws, _, f := setup(t, map[string]string{"bad.xml": `<articles><article>`})
	out := load(t, f, ws, "bad.xml").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomeFailure, out.Kind)
}

func pngChunk(name string, data []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(name)
	buf.Write(data)
	crc := crc32.ChecksumIEEE(append([]byte(name), data...))
	binary.Write(&buf, binary.BigEndian, crc)
	return buf.Bytes()
}

func TestImagePNGText(t *testing.T) {
	var png bytes.Buffer
	png.Write(pngSignature)
	png.Write(pngChunk("IHDR", make([]byte, 13)))
	png.Write(pngChunk("tEXt", []byte("Make\x00Apple")))
	png.Write(pngChunk("tEXt", []byte("Model\x00iPhone 12")))
	png.Write(pngChunk("iTXt", []byte("Comment\x00\x00\x00en\x00\x00hello")))
	png.Write(pngChunk("tIME", []byte{0x07, 0xe8, 3, 14, 9, 30, 5}))
	png.Write(pngChunk("IEND", nil))

	ws, saver, f := setup(t, map[string]string{"shot.png": png.String()})
	out := load(t, f, ws, "shot.png").ProcessAndSave(context.Background())
	require.Equal(t, processor.OutcomeSuccess, out.Kind, "%+v", out.Err)
	require.Len(t, saver.records, 1)

	fields := saver.records[0].Fields
	assert.Equal(t, "Apple iPhone 12", fields["device"])
	assert.Equal(t, "smartphone", fields["device_type"])
	assert.Equal(t, "2024-03-14 09:30:05", fields["captured_at"])
	assert.Equal(t, "hello", fields["tags"].(map[string]string)["Comment"])
}

func TestImagePNGOversizedChunks(t *testing.T) {
	var png bytes.Buffer
	png.Write(pngSignature)
	png.Write(pngChunk("IHDR", make([]byte, 13)))
	png.Write(pngChunk("tEXt", append([]byte("Blob\x00"), bytes.Repeat([]byte("x"), maxTextChunk)...)))
	png.Write(pngChunk("tEXt", []byte("Make\x00Apple")))
	png.Write(pngChunk("IEND", nil))

	tags, err := pngTags(bytes.NewReader(png.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Make": "Apple"}, tags)

	// a length field far beyond the data is skipped, not allocated
	var lying bytes.Buffer
	lying.Write(pngSignature)
	binary.Write(&lying, binary.BigEndian, uint32(1<<31))
	lying.WriteString("tEXt")
	lying.WriteString("Make\x00Apple")

	ws, saver, f := setup(t, map[string]string{"lying.png": lying.String()})
	out := load(t, f, ws, "lying.png").ProcessAndSave(context.Background())
	assert.Equal(t, processor.OutcomeFailure, out.Kind)
	assert.Empty(t, saver.records)
}

func TestImagePNGInflateIsCapped(t *testing.T) {
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	_, err := w.Write([]byte(strings.Repeat("a", 4*maxInflated)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var png bytes.Buffer
	png.Write(pngSignature)
	png.Write(pngChunk("zTXt", append([]byte("Comment\x00\x00"), z.Bytes()...)))
	png.Write(pngChunk("IEND", nil))

	tags, err := pngTags(bytes.NewReader(png.Bytes()))
	require.NoError(t, err)
	assert.Len(t, tags["Comment"], maxInflated)
}

func TestImageJPEGWithoutExif(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xff, 0xd9}
	ws, saver, f := setup(t, map[string]string{"a.jpg": string(jpeg)})

	out := load(t, f, ws, "a.jpg").ProcessAndSave(context.Background())
	require.Equal(t, processor.OutcomeSuccess, out.Kind, "%+v", out.Err)
	assert.Empty(t, saver.records[0].Fields["tags"])
}

func TestImageFields(t *testing.T) {
	fields := imageFields(map[string]string{
		"GPSLatitude":      "[51/1 30/1 0/1]",
		"GPSLatitudeRef":   "N",
		"GPSLongitude":     "[0/1 7/1 3960/100]",
		"GPSLongitudeRef":  "W",
		"Make":             "Canon",
		"Model":            "EOS R5",
		"DateTimeOriginal": "2023:07:01 12:00:00",
	})

	assert.InDelta(t, 51.5, fields["latitude"], 1e-9)
	assert.InDelta(t, -0.1276666, fields["longitude"], 1e-6)
	assert.Equal(t, "camera", fields["device_type"])
	assert.Equal(t, "2023-07-01 12:00:00", fields["captured_at"])

	_, ok := parseGPSCoordinate("[1/0 2/1]")
	assert.False(t, ok)
}

func TestPipelineEndToEnd(t *testing.T) {
	root := t.TempDir()
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	f := &Factory{Pipeline: "articles", Store: db}
	p, err := processor.New(processor.Config{Name: "articles", Root: root, Factory: f}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, p.Dirs().Ensure())

	old := time.Now().Add(-time.Hour)
	for rel, content := range map[string]string{
		"doc.json":  `{"records": [{"title": "a"}], "attachments": ["img/a.txt"]}`,
		"img/a.txt": "alpha",
		"wait.json": `{"records": [{"title": "b"}], "attachments": ["missing.txt"]}`,
	} {
		path := filepath.Join(p.Dirs().Input, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chtimes(path, old, old))
	}

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Postponed)

	assert.FileExists(t, filepath.Join(p.Dirs().Done, "doc.json"))
	assert.FileExists(t, filepath.Join(p.Dirs().Done, "img", "a.txt"))
	assert.FileExists(t, filepath.Join(p.Dirs().Input, "wait.json"))

	n, err := db.Count(context.Background(), "records", "articles")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
