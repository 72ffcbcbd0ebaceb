package builder

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	exif "github.com/dsoprea/go-exif/v3"

	"swallow/internal/processor"
	"swallow/internal/store"
	"swallow/pkg/sniff"
)

// ImageBuilder imports the metadata of JPEG, TIFF and PNG files as one
// record: the raw tag map plus location, device and capture time when they
// can be derived.
type ImageBuilder struct {
	base
}

func (b *ImageBuilder) ProcessAndSave(ctx context.Context) processor.Outcome {
	f, err := b.ws.Open(b.rel)
	if err != nil {
		return processor.Failure(errors.Wrap(err, "open image"))
	}
	defer f.Close()

	var tags map[string]string
	if b.kind == sniff.KindPNG {
		tags, err = pngTags(f)
	} else {
		tags, err = exifTags(f)
	}
	if err != nil {
		return processor.Failure(errors.Wrapf(err, "read %s metadata of %s", b.kind, b.source()))
	}

	ids, failed, fatal := b.save(ctx, []store.Record{b.record(imageFields(tags))})
	return b.finish(Import{Path: b.source(), Kind: b.kind.String(), RecordIDs: ids}, failed, fatal)
}

func exifTags(rs io.ReadSeeker) (map[string]string, error) {
	tags := make(map[string]string)
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return tags, err
	}

	entries, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if errorsIsNoExif(err) {
			return tags, nil
		}
		return tags, err
	}
	for _, tag := range entries {
		if _, seen := tags[tag.TagName]; !seen {
			tags[tag.TagName] = tag.Formatted
		}
	}
	return tags, nil
}

func errorsIsNoExif(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// Text chunks larger than maxTextChunk are skipped unread, and inflated
// text is cut at maxInflated.
const (
	maxTextChunk = 1 << 20
	maxInflated  = 1 << 20
)

// pngTags collects the textual chunks of a PNG. tIME is reported as
// DateTime in the EXIF layout so both formats derive captured_at alike.
func pngTags(rs io.ReadSeeker) (map[string]string, error) {
	tags := make(map[string]string)
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return tags, err
	}

	br := bufio.NewReader(rs)
	sig := make([]byte, 8)
	if _, err := io.ReadFull(br, sig); err != nil {
		return tags, err
	}
	if !bytes.Equal(sig, pngSignature) {
		return tags, errors.New("invalid PNG signature")
	}

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				return tags, nil
			}
			return tags, err
		}
		length := binary.BigEndian.Uint32(lenBuf)

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(br, chunkType); err != nil {
			return tags, err
		}
		chunkName := string(chunkType)

		textual := chunkName == "tEXt" || chunkName == "zTXt" || chunkName == "iTXt" || chunkName == "tIME"
		switch {
		case textual && length <= maxTextChunk:
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return tags, err
			}
			if _, err := io.CopyN(io.Discard, br, 4); err != nil {
				return tags, err
			}
			if key, value, ok := pngText(chunkName, data); ok {
				tags[key] = value
			}
		default:
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return tags, err
			}
		}

		if chunkName == "IEND" {
			return tags, nil
		}
	}
}

func pngText(chunk string, data []byte) (string, string, bool) {
	if chunk == "tIME" {
		if len(data) != 7 {
			return "", "", false
		}
		year := binary.BigEndian.Uint16(data[:2])
		return "DateTime", fmt.Sprintf("%04d:%02d:%02d %02d:%02d:%02d",
			year, data[2], data[3], data[4], data[5], data[6]), true
	}

	idx := bytes.IndexByte(data, 0)
	if idx <= 0 {
		return "", "", false
	}
	key := string(data[:idx])
	rest := data[idx+1:]

	switch chunk {
	case "tEXt":
		return key, string(rest), true
	case "zTXt":
		// compression method byte, then zlib stream
		if len(rest) < 1 {
			return key, "", true
		}
		text, err := inflate(rest[1:])
		return key, text, err == nil
	default:
		// iTXt: compression flag, method, language\0, translated keyword\0, text
		if len(rest) < 2 {
			return key, "", true
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		for i := 0; i < 2; i++ {
			j := bytes.IndexByte(rest, 0)
			if j < 0 {
				return key, "", true
			}
			rest = rest[j+1:]
		}
		if !compressed {
			return key, string(rest), true
		}
		text, err := inflate(rest)
		return key, text, err == nil
	}
}

func inflate(data []byte) (string, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflated))
	return string(out), err
}

func imageFields(tags map[string]string) map[string]any {
	fields := map[string]any{"tags": tags}

	if lat, lon, ok := location(tags); ok {
		fields["latitude"] = lat
		fields["longitude"] = lon
	}
	if device := strings.TrimSpace(tags["Make"] + " " + tags["Model"]); device != "" {
		fields["device"] = device
		if kind := inferDeviceType(strings.ToLower(device)); kind != "" {
			fields["device_type"] = kind
		}
	}
	for _, key := range []string{"DateTimeOriginal", "DateTimeDigitized", "DateTime"} {
		if ts := tags[key]; ts != "" {
			fields["captured_at"] = replaceFirstN(ts, ":", "-", 2)
			break
		}
	}
	return fields
}

func location(tags map[string]string) (float64, float64, bool) {
	lat, okLat := parseGPSCoordinate(tags["GPSLatitude"])
	lon, okLon := parseGPSCoordinate(tags["GPSLongitude"])
	if !okLat || !okLon {
		return 0, 0, false
	}
	if tags["GPSLatitudeRef"] == "S" {
		lat = -lat
	}
	if tags["GPSLongitudeRef"] == "W" {
		lon = -lon
	}
	return lat, lon, true
}

func parseGPSCoordinate(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return 0, false
	}

	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		value, ok := parseRational(part)
		if !ok {
			return 0, false
		}
		values = append(values, value)
	}

	switch len(values) {
	case 3:
		return values[0] + values[1]/60.0 + values[2]/3600.0, true
	case 2:
		return values[0] + values[1]/60.0, true
	default:
		return values[0], true
	}
}

func parseRational(part string) (float64, bool) {
	num, den, found := strings.Cut(part, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if !found {
		return n, true
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}

func inferDeviceType(device string) string {
	switch {
	case strings.Contains(device, "iphone"),
		strings.Contains(device, "pixel"),
		strings.Contains(device, "galaxy"),
		strings.Contains(device, "android"):
		return "smartphone"
	case strings.Contains(device, "ipad"),
		strings.Contains(device, "tablet"):
		return "tablet"
	case strings.Contains(device, "gopro"):
		return "action camera"
	case strings.Contains(device, "dji"):
		return "drone"
	case strings.Contains(device, "canon"),
		strings.Contains(device, "nikon"),
		strings.Contains(device, "sony"),
		strings.Contains(device, "fujifilm"),
		strings.Contains(device, "leica"):
		return "camera"
	default:
		return ""
	}
}

func replaceFirstN(s, old, new string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.Index(s, old)
		if idx < 0 {
			break
		}
		s = s[:idx] + new + s[idx+len(old):]
	}
	return s
}
