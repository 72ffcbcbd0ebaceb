package sniff

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies a supported content type.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindTIFF
	KindJSON
	KindXML
	KindYAML
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindTIFF:
		return "tiff"
	case KindJSON:
		return "json"
	case KindXML:
		return "xml"
	case KindYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// IsImage reports whether k is one of the binary image kinds.
func (k Kind) IsImage() bool {
	return k == KindJPEG || k == KindPNG || k == KindTIFF
}

// ParseKind maps a kind name (as printed by String) back to a Kind.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "jpeg", "jpg":
		return KindJPEG, true
	case "png":
		return KindPNG, true
	case "tiff", "tif":
		return KindTIFF, true
	case "json":
		return KindJSON, true
	case "xml":
		return KindXML, true
	case "yaml", "yml":
		return KindYAML, true
	default:
		return KindUnknown, false
	}
}

// HeaderSize is the number of leading bytes inspected by SniffReader.
const HeaderSize = 512

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	tiffSigLE = []byte{0x49, 0x49, 0x2a, 0x00}
	tiffSigBE = []byte{0x4d, 0x4d, 0x00, 0x2a}
	utf8BOM   = []byte{0xef, 0xbb, 0xbf}
)

// DetectHeader inspects the leading bytes of a file for known signatures.
// Binary signatures win over textual heuristics.
func DetectHeader(header []byte) Kind {
	if bytes.HasPrefix(header, jpegSig) {
		return KindJPEG
	}
	if bytes.HasPrefix(header, pngSig) {
		return KindPNG
	}
	if bytes.HasPrefix(header, tiffSigLE) || bytes.HasPrefix(header, tiffSigBE) {
		return KindTIFF
	}

	text := bytes.TrimPrefix(header, utf8BOM)
	text = bytes.TrimLeft(text, " \t\r\n")
	if len(text) == 0 {
		return KindUnknown
	}
	switch text[0] {
	case '{', '[':
		return KindJSON
	case '<':
		return KindXML
	}
	return KindUnknown
}

// SniffFile reads the head of a file to determine its type. YAML has no
// reliable signature, so it is recognised by extension when the content
// does not match anything else.
func SniffFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	kind, err := SniffReader(f)
	if err != nil {
		return KindUnknown, err
	}
	if kind == KindUnknown {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			return KindYAML, nil
		}
	}
	return kind, nil
}

// SniffReader reads up to HeaderSize bytes from r and determines its type.
// Files shorter than the header are fine.
func SniffReader(r io.Reader) (Kind, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindUnknown, err
	}
	return DetectHeader(header[:n]), nil
}
