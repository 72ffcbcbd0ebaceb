package builder

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"swallow/internal/processor"
	"swallow/internal/store"
)

// XMLBuilder imports XML exports. Every direct child of the root element
// that has elements of its own becomes a record of its leaf values; a root
// with leaves only becomes a single record. Attributes are kept under an
// "@" prefix.
type XMLBuilder struct {
	base
}

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*xmlNode
}

func (b *XMLBuilder) ProcessAndSave(ctx context.Context) processor.Outcome {
	f, err := b.ws.Open(b.rel)
	if err != nil {
		return processor.Failure(errors.Wrap(err, "open document"))
	}
	root, err := parseXML(f)
	f.Close()
	if err != nil {
		return processor.Failure(errors.Wrapf(err, "decode xml document %s", b.source()))
	}

	var records []store.Record
	for _, child := range root.children {
		if len(child.children) > 0 {
			records = append(records, b.record(child.fields()))
		}
	}
	if len(records) == 0 {
		records = append(records, b.record(root.fields()))
	}

	ids, failed, fatal := b.save(ctx, records)
	return b.finish(Import{Path: b.source(), Kind: b.kind.String(), RecordIDs: ids}, failed, fatal)
}

func parseXML(r io.Reader) (*xmlNode, error) {
	dec := xml.NewDecoder(r)
	var stack []*xmlNode
	var root *xmlNode
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// fields flattens the leaves below n. Repeated names collect into a list.
func (n *xmlNode) fields() map[string]any {
	out := make(map[string]any)
	for _, a := range n.attrs {
		out["@"+a.Name.Local] = a.Value
	}
	n.collect(out)
	return out
}

func (n *xmlNode) collect(out map[string]any) {
	for _, c := range n.children {
		if len(c.children) > 0 {
			c.collect(out)
			continue
		}
		value := strings.TrimSpace(c.text.String())
		switch prev := out[c.name].(type) {
		case nil:
			out[c.name] = value
		case []any:
			out[c.name] = append(prev, value)
		default:
			out[c.name] = []any{prev, value}
		}
	}
}
