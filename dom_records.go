package twwplus

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// RecordOp is the operation carried by a wire Record.
type RecordOp string

const (
	OpInsert   RecordOp = "insert"
	OpRemove   RecordOp = "remove"
	OpText     RecordOp = "text"
	OpAttr     RecordOp = "attr"
	OpAttrDel  RecordOp = "attr_del"
	OpDocReset RecordOp = "doc_reset"
	OpSetHTML  RecordOp = "set_html"
)

// Record is the serialisable form of a DOM change exchanged with the page.
// Nodes are addressed by absolute XPath.
//
//	insert     XPath is the parent; HTML is appended, or placed after After / before Before.
//	remove     XPath is the removed node.
//	text       XPath is the node whose text becomes Value.
//	attr       set attribute Name to Value.
//	attr_del   remove attribute Name.
//	doc_reset  HTML is the full page.
//	set_html   replace the children of XPath with HTML.
type Record struct {
	Op       RecordOp `json:"op"`
	XPath    string   `json:"xpath,omitempty"`
	After    string   `json:"after,omitempty"`
	Before   string   `json:"before,omitempty"`
	Name     string   `json:"name,omitempty"`
	Value    string   `json:"value,omitempty"`
	OldValue string   `json:"old_value,omitempty"`
	HTML     string   `json:"html,omitempty"`
}

// Apply replays page-originated records onto the mirror. Observers see the
// resulting mutations; the patch sink does not. Records whose nodes cannot be
// resolved are skipped. It returns how many records were applied.
func (d *Document) Apply(records []Record) int {
	applied := 0
	for _, rec := range records {
		if err := d.applyRecord(rec); err != nil {
			continue
		}
		applied++
	}
	return applied
}

func (d *Document) applyRecord(rec Record) error {
	if rec.Op == OpDocReset {
		return d.Reset(rec.HTML)
	}
	n, err := d.resolve(rec.XPath)
	if err != nil {
		return err
	}
	switch rec.Op {
	case OpInsert:
		if n.Type != html.ElementNode {
			return ErrInvalidInput
		}
		var before *html.Node
		switch {
		case rec.After != "":
			ref, err := d.resolve(rec.After)
			if err != nil || ref.Parent != n {
				return ErrInvalidInput
			}
			before = ref.NextSibling
		case rec.Before != "":
			ref, err := d.resolve(rec.Before)
			if err != nil || ref.Parent != n {
				return ErrInvalidInput
			}
			before = ref
		}
		return d.insert(n, rec.HTML, before, false)
	case OpRemove:
		d.remove(n, false)
		return nil
	case OpText:
		if n.Type == html.TextNode {
			n.Data = rec.Value
			return nil
		}
		return d.setInnerHTML(n, html.EscapeString(rec.Value), false)
	case OpAttr:
		d.setAttr(n, rec.Name, rec.Value, false)
		return nil
	case OpAttrDel:
		d.removeAttr(n, rec.Name, false)
		return nil
	case OpSetHTML:
		return d.setInnerHTML(n, rec.HTML, false)
	}
	return fmt.Errorf("%w: record op %q", ErrInvalidInput, rec.Op)
}

// Resolve returns the node at xpath.
func (d *Document) Resolve(xpath string) (*html.Node, error) {
	return d.resolve(xpath)
}

func (d *Document) resolve(xpath string) (*html.Node, error) {
	if strings.TrimSpace(xpath) == "" {
		return nil, ErrInvalidInput
	}
	n, err := htmlquery.Query(d.root, xpath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", xpath, err)
	}
	if n == nil {
		return nil, fmt.Errorf("%w: no node at %s", ErrInvalidInput, xpath)
	}
	return n, nil
}

// XPathOf returns the absolute positional XPath of an element, for example
// /html[1]/body[1]/div[2].
func XPathOf(n *html.Node) string {
	var parts []string
	for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
		idx := 1
		for s := c.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == c.Data {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", c.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
