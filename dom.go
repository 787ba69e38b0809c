package twwplus

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationType names the kind of structural change a MutationRecord describes.
type MutationType string

const (
	MutationAttributes MutationType = "attributes"
	MutationChildList  MutationType = "childList"
)

// MutationRecord describes one change to the mirrored document.
type MutationRecord struct {
	Type            MutationType
	Target          *html.Node
	Added           []*html.Node
	Removed         []*html.Node
	PreviousSibling *html.Node
	NextSibling     *html.Node
	AttributeName   string
	OldValue        string
}

// MutationBatch is an ordered run of records delivered together.
type MutationBatch []MutationRecord

// InputListener receives the editable's HTML after each input event.
type InputListener func(html string)

const emptyDocument = "<html><head></head><body></body></html>"

// Document mirrors the host page. Every change made through it is reported
// to its observers as a MutationRecord; changes made by the overlay are also
// reported to the patch sink so they can be replayed on the page.
//
// A Document is not safe for concurrent use.
type Document struct {
	root      *html.Node
	compiled  map[string]cascadia.Selector
	observers []func(MutationRecord)
	patchSink func(Record)
	listeners map[*html.Node]InputListener
}

// NewDocument returns a document holding an empty page.
func NewDocument() *Document {
	d, err := ParseDocument(emptyDocument)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDocument builds a document from a full HTML page.
func ParseDocument(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		root:      root,
		compiled:  make(map[string]cascadia.Selector),
		listeners: make(map[*html.Node]InputListener),
	}, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// SetPatchSink sets the receiver of overlay-originated changes.
func (d *Document) SetPatchSink(sink func(Record)) { d.patchSink = sink }

func (d *Document) observe(fn func(MutationRecord)) {
	d.observers = append(d.observers, fn)
}

func (d *Document) record(r MutationRecord) {
	for _, fn := range d.observers {
		fn(r)
	}
}

func (d *Document) patch(r Record) {
	if d.patchSink != nil {
		d.patchSink(r)
	}
}

// ── Queries ─────────────────────────────────────────────

func (d *Document) selector(sel string) (cascadia.Selector, bool) {
	if s, ok := d.compiled[sel]; ok {
		return s, s != nil
	}
	s, err := cascadia.Compile(sel)
	if err != nil {
		d.compiled[sel] = nil
		return nil, false
	}
	d.compiled[sel] = s
	return s, true
}

// Query returns the first descendant of scope matching sel, in document
// order. A nil scope searches the whole document. Invalid selectors match
// nothing.
func (d *Document) Query(scope *html.Node, sel string) *html.Node {
	all := d.QueryAll(scope, sel)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// QueryAll returns every descendant of scope matching sel, in document order.
func (d *Document) QueryAll(scope *html.Node, sel string) []*html.Node {
	if scope == nil {
		scope = d.root
	}
	s, ok := d.selector(sel)
	if !ok {
		return nil
	}
	matches := s.MatchAll(scope)
	out := matches[:0]
	for _, n := range matches {
		if n != scope {
			out = append(out, n)
		}
	}
	return out
}

// Render serialises the whole document.
func (d *Document) Render() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

// InnerHTML serialises the children of n.
func InnerHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// TextContent concatenates the text nodes under n.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(TextContent(c))
	}
	return sb.String()
}

// Attr returns the value of attribute name on n.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// ClassName returns the raw class attribute of n.
func ClassName(n *html.Node) string {
	v, _ := Attr(n, "class")
	return v
}

// ── Overlay writes ──────────────────────────────────────

// SetInnerHTML replaces the children of n with the parsed fragment.
func (d *Document) SetInnerHTML(n *html.Node, src string) error {
	return d.setInnerHTML(n, src, true)
}

// Remove detaches n from its parent.
func (d *Document) Remove(n *html.Node) {
	d.remove(n, true)
}

// InsertAfter parses src and inserts the result right after ref.
func (d *Document) InsertAfter(ref *html.Node, src string) error {
	if ref == nil || ref.Parent == nil || ref.Parent.Type != html.ElementNode {
		return ErrInvalidInput
	}
	return d.insert(ref.Parent, src, ref.NextSibling, true)
}

// SetAttribute sets attribute name on n.
func (d *Document) SetAttribute(n *html.Node, name, value string) {
	d.setAttr(n, name, value, true)
}

// ── Input ───────────────────────────────────────────────

// SetInputListener binds fn to input events on n, replacing any earlier one.
func (d *Document) SetInputListener(n *html.Node, fn InputListener) {
	if n == nil {
		return
	}
	if fn == nil {
		delete(d.listeners, n)
		return
	}
	d.listeners[n] = fn
}

// HasInputListener reports whether n has a bound input listener.
func (d *Document) HasInputListener(n *html.Node) bool {
	_, ok := d.listeners[n]
	return ok
}

// DispatchInput replaces the content of n with what the user typed and
// passes src, as the page reported it, to the input listener. The replacement is not reported to observers
// or to the patch sink: it mirrors a change the page already made.
func (d *Document) DispatchInput(n *html.Node, src string) error {
	if n == nil || n.Type != html.ElementNode {
		return ErrInvalidInput
	}
	nodes, err := parseFragment(n, src)
	if err != nil {
		return err
	}
	d.forgetAll(detachChildren(n))
	for _, c := range nodes {
		n.AppendChild(c)
	}
	if fn, ok := d.listeners[n]; ok {
		fn(src)
	}
	return nil
}

// ── Primitive changes ───────────────────────────────────

func (d *Document) setInnerHTML(n *html.Node, src string, patch bool) error {
	if n == nil || n.Type != html.ElementNode {
		return ErrInvalidInput
	}
	nodes, err := parseFragment(n, src)
	if err != nil {
		return err
	}
	removed := detachChildren(n)
	d.forgetAll(removed)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	if len(removed) > 0 || len(nodes) > 0 {
		d.record(MutationRecord{Type: MutationChildList, Target: n, Added: nodes, Removed: removed})
	}
	if patch {
		d.patch(Record{Op: OpSetHTML, XPath: XPathOf(n), HTML: src})
	}
	return nil
}

func (d *Document) insert(parent *html.Node, src string, before *html.Node, patch bool) error {
	nodes, err := parseFragment(parent, src)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	prev := parent.LastChild
	if before != nil {
		prev = before.PrevSibling
	}
	for _, c := range nodes {
		parent.InsertBefore(c, before)
	}
	d.record(MutationRecord{
		Type:            MutationChildList,
		Target:          parent,
		Added:           nodes,
		PreviousSibling: prev,
		NextSibling:     before,
	})
	if patch {
		rec := Record{Op: OpInsert, XPath: XPathOf(parent), HTML: src}
		if prev != nil && prev.Type == html.ElementNode {
			rec.After = XPathOf(prev)
		} else if before != nil && before.Type == html.ElementNode {
			rec.Before = XPathOf(before)
		}
		d.patch(rec)
	}
	return nil
}

func (d *Document) remove(n *html.Node, patch bool) {
	if n == nil || n.Parent == nil {
		return
	}
	xp := XPathOf(n)
	parent, prev, next := n.Parent, n.PrevSibling, n.NextSibling
	parent.RemoveChild(n)
	d.forget(n)
	d.record(MutationRecord{
		Type:            MutationChildList,
		Target:          parent,
		Removed:         []*html.Node{n},
		PreviousSibling: prev,
		NextSibling:     next,
	})
	if patch {
		d.patch(Record{Op: OpRemove, XPath: xp})
	}
}

func (d *Document) setAttr(n *html.Node, name, value string, patch bool) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	old, _ := Attr(n, name)
	set := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == name {
			n.Attr[i].Val = value
			set = true
			break
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.record(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: old})
	if patch {
		d.patch(Record{Op: OpAttr, XPath: XPathOf(n), Name: name, Value: value})
	}
}

func (d *Document) removeAttr(n *html.Node, name string, patch bool) {
	if n == nil {
		return
	}
	old, ok := Attr(n, name)
	if !ok {
		return
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
	d.record(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: old})
	if patch {
		d.patch(Record{Op: OpAttrDel, XPath: XPathOf(n), Name: name})
	}
}

// Reset replaces the whole page, as after a navigation.
func (d *Document) Reset(src string) error {
	fresh, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	removed := detachChildren(d.root)
	added := detachChildren(fresh)
	for _, c := range added {
		d.root.AppendChild(c)
	}
	d.listeners = make(map[*html.Node]InputListener)
	d.record(MutationRecord{Type: MutationChildList, Target: d.root, Added: added, Removed: removed})
	return nil
}

func (d *Document) forget(n *html.Node) {
	delete(d.listeners, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.forget(c)
	}
}

func (d *Document) forgetAll(nodes []*html.Node) {
	if len(d.listeners) == 0 {
		return
	}
	for _, n := range nodes {
		d.forget(n)
	}
}

// ── Helpers ─────────────────────────────────────────────

func parseFragment(context *html.Node, src string) ([]*html.Node, error) {
	if context == nil || context.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(src), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

func detachChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		out = append(out, c)
		c = next
	}
	return out
}

// nextElementSibling skips whitespace-only text between elements.
func nextElementSibling(n *html.Node) *html.Node {
	for ; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			return n
		}
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
			return nil
		}
	}
	return nil
}
