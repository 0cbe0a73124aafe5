// Package doctree provides the read-only view over a source document tree.
// The materialization engine only ever calls the accessors on Node; it never
// mutates the tree, which stays owned by the caller.
package doctree

// Node is one element of a source document tree: a local name, an attribute
// lookup, ordered children and inner text.
type Node interface {
	// Name returns the local element name ("section", "list", ...).
	Name() string
	// Attr returns the value of the named attribute, or "" when absent.
	Attr(name string) string
	// Children returns the ordered child elements.
	Children() []Node
	// Text returns the inner text of this element, excluding children.
	Text() string
}

// Element is the concrete tree node produced by the JSON and XML loaders.
type Element struct {
	Tag   string
	Attrs map[string]string
	Kids  []Node
	Body  string
}

func (e *Element) Name() string { return e.Tag }

func (e *Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

func (e *Element) Children() []Node { return e.Kids }

func (e *Element) Text() string { return e.Body }

// ChildrenNamed returns the ordered children of n with the given name.
func ChildrenNamed(n Node, name string) []Node {
	var out []Node
	for _, c := range n.Children() {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// FirstNamed returns the first child of n with the given name, or nil.
func FirstNamed(n Node, name string) Node {
	for _, c := range n.Children() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
