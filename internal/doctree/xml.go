package doctree

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ParseXML loads a document tree from its XML form. Element names become
// tags, XML attributes become node attributes, and character data directly
// inside an element becomes its text.
func ParseXML(r io.Reader) (Node, error) {
	dec := xml.NewDecoder(r)

	var stack []*Element
	var root *Element

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Tag: t.Name.Local}
			if len(t.Attr) > 0 {
				el.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					el.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements: %s and %s", root.Tag, el.Tag)
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Kids = append(parent.Kids, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced close tag %s", t.Name.Local)
			}
			top := stack[len(stack)-1]
			top.Body = strings.TrimSpace(top.Body)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Body += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}
