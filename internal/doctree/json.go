package doctree

import (
	"fmt"

	"github.com/ohler55/ojg/oj"
)

// ParseJSON loads a document tree from its JSON form. Each node is an object
// with "tag", optional "attrs" (string map), optional "text" and optional
// "children" (ordered array of nodes).
func ParseJSON(data []byte) (Node, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse document json: %w", err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root must be an object, got %T", v)
	}
	return fromMap(root, "$")
}

func fromMap(m map[string]any, path string) (Node, error) {
	tag, _ := m["tag"].(string)
	if tag == "" {
		return nil, fmt.Errorf("node at %s has no tag", path)
	}

	el := &Element{Tag: tag}

	if raw, ok := m["attrs"].(map[string]any); ok && len(raw) > 0 {
		el.Attrs = make(map[string]string, len(raw))
		for k, v := range raw {
			el.Attrs[k] = fmt.Sprint(v)
		}
	}
	if txt, ok := m["text"].(string); ok {
		el.Body = txt
	}

	kids, ok := m["children"].([]any)
	if !ok {
		return el, nil
	}
	for i, k := range kids {
		km, ok := k.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("child %d of %s/%s is not an object", i, path, tag)
		}
		child, err := fromMap(km, fmt.Sprintf("%s/%s[%d]", path, tag, i))
		if err != nil {
			return nil, err
		}
		el.Kids = append(el.Kids, child)
	}
	return el, nil
}
