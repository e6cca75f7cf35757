package host

import "strings"

// Element is a node in the document tree as seen by click listeners.
type Element struct {
	Tag    string
	Attrs  map[string]string
	Text   string
	Parent *Element
}

// NewElement builds an element from tag and alternating attribute
// name/value pairs.
func NewElement(tag string, attrs ...string) *Element {
	el := &Element{Tag: tag, Attrs: make(map[string]string, len(attrs)/2)}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.Attrs[attrs[i]] = attrs[i+1]
	}
	return el
}

// Append sets el as the parent of child and returns child.
func (el *Element) Append(child *Element) *Element {
	child.Parent = el
	return child
}

// WithText sets the element's text content and returns el.
func (el *Element) WithText(text string) *Element {
	el.Text = text
	return el
}

// Attr returns the value of the named attribute.
func (el *Element) Attr(name string) (string, bool) {
	if el == nil || el.Attrs == nil {
		return "", false
	}
	v, ok := el.Attrs[name]
	return v, ok
}

// Closest returns the nearest element, starting with el itself and walking
// up the tree, for which match returns true.
func (el *Element) Closest(match func(*Element) bool) *Element {
	for cur := el; cur != nil; cur = cur.Parent {
		if match(cur) {
			return cur
		}
	}
	return nil
}

// ClosestWithAttr returns the nearest element carrying attr, optionally
// restricted to tag.
func (el *Element) ClosestWithAttr(tag, attr string) *Element {
	return el.Closest(func(e *Element) bool {
		if tag != "" && !strings.EqualFold(e.Tag, tag) {
			return false
		}
		_, ok := e.Attr(attr)
		return ok
	})
}
