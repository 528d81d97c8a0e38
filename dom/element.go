package dom

import (
	"html"
	"sort"
	"strings"
)

// Element represents an element in the document tree.
type Element Node

// elementData holds data specific to Element nodes.
type elementData struct {
	localName        string
	tagName          string
	attributes       []attribute
	classList        *DOMTokenList
	styleDeclaration *CSSStyleDeclaration

	// Layout geometry, set by whoever lays the document out
	geometry *ElementGeometry
}

type attribute struct {
	name  string
	value string
}

// AsNode returns the element as a Node.
func (e *Element) AsNode() *Node {
	return (*Node)(e)
}

// NodeType returns ElementNode.
func (e *Element) NodeType() NodeType {
	return ElementNode
}

// TagName returns the upper-case tag name of the element.
func (e *Element) TagName() string {
	return e.elementData.tagName
}

// LocalName returns the lower-case local name of the element.
func (e *Element) LocalName() string {
	return e.elementData.localName
}

// Id returns the element's id attribute.
func (e *Element) Id() string {
	return e.GetAttribute("id")
}

// SetId sets the element's id attribute.
func (e *Element) SetId(id string) {
	e.SetAttribute("id", id)
}

// ClassName returns the element's class attribute.
func (e *Element) ClassName() string {
	return e.GetAttribute("class")
}

// ClassList returns the live token list backed by the class attribute.
func (e *Element) ClassList() *DOMTokenList {
	if e.elementData.classList == nil {
		e.elementData.classList = newDOMTokenList(e, "class")
	}
	return e.elementData.classList
}

// GetAttribute returns the value of the named attribute, or "" if absent.
func (e *Element) GetAttribute(name string) string {
	name = strings.ToLower(name)
	for _, a := range e.elementData.attributes {
		if a.name == name {
			return a.value
		}
	}
	return ""
}

// HasAttribute reports whether the element has the named attribute.
func (e *Element) HasAttribute(name string) bool {
	name = strings.ToLower(name)
	for _, a := range e.elementData.attributes {
		if a.name == name {
			return true
		}
	}
	return false
}

// SetAttribute sets the value of the named attribute. Setting "style"
// re-parses the inline style declaration.
func (e *Element) SetAttribute(name, value string) {
	e.setAttributeValue(name, value)
	if strings.EqualFold(name, "style") && e.elementData.styleDeclaration != nil {
		e.elementData.styleDeclaration.RefreshFromAttribute()
	}
}

// setAttributeValue stores an attribute without side effects.
func (e *Element) setAttributeValue(name, value string) {
	name = strings.ToLower(name)
	for i, a := range e.elementData.attributes {
		if a.name == name {
			e.elementData.attributes[i].value = value
			return
		}
	}
	e.elementData.attributes = append(e.elementData.attributes, attribute{name: name, value: value})
}

// RemoveAttribute removes the named attribute if present.
func (e *Element) RemoveAttribute(name string) {
	name = strings.ToLower(name)
	attrs := e.elementData.attributes
	for i, a := range attrs {
		if a.name == name {
			e.elementData.attributes = append(attrs[:i], attrs[i+1:]...)
			if name == "style" && e.elementData.styleDeclaration != nil {
				e.elementData.styleDeclaration.RefreshFromAttribute()
			}
			return
		}
	}
}

// ParentElement returns the parent element, or nil.
func (e *Element) ParentElement() *Element {
	return e.AsNode().ParentElement()
}

// Children returns the element children of this element.
func (e *Element) Children() []*Element {
	var out []*Element
	for c := e.firstChild; c != nil; c = c.nextSibling {
		if c.nodeType == ElementNode {
			out = append(out, (*Element)(c))
		}
	}
	return out
}

// ChildElementCount returns the number of element children.
func (e *Element) ChildElementCount() int {
	return len(e.Children())
}

// NextElementSibling returns the next sibling that is an element.
func (e *Element) NextElementSibling() *Element {
	for s := e.nextSibling; s != nil; s = s.nextSibling {
		if s.nodeType == ElementNode {
			return (*Element)(s)
		}
	}
	return nil
}

// PreviousElementSibling returns the previous sibling that is an element.
func (e *Element) PreviousElementSibling() *Element {
	for s := e.prevSibling; s != nil; s = s.prevSibling {
		if s.nodeType == ElementNode {
			return (*Element)(s)
		}
	}
	return nil
}

// AppendChild appends child to this element and returns it.
func (e *Element) AppendChild(child *Element) *Element {
	if child == nil {
		return nil
	}
	if _, err := e.AsNode().AppendChildWithError(child.AsNode()); err != nil {
		return nil
	}
	return child
}

// InsertBefore inserts child before ref. A nil ref appends.
func (e *Element) InsertBefore(child, ref *Element) error {
	if child == nil {
		return NewHierarchyRequestError("The node to be inserted is null.")
	}
	var refNode *Node
	if ref != nil {
		refNode = ref.AsNode()
	}
	_, err := e.AsNode().InsertBeforeWithError(child.AsNode(), refNode)
	return err
}

// Remove detaches the element from its parent.
func (e *Element) Remove() {
	if e.parentNode != nil {
		e.parentNode.removeChildInternal(e.AsNode())
	}
}

// Contains reports whether other is this element or one of its descendants.
func (e *Element) Contains(other *Element) bool {
	if other == nil {
		return false
	}
	return e.AsNode().Contains(other.AsNode())
}

// IsConnected reports whether the element is attached to its document.
func (e *Element) IsConnected() bool {
	return e.AsNode().IsConnected()
}

// TextContent returns the concatenated text of the element's descendants.
func (e *Element) TextContent() string {
	return e.AsNode().TextContent()
}

// SetTextContent replaces the element's children with a text node.
func (e *Element) SetTextContent(text string) {
	e.AsNode().SetTextContent(text)
}

// Style returns the element's inline style declaration.
func (e *Element) Style() *CSSStyleDeclaration {
	if e.elementData.styleDeclaration == nil {
		e.elementData.styleDeclaration = NewCSSStyleDeclaration(e)
	}
	return e.elementData.styleDeclaration
}

// OuterHTML serializes the element and its subtree.
func (e *Element) OuterHTML() string {
	var sb strings.Builder
	serializeNode(e.AsNode(), &sb)
	return sb.String()
}

func serializeNode(n *Node, sb *strings.Builder) {
	switch n.nodeType {
	case TextNode:
		sb.WriteString(html.EscapeString(*n.textData))
	case CommentNode:
		sb.WriteString("<!--")
		sb.WriteString(*n.textData)
		sb.WriteString("-->")
	case ElementNode:
		e := (*Element)(n)
		sb.WriteByte('<')
		sb.WriteString(e.LocalName())
		for _, a := range e.elementData.attributes {
			sb.WriteByte(' ')
			sb.WriteString(a.name)
			sb.WriteString(`="`)
			sb.WriteString(html.EscapeString(a.value))
			sb.WriteByte('"')
		}
		sb.WriteByte('>')
		if isVoidElement(e.LocalName()) {
			return
		}
		for c := n.firstChild; c != nil; c = c.nextSibling {
			serializeNode(c, sb)
		}
		sb.WriteString("</")
		sb.WriteString(e.LocalName())
		sb.WriteByte('>')
	}
}

var voidElements = []string{"area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta", "source", "track", "wbr"}

func isVoidElement(tagName string) bool {
	i := sort.SearchStrings(voidElements, tagName)
	return i < len(voidElements) && voidElements[i] == tagName
}

// focusableTags are focusable without a tabindex attribute.
var focusableTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// IsFocusable reports whether the element can receive keyboard focus.
func (e *Element) IsFocusable() bool {
	if e.HasAttribute("disabled") || e.Style().GetPropertyValue("display") == "none" {
		return false
	}
	if e.HasAttribute("tabindex") {
		return strings.TrimSpace(e.GetAttribute("tabindex")) != "-1"
	}
	if e.LocalName() == "a" {
		return e.HasAttribute("href")
	}
	return focusableTags[e.LocalName()]
}

// Focus makes the element the document's active element and fires
// focus events. Non-focusable or detached elements are ignored. It takes
// the document lock and must not be called with it held.
func (e *Element) Focus() {
	doc := e.ownerDoc
	if doc == nil {
		return
	}
	doc.Lock()
	if !e.IsConnected() || !e.IsFocusable() {
		doc.Unlock()
		return
	}
	prev := doc.ActiveElement()
	if prev == e {
		doc.Unlock()
		return
	}
	doc.documentData.activeElement = e
	doc.Unlock()

	if prev != nil {
		doc.DispatchEvent(prev.AsNode(), NewEvent("blur"))
	}
	doc.DispatchEvent(e.AsNode(), NewEvent("focus"))
}

// Blur removes focus from the element if it has it.
func (e *Element) Blur() {
	doc := e.ownerDoc
	if doc == nil {
		return
	}
	doc.Lock()
	if doc.documentData.activeElement != e {
		doc.Unlock()
		return
	}
	doc.documentData.activeElement = nil
	doc.Unlock()
	doc.DispatchEvent(e.AsNode(), NewEvent("blur"))
}
