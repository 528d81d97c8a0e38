package dom

import (
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Document represents the entire HTML document.
type Document Node

// documentData holds data specific to Document nodes.
type documentData struct {
	eventState

	// mu guards the tree. The dom package never takes it on behalf of
	// tree methods; callers that share a document across goroutines do.
	mu sync.Mutex

	viewportWidth  float64
	viewportHeight float64
	scrollX        float64
	scrollY        float64

	activeElement *Element

	// Custom properties declared on :root in <style> elements.
	rootVars map[string]string
}

// Default viewport size for new documents.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// NewDocument creates a new empty Document.
func NewDocument() *Document {
	node := newNode(DocumentNode, "#document", nil)
	node.documentData = &documentData{
		viewportWidth:  DefaultViewportWidth,
		viewportHeight: DefaultViewportHeight,
		rootVars:       make(map[string]string),
	}
	doc := (*Document)(node)
	node.ownerDoc = doc
	return doc
}

// NewHTMLDocument creates a document with the html, head and body skeleton.
func NewHTMLDocument() *Document {
	doc := NewDocument()
	root := doc.CreateElement("html")
	root.AppendChild(doc.CreateElement("head"))
	root.AppendChild(doc.CreateElement("body"))
	doc.AsNode().AppendChild(root.AsNode())
	return doc
}

// AsNode returns the document as a Node.
func (d *Document) AsNode() *Node {
	return (*Node)(d)
}

// NodeType returns DocumentNode.
func (d *Document) NodeType() NodeType {
	return DocumentNode
}

// Lock acquires the document's tree lock.
func (d *Document) Lock() {
	d.documentData.mu.Lock()
}

// Unlock releases the document's tree lock.
func (d *Document) Unlock() {
	d.documentData.mu.Unlock()
}

// DocumentElement returns the root element.
func (d *Document) DocumentElement() *Element {
	for c := d.firstChild; c != nil; c = c.nextSibling {
		if c.nodeType == ElementNode {
			return (*Element)(c)
		}
	}
	return nil
}

func (d *Document) rootChild(localName string) *Element {
	root := d.DocumentElement()
	if root == nil {
		return nil
	}
	for _, c := range root.Children() {
		if c.LocalName() == localName {
			return c
		}
	}
	return nil
}

// Head returns the head element, or nil.
func (d *Document) Head() *Element {
	return d.rootChild("head")
}

// Body returns the body element, or nil.
func (d *Document) Body() *Element {
	return d.rootChild("body")
}

// CreateElement creates an element owned by this document.
func (d *Document) CreateElement(tagName string) *Element {
	localName := strings.ToLower(tagName)
	node := newNode(ElementNode, strings.ToUpper(localName), d)
	node.elementData = &elementData{
		localName: localName,
		tagName:   strings.ToUpper(localName),
	}
	return (*Element)(node)
}

// CreateTextNode creates a text node owned by this document.
func (d *Document) CreateTextNode(data string) *Node {
	node := newNode(TextNode, "#text", d)
	node.textData = &data
	return node
}

// CreateComment creates a comment node owned by this document.
func (d *Document) CreateComment(data string) *Node {
	node := newNode(CommentNode, "#comment", d)
	node.textData = &data
	return node
}

// GetElementById returns the first element in tree order with the given id.
func (d *Document) GetElementById(id string) *Element {
	if id == "" {
		return nil
	}
	var found *Element
	d.AsNode().walk(func(n *Node) bool {
		if n.nodeType == ElementNode && (*Element)(n).Id() == id {
			found = (*Element)(n)
			return false
		}
		return true
	})
	return found
}

// QuerySelector returns the first element matching the selector.
func (d *Document) QuerySelector(selector string) *Element {
	found := querySelectorAll(d.AsNode(), selector, true)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// QuerySelectorAll returns every element matching the selector.
func (d *Document) QuerySelectorAll(selector string) []*Element {
	return querySelectorAll(d.AsNode(), selector, false)
}

// AddEventListener registers a listener on the document.
func (d *Document) AddEventListener(eventType string, callback EventListener, capture bool) func() {
	return d.AsNode().AddEventListener(eventType, callback, capture)
}

// ActiveElement returns the focused element, or nil. The caller holds
// the document lock.
func (d *Document) ActiveElement() *Element {
	active := d.documentData.activeElement
	if active != nil && !active.IsConnected() {
		d.documentData.activeElement = nil
		return nil
	}
	return active
}

// Viewport returns the viewport rectangle (origin 0,0). The caller holds
// the document lock.
func (d *Document) Viewport() DOMRect {
	return NewDOMRect(0, 0, d.documentData.viewportWidth, d.documentData.viewportHeight)
}

// SetViewport resizes the viewport. The caller holds the document lock.
// It does not fire resize; hosts dispatch that themselves once layout has
// settled.
func (d *Document) SetViewport(width, height float64) {
	d.documentData.viewportWidth = width
	d.documentData.viewportHeight = height
}

// CSSVariable returns a custom property visible at the document root:
// inline style on the root element first, then :root rules from <style>.
func (d *Document) CSSVariable(name string) string {
	if root := d.DocumentElement(); root != nil {
		if v := root.Style().GetPropertyValue(name); v != "" {
			return v
		}
	}
	return d.documentData.rootVars[name]
}

// SetCSSVariable declares a :root custom property.
func (d *Document) SetCSSVariable(name, value string) {
	d.documentData.rootVars[name] = value
}

// ComputedCSSVariable resolves a custom property for el, walking up the
// inline styles of its ancestors before falling back to the document root.
func ComputedCSSVariable(el *Element, name string) string {
	for cur := el; cur != nil; cur = cur.ParentElement() {
		if v := cur.Style().GetPropertyValue(name); v != "" {
			return v
		}
	}
	if el != nil && el.ownerDoc != nil {
		return el.ownerDoc.CSSVariable(name)
	}
	return ""
}

// ParseHTML parses an HTML string and returns a Document.
func ParseHTML(htmlContent string) (*Document, error) {
	return ParseHTMLReader(strings.NewReader(htmlContent))
}

// ParseHTMLReader parses HTML from r.
func ParseHTMLReader(r io.Reader) (*Document, error) {
	netDoc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	doc := NewDocument()
	convertHTMLTree(netDoc, doc.AsNode(), doc)
	return doc, nil
}

// convertHTMLTree converts an html.Node tree to our DOM tree.
func convertHTMLTree(src *html.Node, parent *Node, doc *Document) {
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		var node *Node

		switch c.Type {
		case html.TextNode:
			node = doc.CreateTextNode(c.Data)

		case html.ElementNode:
			el := doc.CreateElement(c.Data)
			for _, attr := range c.Attr {
				el.setAttributeValue(attr.Key, attr.Val)
			}
			if c.Data == "style" && c.FirstChild != nil {
				collectRootVariables(c.FirstChild.Data, doc.documentData.rootVars)
			}
			node = el.AsNode()

		case html.CommentNode:
			node = doc.CreateComment(c.Data)

		case html.DocumentNode:
			convertHTMLTree(c, parent, doc)
			continue

		default:
			continue
		}

		parent.insertBeforeInternal(node, nil)
		if c.Type == html.ElementNode {
			convertHTMLTree(c, node, doc)
		}
	}
}

// collectRootVariables pulls custom property declarations out of :root
// rule blocks in a stylesheet.
func collectRootVariables(css string, vars map[string]string) {
	for {
		idx := strings.Index(css, ":root")
		if idx < 0 {
			return
		}
		css = css[idx+len(":root"):]
		open := strings.IndexByte(css, '{')
		end := strings.IndexByte(css, '}')
		if open < 0 || end < open {
			return
		}
		for _, decl := range strings.Split(css[open+1:end], ";") {
			name, value, ok := strings.Cut(decl, ":")
			name = strings.TrimSpace(name)
			if ok && strings.HasPrefix(name, "--") {
				vars[name] = strings.TrimSpace(value)
			}
		}
		css = css[end+1:]
	}
}
