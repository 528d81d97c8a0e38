package dom

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ElementGeometry holds the border box an external layout pass computed
// for an element, in viewport coordinates.
type ElementGeometry struct {
	X, Y, Width, Height float64
}

// SetGeometry records layout geometry for the element.
func (e *Element) SetGeometry(g *ElementGeometry) {
	e.elementData.geometry = g
}

// SetRect is shorthand for SetGeometry with a rectangle.
func (e *Element) SetRect(x, y, width, height float64) {
	e.elementData.geometry = &ElementGeometry{X: x, Y: y, Width: width, Height: height}
}

// GetBoundingClientRect returns the element's border box in viewport
// coordinates. Elements positioned with position:fixed or absolute and px
// offsets in their inline style are resolved from that style, so content
// an overlay manager has placed reports where it was put; everything else
// uses layout geometry. Hidden elements report an empty rectangle.
func (e *Element) GetBoundingClientRect() DOMRect {
	if e.isHidden() {
		return DOMRect{}
	}
	if r, ok := e.styledRect(); ok {
		return r
	}
	if g := e.elementData.geometry; g != nil {
		return NewDOMRect(g.X, g.Y, g.Width, g.Height)
	}
	return DOMRect{}
}

// styledRect resolves an out-of-flow box from its inline offsets.
func (e *Element) styledRect() (DOMRect, bool) {
	style := e.Style()
	position := style.GetPropertyValue("position")
	if position != "fixed" && position != "absolute" {
		return DOMRect{}, false
	}
	left, hasLeft := style.PixelValue("left")
	top, hasTop := style.PixelValue("top")
	if !hasLeft || !hasTop {
		return DOMRect{}, false
	}

	if position == "absolute" {
		if cb := e.containingBlock(); cb != nil {
			r := cb.GetBoundingClientRect()
			left += r.X
			top += r.Y
		}
	}

	var natural ElementGeometry
	if g := e.elementData.geometry; g != nil {
		natural = *g
	}
	width, ok := style.PixelValue("width")
	if !ok {
		width = natural.Width
	}
	height, ok := style.PixelValue("height")
	if !ok {
		height = natural.Height
		if maxHeight, hasMax := style.PixelValue("max-height"); hasMax && (height == 0 || height > maxHeight) {
			height = maxHeight
		}
	}
	return NewDOMRect(left, top, width, height), true
}

// containingBlock returns the nearest positioned ancestor.
func (e *Element) containingBlock() *Element {
	for anc := e.ParentElement(); anc != nil; anc = anc.ParentElement() {
		switch anc.Style().GetPropertyValue("position") {
		case "relative", "absolute", "fixed", "sticky":
			return anc
		}
	}
	return nil
}

func (e *Element) isHidden() bool {
	for cur := e; cur != nil; cur = cur.ParentElement() {
		if cur.Style().GetPropertyValue("display") == "none" || cur.HasAttribute("hidden") {
			return true
		}
	}
	return false
}

// inFixedSubtree reports whether the element or an ancestor is fixed,
// which keeps it still while the document scrolls.
func (e *Element) inFixedSubtree() bool {
	for cur := e; cur != nil; cur = cur.ParentElement() {
		if cur.Style().GetPropertyValue("position") == "fixed" {
			return true
		}
	}
	return false
}

// pointerEvents resolves the inherited pointer-events value.
func (e *Element) pointerEvents() string {
	for cur := e; cur != nil; cur = cur.ParentElement() {
		if v := cur.Style().GetPropertyValue("pointer-events"); v != "" {
			return v
		}
	}
	return "auto"
}

// stackLevel returns the z-index of the nearest ancestor-or-self that sets one.
func (e *Element) stackLevel() int {
	for cur := e; cur != nil; cur = cur.ParentElement() {
		if v := cur.Style().GetPropertyValue("z-index"); v != "" && v != "auto" {
			if z, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return z
			}
		}
	}
	return 0
}

// ScrollPosition returns the document's scroll offsets.
func (d *Document) ScrollPosition() (x, y float64) {
	return d.documentData.scrollX, d.documentData.scrollY
}

// ScrollBy scrolls the document: every in-flow element's layout geometry
// moves by (-dx, -dy). A scroll event is dispatched on the document
// afterwards. The caller must not hold the document lock.
func (d *Document) ScrollBy(dx, dy float64) {
	d.Lock()
	d.documentData.scrollX += dx
	d.documentData.scrollY += dy
	d.AsNode().walk(func(n *Node) bool {
		if n.nodeType != ElementNode {
			return true
		}
		el := (*Element)(n)
		if el.Style().GetPropertyValue("position") == "fixed" {
			return false
		}
		if g := el.elementData.geometry; g != nil {
			g.X -= dx
			g.Y -= dy
		}
		return true
	})
	d.Unlock()
	d.DispatchEvent(d.AsNode(), NewEvent("scroll"))
}

// ElementFromPoint returns the topmost hit-testable element at (x, y):
// highest stacking level first, later in tree order on ties. Elements with
// pointer-events:none are transparent to hits. When nothing is hit the body
// (or root element) is returned.
func (d *Document) ElementFromPoint(x, y float64) *Element {
	d.Lock()
	defer d.Unlock()

	var best *Element
	bestLevel := 0
	d.AsNode().walk(func(n *Node) bool {
		if n.nodeType != ElementNode {
			return true
		}
		el := (*Element)(n)
		if el.isHidden() {
			return false
		}
		if el.pointerEvents() == "none" {
			return true
		}
		r := el.GetBoundingClientRect()
		if r.IsEmpty() || !r.ContainsPoint(x, y) {
			return true
		}
		level := el.stackLevel()
		if best == nil || level >= bestLevel {
			best, bestLevel = el, level
		}
		return true
	})
	if best != nil {
		return best
	}
	if body := d.Body(); body != nil {
		return body
	}
	return d.DocumentElement()
}

// PaintItem is one box in paint order.
type PaintItem struct {
	Element *Element
	Rect    DOMRect
	Level   int
}

// PaintOrder returns every visible element with a non-empty box, lowest
// stacking level first and tree order on ties, so the last item is what
// ElementFromPoint would report where boxes overlap (pointer-events
// aside). The caller must hold the document lock.
func (d *Document) PaintOrder() []PaintItem {
	var items []PaintItem
	d.AsNode().walk(func(n *Node) bool {
		if n.nodeType != ElementNode {
			return true
		}
		el := (*Element)(n)
		if el.isHidden() {
			return false
		}
		if r := el.GetBoundingClientRect(); !r.IsEmpty() {
			items = append(items, PaintItem{Element: el, Rect: r, Level: el.stackLevel()})
		}
		return true
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].Level < items[j].Level })
	return items
}

// ParseCSSDuration parses a CSS <time> value ("200ms", "0.2s").
func ParseCSSDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	unit := time.Second
	switch {
	case strings.HasSuffix(value, "ms"):
		value = strings.TrimSuffix(value, "ms")
		unit = time.Millisecond
	case strings.HasSuffix(value, "s"):
		value = strings.TrimSuffix(value, "s")
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(unit)), true
}
