package render

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/portal"
)

// Palette.
var (
	White        = color.RGBA{255, 255, 255, 255}
	PageFill     = color.RGBA{236, 238, 241, 255}
	PageBorder   = color.RGBA{160, 165, 172, 255}
	ModalBorder  = color.RGBA{40, 44, 52, 255}
	PortalBorder = color.RGBA{37, 99, 235, 255}
	FocusOutline = color.RGBA{245, 140, 20, 255}
	LabelColor   = color.RGBA{30, 30, 30, 255}
)

// DisplayCommand is a single painting operation.
type DisplayCommand interface {
	Execute(c *Canvas)
}

// FillCommand fills a rectangle.
type FillCommand struct {
	Rect  dom.DOMRect
	Color color.RGBA
}

func (cmd *FillCommand) Execute(c *Canvas) {
	x, y, w, h := pixels(cmd.Rect)
	c.FillRect(x, y, w, h, cmd.Color)
}

// StrokeCommand outlines a rectangle.
type StrokeCommand struct {
	Rect      dom.DOMRect
	Color     color.RGBA
	Thickness int
}

func (cmd *StrokeCommand) Execute(c *Canvas) {
	x, y, w, h := pixels(cmd.Rect)
	c.StrokeRect(x, y, w, h, cmd.Thickness, cmd.Color)
}

// LabelCommand draws a box label clipped to the box width.
type LabelCommand struct {
	Rect  dom.DOMRect
	Text  string
	Color color.RGBA
}

func (cmd *LabelCommand) Execute(c *Canvas) {
	x, y, w, h := pixels(cmd.Rect)
	if h < glyphHeight+4 {
		return
	}
	c.DrawText(cmd.Text, x+3, y+3, w-6, cmd.Color)
}

func pixels(r dom.DOMRect) (x, y, w, h int) {
	x = int(math.Round(r.X))
	y = int(math.Round(r.Y))
	return x, y, int(math.Round(r.X+r.Width)) - x, int(math.Round(r.Y+r.Height)) - y
}

// BuildDisplayList turns the document's boxes into paint commands, back to
// front. The caller must hold the document lock.
func BuildDisplayList(doc *dom.Document) []DisplayCommand {
	var list []DisplayCommand
	for _, item := range doc.PaintOrder() {
		list = append(list, boxCommands(item)...)
	}
	if active := doc.ActiveElement(); active != nil {
		if r := active.GetBoundingClientRect(); !r.IsEmpty() {
			list = append(list, &StrokeCommand{Rect: r, Color: FocusOutline, Thickness: 2})
		}
	}
	return list
}

func boxCommands(item dom.PaintItem) []DisplayCommand {
	el, r := item.Element, item.Rect
	switch {
	case el.ClassList().Contains(portal.RootClassName):
		return nil
	case el.ClassList().Contains(backdrop.ClassName):
		return []DisplayCommand{&FillCommand{Rect: r, Color: color.RGBA{A: alpha(el)}}}
	case el.GetAttribute("aria-modal") == "true":
		return box(r, White, ModalBorder, 2, label(el))
	case el.Closest("."+portal.ClassName) != nil:
		return box(r, White, PortalBorder, 2, label(el))
	default:
		return box(r, PageFill, PageBorder, 1, label(el))
	}
}

func box(r dom.DOMRect, fill, border color.RGBA, thickness int, text string) []DisplayCommand {
	return []DisplayCommand{
		&FillCommand{Rect: r, Color: fill},
		&StrokeCommand{Rect: r, Color: border, Thickness: thickness},
		&LabelCommand{Rect: r, Text: text, Color: LabelColor},
	}
}

func label(el *dom.Element) string {
	if id := el.Id(); id != "" {
		return "#" + id
	}
	return strings.ToLower(el.TagName())
}

// alpha maps the element's inline opacity onto 0-255, treating a missing
// or malformed value as opaque.
func alpha(el *dom.Element) uint8 {
	opacity := 1.0
	if v := strings.TrimSpace(el.Style().GetPropertyValue("opacity")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opacity = min(max(f, 0), 1)
		}
	}
	return uint8(math.Round(opacity * 255))
}

// Paint renders the document at its viewport size.
func Paint(doc *dom.Document) *Canvas {
	doc.Lock()
	vp := doc.Viewport()
	list := BuildDisplayList(doc)
	doc.Unlock()

	c := NewCanvas(int(vp.Width), int(vp.Height))
	for _, cmd := range list {
		cmd.Execute(c)
	}
	return c
}
