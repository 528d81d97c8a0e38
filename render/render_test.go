package render

import (
	"image/color"
	"testing"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/dom"
)

func TestNewCanvas(t *testing.T) {
	canvas := NewCanvas(100, 50)

	if canvas.Width != 100 || canvas.Height != 50 {
		t.Errorf("Size = %dx%d, want 100x50", canvas.Width, canvas.Height)
	}
	if len(canvas.Pixels) != 5000 {
		t.Errorf("Pixels length = %d, want 5000", len(canvas.Pixels))
	}
	for i, px := range canvas.Pixels {
		if px != White {
			t.Errorf("Pixel %d = %v, want white", i, px)
			break
		}
	}

	if c := NewCanvas(-5, 10); len(c.Pixels) != 0 {
		t.Errorf("Negative width should give an empty canvas, got %d pixels", len(c.Pixels))
	}
}

func TestSetPixel(t *testing.T) {
	canvas := NewCanvas(10, 10)
	red := color.RGBA{255, 0, 0, 255}

	canvas.SetPixel(5, 5, red)
	if got := canvas.GetPixel(5, 5); got != red {
		t.Errorf("SetPixel: got %v, want %v", got, red)
	}

	// Out of bounds writes are ignored.
	canvas.SetPixel(-1, 5, red)
	canvas.SetPixel(100, 5, red)
	canvas.SetPixel(5, -1, red)
	canvas.SetPixel(5, 100, red)

	if got := canvas.GetPixel(-1, 0); got != (color.RGBA{}) {
		t.Errorf("GetPixel out of bounds = %v, want transparent", got)
	}
}

func TestSetPixelBlend(t *testing.T) {
	canvas := NewCanvas(2, 1)
	canvas.SetPixelBlend(0, 0, color.RGBA{0, 0, 0, 128})
	if got := canvas.GetPixel(0, 0); got != (color.RGBA{127, 127, 127, 255}) {
		t.Errorf("Half black over white = %v", got)
	}

	canvas.SetPixelBlend(1, 0, color.RGBA{10, 20, 30, 255})
	if got := canvas.GetPixel(1, 0); got != (color.RGBA{10, 20, 30, 255}) {
		t.Errorf("Opaque blend should replace, got %v", got)
	}
}

func TestFillRect(t *testing.T) {
	canvas := NewCanvas(100, 100)
	blue := color.RGBA{0, 0, 255, 255}

	canvas.FillRect(10, 10, 20, 30, blue)

	for y := 10; y < 40; y++ {
		for x := 10; x < 30; x++ {
			if got := canvas.GetPixel(x, y); got != blue {
				t.Fatalf("FillRect pixel at (%d,%d) = %v, want %v", x, y, got, blue)
			}
		}
	}
	if canvas.GetPixel(9, 9) != White || canvas.GetPixel(30, 40) != White {
		t.Error("FillRect painted outside the rectangle")
	}
}

func TestFillRectClipping(t *testing.T) {
	canvas := NewCanvas(10, 10)
	red := color.RGBA{255, 0, 0, 255}

	canvas.FillRect(-5, -5, 20, 20, red)
	for i, px := range canvas.Pixels {
		if px != red {
			t.Fatalf("Pixel %d = %v, want red", i, px)
		}
	}
}

func TestStrokeRect(t *testing.T) {
	canvas := NewCanvas(20, 20)
	black := color.RGBA{0, 0, 0, 255}

	canvas.StrokeRect(2, 2, 10, 8, 2, black)

	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{2, 2, black},
		{3, 3, black},
		{11, 9, black},
		{6, 2, black},
		{2, 6, black},
		{4, 4, White},
		{9, 7, White},
		{12, 5, White},
	}
	for _, tt := range tests {
		if got := canvas.GetPixel(tt.x, tt.y); got != tt.want {
			t.Errorf("Pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestToImage(t *testing.T) {
	canvas := NewCanvas(4, 3)
	green := color.RGBA{0, 200, 0, 255}
	canvas.SetPixel(3, 2, green)

	img := canvas.ToImage()
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Fatalf("Bounds = %v", b)
	}
	if got := img.RGBAAt(3, 2); got != green {
		t.Errorf("RGBAAt(3,2) = %v, want %v", got, green)
	}
}

func TestDrawText(t *testing.T) {
	canvas := NewCanvas(40, 10)
	black := color.RGBA{0, 0, 0, 255}

	if w := canvas.DrawText("Hi", 0, 0, 0, black); w != 2*glyphAdvance {
		t.Errorf("Width = %d, want %d", w, 2*glyphAdvance)
	}
	// 'h' has its stem in the first column.
	if canvas.GetPixel(0, 0) != black {
		t.Error("Upper case should draw as lower case")
	}
	if TextWidth("abc") != 3*glyphAdvance {
		t.Errorf("TextWidth = %d", TextWidth("abc"))
	}

	clipped := NewCanvas(40, 10)
	if w := clipped.DrawText("abcdef", 0, 0, 12, black); w != 2*glyphAdvance {
		t.Errorf("Clipped width = %d, want %d", w, 2*glyphAdvance)
	}

	unknown := NewCanvas(10, 10)
	unknown.DrawText("é", 0, 0, 0, black)
	question := NewCanvas(10, 10)
	question.DrawText("?", 0, 0, 0, black)
	for i := range unknown.Pixels {
		if unknown.Pixels[i] != question.Pixels[i] {
			t.Fatal("Unknown characters should draw as '?'")
		}
	}
}

// newScene builds a 200x100 page with one in-flow box at (10,10,100,50).
func newScene(t *testing.T) (*dom.Document, *dom.Element) {
	t.Helper()
	doc := dom.NewHTMLDocument()
	doc.SetViewport(200, 100)
	page := doc.CreateElement("div")
	page.SetAttribute("id", "page")
	page.SetRect(10, 10, 100, 50)
	doc.Body().AppendChild(page)
	return doc, page
}

func TestPaintPage(t *testing.T) {
	doc, _ := newScene(t)
	canvas := Paint(doc)

	if canvas.Width != 200 || canvas.Height != 100 {
		t.Fatalf("Canvas size = %dx%d, want viewport size", canvas.Width, canvas.Height)
	}
	if got := canvas.GetPixel(50, 50); got != PageFill {
		t.Errorf("Inside box = %v, want page fill", got)
	}
	if got := canvas.GetPixel(10, 30); got != PageBorder {
		t.Errorf("Box edge = %v, want page border", got)
	}
	if got := canvas.GetPixel(150, 80); got != White {
		t.Errorf("Outside box = %v, want white", got)
	}

	// The label "#page" starts 3px in.
	labelled := false
	for x := 13; x < 13+TextWidth("#page"); x++ {
		for y := 13; y < 13+glyphHeight; y++ {
			if canvas.GetPixel(x, y) == LabelColor {
				labelled = true
			}
		}
	}
	if !labelled {
		t.Error("Expected the box label to be drawn")
	}
}

func TestPaintOverlayLayer(t *testing.T) {
	doc, _ := newScene(t)

	scrim := doc.CreateElement("div")
	_ = scrim.ClassList().Add(backdrop.ClassName)
	scrim.Style().SetCSSText("position: fixed; left: 0px; top: 0px; width: 200px; height: 100px; opacity: 0.5; z-index: 10")
	doc.Body().AppendChild(scrim)

	portal := doc.CreateElement("div")
	_ = portal.ClassList().Add("overlay-portal")
	portal.Style().SetCSSText("z-index: 20")
	menu := doc.CreateElement("ul")
	menu.Style().SetCSSText("position: fixed; left: 120px; top: 20px; width: 60px; height: 40px")
	portal.AppendChild(menu)
	doc.Body().AppendChild(portal)

	canvas := Paint(doc)

	if got := canvas.GetPixel(150, 90); got != (color.RGBA{127, 127, 127, 255}) {
		t.Errorf("Backdrop over white = %v", got)
	}
	if got := canvas.GetPixel(50, 50); got == PageFill {
		t.Error("Backdrop should dim the page below it")
	}
	if got := canvas.GetPixel(150, 50); got != White {
		t.Errorf("Portal content = %v, want white above the backdrop", got)
	}
	if got := canvas.GetPixel(120, 30); got != PortalBorder {
		t.Errorf("Portal content edge = %v, want portal border", got)
	}
}

func TestPaintModalAndFocus(t *testing.T) {
	doc, page := newScene(t)
	page.SetAttribute("aria-modal", "true")

	button := doc.CreateElement("button")
	button.SetRect(130, 20, 40, 20)
	doc.Body().AppendChild(button)
	button.Focus()

	canvas := Paint(doc)

	if got := canvas.GetPixel(10, 30); got != ModalBorder {
		t.Errorf("Modal edge = %v, want modal border", got)
	}
	if got := canvas.GetPixel(50, 50); got != White {
		t.Errorf("Modal fill = %v, want white", got)
	}
	if got := canvas.GetPixel(131, 30); got != FocusOutline {
		t.Errorf("Focused edge = %v, want focus outline", got)
	}
}

func TestPaintSkipsHidden(t *testing.T) {
	doc, page := newScene(t)
	page.Style().SetCSSText("display: none")

	canvas := Paint(doc)
	for i, px := range canvas.Pixels {
		if px != White {
			t.Fatalf("Pixel %d = %v, hidden boxes should not paint", i, px)
		}
	}
}

func TestBuildDisplayList(t *testing.T) {
	doc, _ := newScene(t)
	doc.Lock()
	list := BuildDisplayList(doc)
	doc.Unlock()

	if len(list) != 3 {
		t.Fatalf("Expected fill, stroke and label, got %d commands", len(list))
	}
	if _, ok := list[0].(*FillCommand); !ok {
		t.Errorf("First command = %T, want fill", list[0])
	}
	if l, ok := list[2].(*LabelCommand); !ok || l.Text != "#page" {
		t.Errorf("Last command = %#v, want the #page label", list[2])
	}
}
