package ui

import (
	"fmt"
	"strings"

	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/overlay"
)

// statusHeight is the room left below the document for the status line.
const statusHeight = 40

// Window describes the preview window.
type Window struct {
	Title  string
	Width  float32
	Height float32
}

// WindowFor sizes a window to the document's viewport.
func WindowFor(doc *dom.Document, title string) Window {
	doc.Lock()
	vp := doc.Viewport()
	doc.Unlock()
	return Window{Title: title, Width: float32(vp.Width), Height: float32(vp.Height)}
}

// StatusText summarises a snapshot in one line.
func StatusText(s overlay.Snapshot) string {
	if len(s.Modals) == 0 && len(s.Dropdowns) == 0 && len(s.Portals) == 0 && s.Backdrops == 0 {
		return "no overlays"
	}
	var parts []string
	if n := len(s.Modals); n > 0 {
		top := s.Modals[n-1]
		parts = append(parts, fmt.Sprintf("%s (top %s, z %d)", plural(n, "modal"), top.ID, top.ZIndex))
	}
	for _, d := range s.Dropdowns {
		parts = append(parts, fmt.Sprintf("%s %s %s", d.Type, d.ID, d.Placement))
	}
	parts = append(parts, plural(len(s.Portals), "portal"), plural(s.Backdrops, "backdrop"))
	if s.ScrollLocked {
		parts = append(parts, "scroll locked")
	}
	return strings.Join(parts, " | ")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
