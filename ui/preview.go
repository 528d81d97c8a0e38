// Package ui shows a document and its overlay layer in a Fyne window and
// feeds pointer and keyboard input back to the overlay managers.
package ui

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/js"
	"github.com/chrisuehlinger/overlaykit/overlay"
	"github.com/chrisuehlinger/overlaykit/render"
)

// pumpInterval is how often a running preview drains script timers.
const pumpInterval = 16 * time.Millisecond

// scrollStep is how far PageUp and PageDown scroll the document.
const scrollStep = 100

var keyNames = map[fyne.KeyName]string{
	fyne.KeyEscape: "Escape",
	fyne.KeyTab:    "Tab",
	fyne.KeyReturn: "Enter",
	fyne.KeyEnter:  "Enter",
	fyne.KeySpace:  " ",
	fyne.KeyUp:     "ArrowUp",
	fyne.KeyDown:   "ArrowDown",
	fyne.KeyLeft:   "ArrowLeft",
	fyne.KeyRight:  "ArrowRight",
	fyne.KeyHome:   "Home",
	fyne.KeyEnd:    "End",
}

// Preview is a window showing one toolkit's document.
type Preview struct {
	window  fyne.Window
	tk      *overlay.Toolkit
	rt      *js.Runtime
	logger  *slog.Logger
	surface *surface
	status  *widget.Label

	unsubscribe func()

	mu      sync.Mutex
	queued  bool
	stop    chan struct{}
	stopped bool
}

// NewPreview creates the preview window. rt may be nil when no script
// drives the page.
func NewPreview(a fyne.App, tk *overlay.Toolkit, rt *js.Runtime, logger *slog.Logger) *Preview {
	if logger == nil {
		logger = slog.Default()
	}
	win := WindowFor(tk.Doc, "overlaykit")
	p := &Preview{
		window: a.NewWindow(win.Title),
		tk:     tk,
		rt:     rt,
		logger: logger,
		status: widget.NewLabel(""),
		stop:   make(chan struct{}),
	}
	p.surface = newSurface(p)

	p.window.SetContent(container.NewBorder(nil, p.status, nil, nil, p.surface))
	p.window.Resize(fyne.NewSize(win.Width, win.Height+statusHeight))
	p.window.SetOnClosed(p.Close)

	// Tab alone reaches the surface through TypedKey.
	p.window.Canvas().AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyne.KeyTab,
		Modifier: fyne.KeyModifierShift,
	}, func(_ fyne.Shortcut) {
		p.pressKey("Tab", true)
	})

	p.unsubscribe = tk.Bus.SubscribeAll(p.onEvent)
	p.refresh()
	return p
}

// Window returns the preview's window.
func (p *Preview) Window() fyne.Window {
	return p.window
}

// Run shows the window, pumps script timers and blocks until the app quits.
func (p *Preview) Run() {
	if p.rt != nil {
		go p.pump()
	}
	p.window.ShowAndRun()
}

// Close stops the timer pump and detaches from the toolkit.
func (p *Preview) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
	p.unsubscribe()
}

func (p *Preview) pump() {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			fyne.Do(func() {
				if p.rt.RunPending() > 0 {
					p.refresh()
				}
			})
		}
	}
}

// onEvent may run on any goroutine: dropdown repositioning and backdrop
// removal happen on timers.
func (p *Preview) onEvent(ev bus.Event) {
	p.logger.Debug("overlay event", "topic", ev.Topic, "source", ev.Source)
	p.scheduleRefresh()
	if ev.Topic == bus.ModalClosed || ev.Topic == bus.BackdropClicked {
		// The backdrop leaves the document once its fade finishes.
		if d := p.tk.Backdrops.Duration(); d > 0 {
			time.AfterFunc(d+pumpInterval, p.scheduleRefresh)
		}
	}
}

func (p *Preview) scheduleRefresh() {
	p.mu.Lock()
	if p.queued || p.stopped {
		p.mu.Unlock()
		return
	}
	p.queued = true
	p.mu.Unlock()

	fyne.Do(func() {
		p.mu.Lock()
		p.queued = false
		p.mu.Unlock()
		p.refresh()
	})
}

// refresh repaints the document and the status line. It must run on the
// Fyne goroutine.
func (p *Preview) refresh() {
	img := render.Paint(p.tk.Doc).ToImage()
	p.surface.setImage(img)
	p.status.SetText(StatusText(p.tk.Snapshot()))
}

func (p *Preview) runScripts() {
	if p.rt != nil {
		p.rt.RunPending()
	}
}

func (p *Preview) click(pos fyne.Position) {
	target := p.tk.Click(float64(pos.X), float64(pos.Y))
	if target != nil {
		p.logger.Debug("preview click", "x", pos.X, "y", pos.Y, "target", target.TagName(), "id", target.Id())
	} else {
		p.logger.Debug("preview click", "x", pos.X, "y", pos.Y)
	}
	p.runScripts()
	p.refresh()
}

func (p *Preview) pressKey(key string, shift bool) {
	p.tk.PressKey(key, shift)
	p.runScripts()
	p.refresh()
}

func (p *Preview) handleKey(ev *fyne.KeyEvent) {
	switch ev.Name {
	case fyne.KeyPageDown:
		p.scroll(0, scrollStep)
		return
	case fyne.KeyPageUp:
		p.scroll(0, -scrollStep)
		return
	}
	if key, ok := keyNames[ev.Name]; ok {
		p.pressKey(key, false)
	}
}

func (p *Preview) scroll(dx, dy float64) {
	p.tk.Scroll(dx, dy)
	p.runScripts()
	p.refresh()
}

// surface displays the painted document and takes input for it.
type surface struct {
	widget.BaseWidget
	preview *Preview
	image   *canvas.Image
}

var (
	_ fyne.Tappable   = (*surface)(nil)
	_ fyne.Focusable  = (*surface)(nil)
	_ fyne.Tabbable   = (*surface)(nil)
	_ fyne.Scrollable = (*surface)(nil)
)

func newSurface(p *Preview) *surface {
	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	img.FillMode = canvas.ImageFillOriginal
	img.ScaleMode = canvas.ImageScalePixels
	s := &surface{preview: p, image: img}
	s.ExtendBaseWidget(s)
	return s
}

func (s *surface) setImage(img *image.RGBA) {
	s.image.Image = img
	s.image.Refresh()
	s.Refresh()
}

func (s *surface) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(s.image)
}

func (s *surface) Tapped(ev *fyne.PointEvent) {
	if c := fyne.CurrentApp().Driver().CanvasForObject(s); c != nil {
		c.Focus(s)
	}
	s.preview.click(ev.Position)
}

func (s *surface) Scrolled(ev *fyne.ScrollEvent) {
	s.preview.scroll(float64(-ev.Scrolled.DX), float64(-ev.Scrolled.DY))
}

func (s *surface) FocusGained()   {}
func (s *surface) FocusLost()     {}
func (s *surface) TypedRune(rune) {}

func (s *surface) TypedKey(ev *fyne.KeyEvent) {
	s.preview.handleKey(ev)
}

// AcceptsTab keeps Tab inside the document instead of moving Fyne focus.
func (s *surface) AcceptsTab() bool { return true }
