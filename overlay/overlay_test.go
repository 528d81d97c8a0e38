package overlay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/clickoutside"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/dropdown"
	"github.com/chrisuehlinger/overlaykit/modal"
)

const page = `<!DOCTYPE html>
<html><head><style>:root { --overlay-backdrop-duration: 0ms; }</style></head>
<body>
  <div id="dialog">
    <div id="picker">
      <button class="trigger">Pick</button>
      <ul class="menu"><li>One</li><li>Two</li></ul>
    </div>
    <button id="close">Close</button>
  </div>
</body></html>`

func newDocument(t *testing.T) *dom.Document {
	t.Helper()
	doc, err := dom.ParseHTML(page)
	require.NoError(t, err)
	doc.GetElementById("dialog").SetRect(300, 200, 400, 300)
	doc.GetElementById("picker").QuerySelector(".trigger").SetRect(320, 220, 200, 40)
	doc.GetElementById("picker").QuerySelector(".menu").SetRect(320, 260, 200, 120)
	return doc
}

func newToolkit(t *testing.T, opts ...Option) *Toolkit {
	t.Helper()
	doc := newDocument(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Dropdown.RepositionDebounce = 0
	tk := New(doc, cfg, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(func() { _ = tk.Dispose(context.Background()) })
	return tk
}

func openPicker(t *testing.T, tk *Toolkit, modalContext string) dropdown.Config {
	t.Helper()
	cfg := tk.Dropdowns.DefaultConfig()
	cfg.Element = tk.Doc.GetElementById("picker")
	cfg.TriggerSelector = ".trigger"
	cfg.ContentSelector = ".menu"
	cfg.ComponentType = "choice"
	cfg.ComponentID = "picker"
	cfg.ModalContext = modalContext
	require.NoError(t, tk.Dropdowns.PositionDropdown(context.Background(), cfg))
	return cfg
}

func TestBackdropDurationReadFromStylesheet(t *testing.T) {
	tk := newToolkit(t)
	assert.Zero(t, tk.Backdrops.Duration())
}

func TestDropdownInsideModal(t *testing.T) {
	tk := newToolkit(t)
	dialog := tk.Doc.GetElementById("dialog")
	_, err := tk.Modals.CreateModal(dialog, modal.Options{ID: "dlg", CloseOnEscape: true, CloseOnBackdropClick: true})
	require.NoError(t, err)

	dismissed := 0
	tk.ClickOutside.Register("dlg", dialog, clickoutside.Options{
		IgnoreModalOverlay: true,
		Callback:           func(clickoutside.Event) { dismissed++ },
	})

	openPicker(t, tk, "dlg")
	p, ok := tk.Portals.Get("choice-picker")
	require.True(t, ok)
	m, _ := tk.Portals.Get("dlg")
	assert.Greater(t, p.ZIndex, m.ZIndex, "the dropdown portal stacks above the modal")

	// The menu sits above both the dialog and its backdrop.
	menu := tk.Doc.GetElementById("picker").QuerySelector(".menu")
	assert.Same(t, menu, tk.Click(350, 300))
	assert.True(t, tk.Dropdowns.IsOpen("picker"))
	assert.Zero(t, dismissed, "clicks in the dropdown are inside the modal")

	// Escape closes the dropdown first, then the modal.
	tk.PressKey("Escape", false)
	assert.False(t, tk.Dropdowns.IsOpen("picker"))
	assert.Equal(t, 1, tk.Modals.Count())

	tk.PressKey("Escape", false)
	assert.Zero(t, tk.Modals.Count())
}

func TestBackdropClickClosesModalAndDropdown(t *testing.T) {
	tk := newToolkit(t)
	dialog := tk.Doc.GetElementById("dialog")
	_, err := tk.Modals.CreateModal(dialog, modal.DefaultOptions())
	require.NoError(t, err)
	openPicker(t, tk, "")

	target := tk.Click(50, 50)
	assert.True(t, target.ClassList().Contains("overlay-backdrop"))
	assert.False(t, tk.Dropdowns.IsOpen("picker"))
	assert.Zero(t, tk.Modals.Count())
}

func TestModalOpenedOverDropdownCoversIt(t *testing.T) {
	tk := newToolkit(t)
	_, err := tk.Modals.CreateModal(tk.Doc.GetElementById("dialog"), modal.Options{ID: "m1"})
	require.NoError(t, err)
	openPicker(t, tk, "m1")

	second := tk.Doc.CreateElement("div")
	second.SetId("second")
	second.SetRect(900, 600, 100, 100)
	tk.Doc.Body().AppendChild(second)
	_, err = tk.Modals.CreateModal(second, modal.Options{ID: "m2", CloseOnBackdropClick: true})
	require.NoError(t, err)

	assert.False(t, tk.Dropdowns.IsOpen("picker"))
	assert.False(t, tk.Portals.IsPortalActive("choice-picker"))
	m2, ok := tk.Portals.Get("m2")
	require.True(t, ok)
	for _, p := range tk.Portals.Portals() {
		if p.ID != "m2" {
			assert.Less(t, p.ZIndex, m2.ZIndex, p.ID)
		}
	}

	// Where the menu was, the top modal's backdrop now takes the click.
	hit := tk.Doc.ElementFromPoint(350, 300)
	require.NotNil(t, hit)
	assert.Same(t, tk.Backdrops.Element("m2"), hit)
}

func TestResizeWhileRepositionPending(t *testing.T) {
	doc := newDocument(t)
	cfg := config.Default()
	cfg.Dropdown.RepositionDebounce = config.Duration(time.Millisecond)
	tk := New(doc, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = tk.Dispose(context.Background()) })
	openPicker(t, tk, "")
	button := doc.GetElementById("close")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 200 {
			tk.Resize(1280, float64(600+i))
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			button.Focus()
			tk.PressKey("ArrowDown", false)
			button.Blur()
		}
	}()
	wg.Wait()

	tk.Resize(1280, 300)
	require.Eventually(t, func() bool {
		inst, ok := tk.Dropdowns.Get("picker")
		return ok && inst.Result.Placement.Side.String() == "top"
	}, time.Second, 5*time.Millisecond)
}

func TestAnimatedBackdropRemoval(t *testing.T) {
	doc := newDocument(t)
	doc.DocumentElement().Style().SetProperty("--overlay-backdrop-duration", "20ms")
	tk := New(doc, config.Default(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer tk.Dispose(context.Background())
	require.Equal(t, 20*time.Millisecond, tk.Backdrops.Duration())

	id, err := tk.Modals.CreateModal(doc.GetElementById("dialog"), modal.Options{})
	require.NoError(t, err)
	el := tk.Backdrops.Element(id)
	require.NotNil(t, el)
	require.True(t, tk.Modals.DestroyModal(id))

	doc.Lock()
	assert.True(t, el.ClassList().Contains("overlay-backdrop-leaving"))
	assert.Equal(t, "none", el.Style().GetPropertyValue("pointer-events"))
	doc.Unlock()
	require.Eventually(t, func() bool {
		doc.Lock()
		defer doc.Unlock()
		return !el.IsConnected()
	}, time.Second, 5*time.Millisecond)
}

func TestResizeAndScrollReposition(t *testing.T) {
	tk := newToolkit(t)
	cfg := openPicker(t, tk, "")
	menu := cfg.Element.QuerySelector(".menu")

	tk.Scroll(0, 20)
	assert.Equal(t, "244px", menu.Style().GetPropertyValue("top"))

	tk.Resize(1280, 300)
	inst, ok := tk.Dropdowns.Get("picker")
	require.True(t, ok)
	assert.Equal(t, "top", inst.Result.Placement.Side.String())
}

func TestObserverSeesEveryNotification(t *testing.T) {
	var (
		mu     sync.Mutex
		topics []bus.Topic
	)
	tk := newToolkit(t, WithObserver(func(ev bus.Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	}))

	openPicker(t, tk, "")
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, topics, bus.PortalCreated)
	assert.Contains(t, topics, bus.PortalMoved)
	assert.Contains(t, topics, bus.DropdownOpened)
}

func TestSnapshot(t *testing.T) {
	tk := newToolkit(t)
	_, err := tk.Modals.CreateModal(tk.Doc.GetElementById("dialog"), modal.Options{ID: "dlg"})
	require.NoError(t, err)
	openPicker(t, tk, "dlg")

	s := tk.Snapshot()
	require.Len(t, s.Modals, 1)
	assert.Equal(t, ModalState{ID: "dlg", Level: 0, ZIndex: 1050, Top: true}, s.Modals[0])
	require.Len(t, s.Dropdowns, 1)
	assert.Equal(t, "choice-picker", s.Dropdowns[0].PortalID)
	assert.Len(t, s.Portals, 2)
	assert.Equal(t, 1, s.Backdrops)
	assert.True(t, s.ScrollLocked)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"placement":"bottom-start"`)
}

func TestDispose(t *testing.T) {
	tk := newToolkit(t)
	closed := 0
	_, err := tk.Modals.CreateModal(tk.Doc.GetElementById("dialog"), modal.Options{ID: "dlg", OnClose: func(string) { closed++ }})
	require.NoError(t, err)
	openPicker(t, tk, "dlg")

	require.NoError(t, tk.Dispose(context.Background()))

	assert.Zero(t, closed, "dispose force-unlocks without close hooks")
	assert.Empty(t, tk.Dropdowns.OpenComponents())
	assert.Zero(t, tk.Modals.Count())
	assert.Zero(t, tk.Portals.Count())
	assert.Zero(t, tk.Backdrops.Count())
	assert.True(t, tk.ClickOutside.Disabled())
	assert.Nil(t, tk.Doc.GetElementById("portal-root"))
	assert.Zero(t, tk.Doc.AsNode().ListenerCount("click"))
	assert.Zero(t, tk.Doc.AsNode().ListenerCount("keydown"))
	assert.False(t, tk.Doc.Body().ClassList().Contains("overlay-scroll-locked"))
	assert.True(t, tk.Doc.GetElementById("dialog").IsConnected(), "the dialog is back in the page")

	assert.NoError(t, tk.Dispose(context.Background()))
}
