package clickoutside

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/portal"
)

type fixture struct {
	doc     *dom.Document
	bus     *bus.Bus
	portals *portal.Manager
	m       *Manager
	tracked *dom.Element
	outside *dom.Element
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doc := dom.NewHTMLDocument()
	cfg := config.Default()
	b := bus.New(logger)

	tracked := doc.CreateElement("div")
	tracked.SetId("combo")
	tracked.SetRect(100, 100, 200, 40)
	inner := doc.CreateElement("button")
	inner.SetId("combo-button")
	inner.SetRect(110, 105, 50, 30)
	tracked.AppendChild(inner)
	doc.Body().AppendChild(tracked)

	outside := doc.CreateElement("p")
	outside.SetRect(500, 500, 100, 100)
	doc.Body().AppendChild(outside)

	return &fixture{
		doc:     doc,
		bus:     b,
		portals: portal.New(doc, cfg.Portal, b, logger),
		m:       New(doc, cfg.ClickOutside, b, logger),
		tracked: tracked,
		outside: outside,
	}
}

func (f *fixture) click(x, y float64) {
	target := f.doc.ElementFromPoint(x, y)
	target.DispatchEvent(dom.NewMouseEvent("click", x, y))
}

func TestClickInsideAndOutside(t *testing.T) {
	f := newFixture(t)
	var got []Event
	require.True(t, f.m.Register("combo", f.tracked, Options{Callback: func(ev Event) { got = append(got, ev) }}))

	f.click(120, 110)
	assert.Empty(t, got, "click inside must not fire")

	f.click(550, 550)
	require.Len(t, got, 1)
	assert.Equal(t, "combo", got[0].ElementID)
	assert.Equal(t, f.outside, got[0].Target)
	assert.Equal(t, 550.0, got[0].X)
}

func TestClickInsideAssociatedPortal(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { fired++ }})

	p, err := f.portals.Create(portal.Config{ID: "menu", OwnerID: "combo"})
	require.NoError(t, err)
	content := f.doc.CreateElement("ul")
	content.Style().SetCSSText("position: fixed; left: 100px; top: 150px; width: 200px; height: 120px")
	f.doc.Body().AppendChild(content)
	require.NoError(t, f.portals.MoveToPortal("menu", content))

	assert.Equal(t, []*dom.Element{p.Element}, f.m.AssociatedPortals("combo"))

	f.click(150, 200)
	assert.Equal(t, 0, fired, "click in the portal counts as inside")

	require.True(t, f.portals.RestoreFromPortal("menu", content))
	assert.Empty(t, f.m.AssociatedPortals("combo"))
}

func TestExplicitAssociation(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { fired++ }})

	f.m.AssociatePortal("combo", f.outside)
	f.click(550, 550)
	assert.Equal(t, 0, fired)

	f.m.DissociatePortal("combo", f.outside)
	f.click(550, 550)
	assert.Equal(t, 1, fired)
}

func TestIDPatternFallback(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { fired++ }})

	f.outside.SetId("datepicker-combo")
	f.click(550, 550)
	assert.Equal(t, 0, fired, "element named by an id pattern counts as inside")
}

func TestExcludeSelectors(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.outside.ClassList().Add("toolbar")
	f.m.Register("combo", f.tracked, Options{
		ExcludeSelectors: []string{".toolbar"},
		Callback:         func(Event) { fired++ },
	})

	f.click(550, 550)
	assert.Equal(t, 0, fired)
}

func TestIgnoreModalOverlay(t *testing.T) {
	f := newFixture(t)
	f.doc.SetCSSVariable("--overlay-backdrop-duration", "0ms")
	bd := backdrop.New(f.doc, config.Default().Backdrop, f.portals, f.bus, nil)
	_, err := bd.Create("modal-1", backdrop.Config{ZIndex: 1049})
	require.NoError(t, err)

	ignoring, counting := 0, 0
	f.m.Register("combo", f.tracked, Options{IgnoreModalOverlay: true, Callback: func(Event) { ignoring++ }})
	f.m.Register("other", f.outside, Options{Callback: func(Event) { counting++ }})

	f.click(700, 700)
	assert.Equal(t, 0, ignoring)
	assert.Equal(t, 1, counting)
}

func TestNotificationsDispatched(t *testing.T) {
	f := newFixture(t)
	f.m.Register("combo", f.tracked, Options{})

	docEvents, elEvents, busEvents := 0, 0, 0
	f.doc.AddEventListener(EventType, func(ev *dom.Event) {
		if ev.Target == f.doc.AsNode() {
			docEvents++
		}
	}, false)
	f.tracked.AddEventListener(EventType, func(*dom.Event) { elEvents++ }, false)
	f.bus.Subscribe(bus.ClickedOutside, func(ev bus.Event) {
		assert.Equal(t, "combo", ev.Source)
		busEvents++
	})

	f.click(550, 550)
	assert.Equal(t, 1, docEvents)
	assert.Equal(t, 1, elEvents)
	assert.Equal(t, 1, busEvents)
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { fired++ }})

	assert.True(t, f.m.Unregister("combo"))
	assert.False(t, f.m.Unregister("combo"))
	f.click(550, 550)
	assert.Equal(t, 0, fired)
	assert.False(t, f.m.Register("", f.tracked, Options{}))
	assert.False(t, f.m.Register("x", nil, Options{}))
}

func TestDetachedElementIsDropped(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { fired++ }})

	f.tracked.Remove()
	f.click(550, 550)

	assert.Equal(t, 0, fired)
	assert.False(t, f.m.IsRegistered("combo"))
}

func TestCircuitBreaker(t *testing.T) {
	f := newFixture(t)
	f.m.Register("combo", f.tracked, Options{Callback: func(Event) { panic("broken handler") }})
	healthy := 0
	f.m.Register("other", f.doc.Body(), Options{ExcludeSelectors: []string{"p"}, Callback: func(Event) { healthy++ }})

	for i := 0; i < 10; i++ {
		f.click(550, 550)
	}
	require.False(t, f.m.Disabled(), "ceiling is not exceeded at 10 errors")
	assert.Equal(t, 10, f.m.ErrorCount())

	f.click(550, 550)
	assert.True(t, f.m.Disabled())
	assert.Equal(t, 0, f.doc.AsNode().ListenerCount("click"))
	assert.False(t, f.m.Register("late", f.tracked, Options{}))

	f.click(550, 550)
	assert.Equal(t, 11, f.m.ErrorCount())
	assert.Equal(t, 0, healthy)
}

func TestInvalidExcludeSelectorCountsAsError(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.m.Register("combo", f.tracked, Options{ExcludeSelectors: []string{"[broken"}, Callback: func(Event) { fired++ }})

	f.click(550, 550)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, f.m.ErrorCount())
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	f.m.Register("combo", f.tracked, Options{})
	f.m.Destroy()
	assert.True(t, f.m.Disabled())
	assert.Equal(t, 0, f.m.Count())
	assert.Equal(t, 0, f.doc.AsNode().ListenerCount("click"))
}
