package portal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *dom.Document, *bus.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doc := dom.NewHTMLDocument()
	b := bus.New(logger)
	return New(doc, config.Default().Portal, b, logger, opts...), doc, b
}

func TestCreateAssignsIncreasingZIndex(t *testing.T) {
	m, doc, _ := newTestManager(t)

	a, err := m.Create(Config{ID: "a"})
	if err != nil {
		t.Fatalf("Create a failed: %v", err)
	}
	b, err := m.Create(Config{ID: "b", ClassName: "menu wide"})
	if err != nil {
		t.Fatalf("Create b failed: %v", err)
	}

	if a.ZIndex != 1000 || b.ZIndex != 1010 {
		t.Errorf("Expected z-indices 1000 and 1010, got %d and %d", a.ZIndex, b.ZIndex)
	}
	if a.Level != 0 || b.Level != 1 {
		t.Errorf("Expected levels 0 and 1, got %d and %d", a.Level, b.Level)
	}
	root := doc.GetElementById("portal-root")
	if root == nil || root.ChildElementCount() != 2 {
		t.Fatalf("Expected portal-root with 2 children, got %v", root)
	}
	if root.Style().GetPropertyValue("pointer-events") != "none" {
		t.Error("Expected root to pass pointer events through")
	}
	if b.Element.Style().GetPropertyValue("z-index") != "1010" {
		t.Errorf("Expected z-index style 1010, got %q", b.Element.Style().GetPropertyValue("z-index"))
	}
	if !b.Element.ClassList().Contains("wide") || !b.Element.ClassList().Contains("overlay-portal") {
		t.Errorf("Expected portal classes, got %q", b.Element.ClassName())
	}
	if top, _ := m.Topmost(); top.ID != "b" {
		t.Errorf("Expected b topmost, got %q", top.ID)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Create(Config{ID: "x"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, err := m.Create(Config{ID: "x"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Expected ErrDuplicateID, got %v", err)
	}
	if !m.Destroy("x") {
		t.Fatal("Expected Destroy to succeed")
	}
	if _, err := m.Create(Config{ID: "x"}); err != nil {
		t.Errorf("Expected Create after destroy to succeed, got %v", err)
	}
}

func TestCreateAutoID(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Create(Config{ID: "portal-1"}); err != nil {
		t.Fatal(err)
	}
	p, err := m.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "portal-2" {
		t.Errorf("Expected auto id to skip taken portal-1, got %q", p.ID)
	}
}

func TestDestroyRelevels(t *testing.T) {
	m, _, _ := newTestManager(t)
	for _, id := range []string{"A", "B", "C"} {
		if _, err := m.Create(Config{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	origC, _ := m.Get("C")

	m.Destroy("B")

	a, _ := m.Get("A")
	c, _ := m.Get("C")
	if a.Level != 0 || a.ZIndex != 1000 {
		t.Errorf("Expected A unchanged at level 0, got level %d z %d", a.Level, a.ZIndex)
	}
	if c.Level != 1 {
		t.Errorf("Expected C re-leveled to 1, got %d", c.Level)
	}
	if c.ZIndex >= origC.ZIndex {
		t.Errorf("Expected C z-index below %d, got %d", origC.ZIndex, c.ZIndex)
	}
	if got := c.Element.GetAttribute("data-portal-level"); got != "1" {
		t.Errorf("Expected data-portal-level 1, got %q", got)
	}
}

func TestDestroyUnknownIsTolerated(t *testing.T) {
	m, _, _ := newTestManager(t)
	if m.Destroy("missing") {
		t.Error("Expected false for unknown id")
	}
	if _, err := m.Create(Config{ID: "p"}); err != nil {
		t.Fatal(err)
	}
	if !m.Destroy("p") || m.Destroy("p") {
		t.Error("Expected exactly one successful destroy")
	}
}

func TestZIndexOverflow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Portal
	cfg.BaseZIndex = math.MaxInt32 - 5
	m := New(dom.NewHTMLDocument(), cfg, nil, logger)

	if _, err := m.Create(Config{ID: "a"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, err := m.Create(Config{ID: "b"}); !errors.Is(err, ErrZIndexOverflow) {
		t.Errorf("Expected ErrZIndexOverflow, got %v", err)
	}
}

func TestMoveAndRestorePreservesSiblingPosition(t *testing.T) {
	m, doc, _ := newTestManager(t)
	list := doc.CreateElement("div")
	first := doc.CreateElement("span")
	middle := doc.CreateElement("ul")
	last := doc.CreateElement("span")
	list.AppendChild(first)
	list.AppendChild(middle)
	list.AppendChild(last)
	doc.Body().AppendChild(list)

	p, err := m.Create(Config{ID: "menu"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MoveToPortal("menu", middle); err != nil {
		t.Fatalf("MoveToPortal failed: %v", err)
	}
	if middle.ParentElement() != p.Element {
		t.Fatal("Expected element inside portal")
	}

	if !m.RestoreFromPortal("menu", middle) {
		t.Fatal("Expected RestoreFromPortal to succeed")
	}
	if middle.ParentElement() != list || middle.PreviousElementSibling() != first || middle.NextElementSibling() != last {
		t.Error("Expected element restored between its original siblings")
	}
	if m.IsPortalActive("menu") {
		t.Error("Expected restore to destroy the portal")
	}
}

func TestRestoreWhenNextSiblingGone(t *testing.T) {
	m, doc, _ := newTestManager(t)
	list := doc.CreateElement("div")
	content := doc.CreateElement("ul")
	after := doc.CreateElement("span")
	list.AppendChild(content)
	list.AppendChild(after)
	doc.Body().AppendChild(list)

	if _, err := m.Create(Config{ID: "menu"}); err != nil {
		t.Fatal(err)
	}
	if err := m.MoveToPortal("menu", content); err != nil {
		t.Fatal(err)
	}
	after.Remove()

	if !m.RestoreFromPortal("menu", content) {
		t.Fatal("Expected restore to succeed")
	}
	if content.ParentElement() != list {
		t.Error("Expected content appended to original parent")
	}
}

func TestMoveToUnknownPortal(t *testing.T) {
	m, doc, _ := newTestManager(t)
	err := m.MoveToPortal("nope", doc.CreateElement("div"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if m.RestoreFromPortal("nope", doc.CreateElement("div")) {
		t.Error("Expected restore of unknown portal to return false")
	}
}

func TestLifecycleNotifications(t *testing.T) {
	m, doc, b := newTestManager(t)
	var topics []bus.Topic
	b.SubscribeAll(func(ev bus.Event) { topics = append(topics, ev.Topic) })

	el := doc.CreateElement("div")
	doc.Body().AppendChild(el)
	if _, err := m.Request(context.Background(), Config{ID: "n", OwnerID: "owner"}); err != nil {
		t.Fatal(err)
	}
	if err := m.MoveToPortal("n", el); err != nil {
		t.Fatal(err)
	}
	m.RestoreFromPortal("n", el)

	want := []bus.Topic{
		bus.PortalCreateRequested,
		bus.PortalCreated,
		bus.PortalMoved,
		bus.PortalRestored,
		bus.PortalDestroyRequested,
		bus.PortalDestroyed,
	}
	if len(topics) != len(want) {
		t.Fatalf("Expected %v, got %v", want, topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("event %d: expected %v, got %v", i, want[i], topics[i])
		}
	}
}

// heldDispatcher queues work until release is called.
type heldDispatcher struct {
	mu      sync.Mutex
	pending []func()
}

func (d *heldDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, fn)
}

func (d *heldDispatcher) release() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func TestRequestTimeout(t *testing.T) {
	d := &heldDispatcher{}
	m, _, _ := newTestManager(t, WithDispatcher(d))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Request(ctx, Config{ID: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	d.release()
	if m.IsPortalActive("slow") {
		t.Error("Expected late portal to be destroyed")
	}
}

func TestRequestUsesConfiguredTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Portal
	cfg.Timeout = config.Duration(15 * time.Millisecond)
	d := &heldDispatcher{}
	m := New(dom.NewHTMLDocument(), cfg, nil, logger, WithDispatcher(d))

	start := time.Now()
	_, err := m.Request(context.Background(), Config{ID: "slow"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected timeout near 15ms, took %v", elapsed)
	}
}

func TestRequestPropagatesCreateError(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Create(Config{ID: "dup"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Request(context.Background(), Config{ID: "dup"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
}

func TestDestroyAll(t *testing.T) {
	m, doc, _ := newTestManager(t)
	for _, id := range []string{"a", "b"} {
		if _, err := m.Create(Config{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	m.DestroyAll()
	if m.Count() != 0 {
		t.Errorf("Expected no portals, got %d", m.Count())
	}
	if doc.GetElementById("portal-root") != nil {
		t.Error("Expected root removed")
	}
	if _, err := m.Create(Config{ID: "a"}); err != nil {
		t.Errorf("Expected create after DestroyAll to work, got %v", err)
	}
}

func TestRootCoversViewport(t *testing.T) {
	m, doc, _ := newTestManager(t)
	doc.SetViewport(640, 480)
	root := m.Root()

	rect := func() dom.DOMRect {
		doc.Lock()
		defer doc.Unlock()
		return root.GetBoundingClientRect()
	}
	if r := rect(); r.X != 0 || r.Y != 0 || r.Width != 640 || r.Height != 480 {
		t.Errorf("Expected root to cover 640x480 viewport, got %+v", r)
	}
	if !root.ClassList().Contains(RootClassName) {
		t.Errorf("Expected root class %q, got %q", RootClassName, root.ClassName())
	}
	if hit := doc.ElementFromPoint(100, 100); hit == root {
		t.Error("Expected the root to let pointer events through")
	}

	doc.Lock()
	doc.SetViewport(800, 600)
	doc.Unlock()
	doc.DispatchEvent(nil, dom.NewEvent("resize"))
	if r := rect(); r.Width != 800 || r.Height != 600 {
		t.Errorf("Expected root to follow the viewport to 800x600, got %+v", r)
	}

	m.DestroyAll()
	if n := doc.AsNode().ListenerCount("resize"); n != 0 {
		t.Errorf("Expected resize listener removed, got %d", n)
	}
}

func TestConcurrentCreateDestroy(t *testing.T) {
	m, _, _ := newTestManager(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.Create(Config{})
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			m.Destroy(p.ID)
		}()
	}
	wg.Wait()
	if m.Count() != 0 {
		t.Errorf("Expected no portals left, got %d", m.Count())
	}
}

func TestPinnedZIndexSurvivesReleveling(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Create(Config{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(Config{ID: "dialog", ZIndex: 1050}); err != nil {
		t.Fatal(err)
	}
	menu, err := m.Create(Config{ID: "menu"})
	if err != nil {
		t.Fatal(err)
	}
	if menu.ZIndex != 1060 {
		t.Errorf("Expected the next portal above the pinned one at 1060, got %d", menu.ZIndex)
	}

	m.Destroy("a")
	d, _ := m.Get("dialog")
	if d.Level != 0 || d.ZIndex != 1050 {
		t.Errorf("Expected pinned portal at level 0 z 1050, got level %d z %d", d.Level, d.ZIndex)
	}
	if got, _ := m.Get("menu"); got.Level != 1 || got.ZIndex != 1060 {
		t.Errorf("Expected menu at level 1 still above the pinned portal, got level %d z %d", got.Level, got.ZIndex)
	}

	if !m.SetZIndex("dialog", 1070) {
		t.Fatal("SetZIndex on a live portal returned false")
	}
	if d.Element.Style().GetPropertyValue("z-index") != "1070" {
		t.Errorf("Expected z-index style 1070, got %q", d.Element.Style().GetPropertyValue("z-index"))
	}
	if m.SetZIndex("missing", 1) {
		t.Error("SetZIndex on an unknown portal returned true")
	}
}
