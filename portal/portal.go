// Package portal manages the top-level layer floating content is moved
// into so that ancestor clipping and stacking contexts cannot constrain it.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
)

// Classes carried by portal elements and by the root holding them.
const (
	ClassName     = "overlay-portal"
	RootClassName = "overlay-portal-root"
)

var (
	// ErrDuplicateID is returned when a portal id is already in use.
	ErrDuplicateID = errors.New("portal id already exists")
	// ErrTimeout is returned when a requested portal was not created in time.
	ErrTimeout = errors.New("portal creation timed out")
	// ErrZIndexOverflow is returned when the next z-index does not fit in
	// a CSS integer.
	ErrZIndexOverflow = errors.New("portal z-index overflow")
	// ErrNotFound is returned by operations that need an existing portal.
	ErrNotFound = errors.New("portal not found")
)

// Config describes a portal to create.
type Config struct {
	// ID must be unique among live portals. Empty assigns "portal-N".
	ID string
	// OwnerID names whoever the portal's content belongs to.
	OwnerID    string
	ClassName  string
	Attributes map[string]string
	// ZIndex pins the portal's z-index when positive. Pinned portals keep
	// it across re-leveling; the stack owner moves them with SetZIndex.
	ZIndex int
}

// Portal is a snapshot of a live portal. Level and ZIndex change when
// lower portals are destroyed; use Get for current values.
type Portal struct {
	ID        string
	OwnerID   string
	Element   *dom.Element
	ZIndex    int
	Level     int
	CreatedAt time.Time
}

type entry struct {
	Portal
	pinned bool
}

// origin records where a moved element came from.
type origin struct {
	parent *dom.Node
	next   *dom.Node
}

// Dispatcher runs portal creation work. The default runs it on a new
// goroutine; hosts with a UI thread supply one that posts to it.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

var goDispatcher = DispatcherFunc(func(fn func()) { go fn() })

// Option configures a Manager.
type Option func(*Manager)

// WithDispatcher sets the dispatcher Request uses.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the portal root and every portal in it.
type Manager struct {
	doc        *dom.Document
	cfg        config.Portal
	bus        *bus.Bus
	logger     *slog.Logger
	dispatcher Dispatcher
	now        func() time.Time

	mu           sync.Mutex
	root         *dom.Element
	removeResize func()
	portals map[string]*entry
	order   []*entry // by level
	seq     int
	moved   map[*dom.Element]origin
}

// New creates a manager for doc. The portal root is created lazily.
func New(doc *dom.Document, cfg config.Portal, b *bus.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = bus.New(logger)
	}
	m := &Manager{
		doc:        doc,
		cfg:        cfg,
		bus:        b,
		logger:     logger,
		dispatcher: goDispatcher,
		now:        time.Now,
		portals:    make(map[string]*entry),
		moved:      make(map[*dom.Element]origin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the portal root, creating it if needed.
func (m *Manager) Root() *dom.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Lock()
	defer m.doc.Unlock()
	return m.ensureRootLocked()
}

// ensureRootLocked requires m.mu and the document lock.
func (m *Manager) ensureRootLocked() *dom.Element {
	if m.root != nil && m.root.IsConnected() {
		return m.root
	}
	if existing := m.doc.GetElementById(m.cfg.RootID); existing != nil {
		m.root = existing
		return existing
	}
	root := m.doc.CreateElement("div")
	root.SetId(m.cfg.RootID)
	_ = root.ClassList().Add(RootClassName)
	root.Style().SetCSSText("position: fixed; left: 0px; top: 0px; pointer-events: none")
	sizeRoot(root, m.doc.Viewport())
	if m.removeResize == nil {
		m.removeResize = m.doc.AddEventListener("resize", m.onResize, false)
	}
	parent := m.doc.Body()
	if parent == nil {
		parent = m.doc.DocumentElement()
	}
	if parent == nil {
		parent = m.doc.CreateElement("html")
		m.doc.AsNode().AppendChild(parent.AsNode())
	}
	parent.AppendChild(root)
	m.root = root
	return root
}

// sizeRoot makes root cover the viewport.
func sizeRoot(root *dom.Element, vp dom.DOMRect) {
	root.Style().SetProperty("width", dom.FormatPixels(vp.Width))
	root.Style().SetProperty("height", dom.FormatPixels(vp.Height))
}

func (m *Manager) onResize(*dom.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		return
	}
	m.doc.Lock()
	sizeRoot(m.root, m.doc.Viewport())
	m.doc.Unlock()
}

// Create adds a portal at the top of the stack.
func (m *Manager) Create(cfg Config) (Portal, error) {
	m.mu.Lock()
	p, err := m.createLocked(cfg)
	m.mu.Unlock()
	if err != nil {
		return Portal{}, err
	}
	m.logger.Debug("portal created", "id", p.ID, "level", p.Level, "z_index", p.ZIndex)
	m.bus.Publish(bus.Event{Topic: bus.PortalCreated, Source: p.ID, Owner: p.OwnerID, Element: p.Element})
	return p, nil
}

func (m *Manager) createLocked(cfg Config) (Portal, error) {
	id := cfg.ID
	if id == "" {
		for {
			m.seq++
			id = "portal-" + strconv.Itoa(m.seq)
			if _, taken := m.portals[id]; !taken {
				break
			}
		}
	}
	if _, exists := m.portals[id]; exists {
		return Portal{}, fmt.Errorf("create %q: %w", id, ErrDuplicateID)
	}

	z := m.cfg.BaseZIndex
	switch {
	case cfg.ZIndex > 0:
		z = cfg.ZIndex
	case len(m.order) > 0:
		top := 0
		for _, e := range m.order {
			top = max(top, e.ZIndex)
		}
		if top > math.MaxInt32-m.cfg.Increment {
			return Portal{}, fmt.Errorf("create %q: %w", id, ErrZIndexOverflow)
		}
		z = top + m.cfg.Increment
	}

	m.doc.Lock()
	defer m.doc.Unlock()
	root := m.ensureRootLocked()

	el := m.doc.CreateElement("div")
	el.SetId(id)
	_ = el.ClassList().Add(ClassName)
	if cfg.ClassName != "" {
		_ = el.ClassList().Add(strings.Fields(cfg.ClassName)...)
	}
	for k, v := range cfg.Attributes {
		el.SetAttribute(k, v)
	}
	level := len(m.order)
	el.SetAttribute("data-portal-id", id)
	if cfg.OwnerID != "" {
		el.SetAttribute("data-portal-owner", cfg.OwnerID)
	}
	el.Style().SetProperty("position", "absolute")
	el.Style().SetProperty("pointer-events", "auto")
	setLevel(el, level, z)
	root.AppendChild(el)

	e := &entry{Portal: Portal{
		ID:        id,
		OwnerID:   cfg.OwnerID,
		Element:   el,
		ZIndex:    z,
		Level:     level,
		CreatedAt: m.now(),
	}, pinned: cfg.ZIndex > 0}
	m.portals[id] = e
	m.order = append(m.order, e)
	return e.Portal, nil
}

func setLevel(el *dom.Element, level, z int) {
	el.SetAttribute("data-portal-level", strconv.Itoa(level))
	el.Style().SetProperty("z-index", strconv.Itoa(z))
}

// Request creates a portal through the dispatcher and waits for it. Without
// a deadline on ctx the configured timeout applies. A creation that
// finishes after the caller gave up is destroyed again.
func (m *Manager) Request(ctx context.Context, cfg Config) (Portal, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout.Std())
		defer cancel()
	}
	m.bus.Publish(bus.Event{Topic: bus.PortalCreateRequested, Source: cfg.ID, Owner: cfg.OwnerID})

	req := &pendingRequest{done: make(chan struct{})}
	m.dispatcher.Dispatch(func() {
		p, err := m.Create(cfg)
		if !req.finish(p, err) && err == nil {
			m.logger.Warn("destroying portal created after its request timed out", "id", p.ID)
			m.Destroy(p.ID)
		}
	})

	select {
	case <-req.done:
		return req.portal, req.err
	case <-ctx.Done():
		if req.abandon() {
			return req.portal, req.err
		}
		return Portal{}, fmt.Errorf("request %q: %w (%v)", cfg.ID, ErrTimeout, context.Cause(ctx))
	}
}

type pendingRequest struct {
	mu        sync.Mutex
	done      chan struct{}
	finished  bool
	abandoned bool
	portal    Portal
	err       error
}

// finish stores the result and reports whether anyone is still waiting.
func (r *pendingRequest) finish(p Portal, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	r.finished = true
	r.portal, r.err = p, err
	close(r.done)
	return true
}

// abandon marks the request as given up. It reports true if the result
// arrived first after all.
func (r *pendingRequest) abandon() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return true
	}
	r.abandoned = true
	return false
}

// Destroy removes a portal and re-levels the ones above it. Unknown ids are
// tolerated: Destroy logs and returns false.
func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	e, ok := m.portals[id]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("portal not found", "id", id)
		return false
	}
	m.bus.Publish(bus.Event{Topic: bus.PortalDestroyRequested, Source: id, Owner: e.OwnerID, Element: e.Element})

	m.mu.Lock()
	if cur, ok := m.portals[id]; !ok || cur != e {
		m.mu.Unlock()
		m.logger.Debug("portal already destroyed", "id", id)
		return false
	}
	m.doc.Lock()
	m.removeLocked(e)
	m.relevelLocked()
	m.doc.Unlock()
	m.mu.Unlock()

	m.logger.Debug("portal destroyed", "id", id)
	m.bus.Publish(bus.Event{Topic: bus.PortalDestroyed, Source: id, Owner: e.OwnerID, Element: e.Element})
	return true
}

// removeLocked requires m.mu and the document lock.
func (m *Manager) removeLocked(e *entry) {
	delete(m.portals, e.ID)
	for i, o := range m.order {
		if o == e {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for el := range m.moved {
		if e.Element.Contains(el) {
			delete(m.moved, el)
		}
	}
	e.Element.Remove()
}

// relevelLocked renumbers the remaining portals densely from zero. An
// unpinned portal above a pinned one stays above it.
func (m *Manager) relevelLocked() {
	prev := 0
	for i, e := range m.order {
		z := m.cfg.BaseZIndex + i*m.cfg.Increment
		switch {
		case e.pinned:
			z = e.ZIndex
		case i > 0 && z <= prev:
			z = prev + m.cfg.Increment
		}
		prev = z
		if e.Level == i && e.ZIndex == z {
			continue
		}
		e.Level, e.ZIndex = i, z
		setLevel(e.Element, i, z)
	}
}

// SetZIndex pins portal id at z. It returns false for unknown ids.
func (m *Manager) SetZIndex(id string, z int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.portals[id]
	if !ok {
		return false
	}
	e.pinned = true
	e.ZIndex = z
	m.doc.Lock()
	setLevel(e.Element, e.Level, z)
	m.doc.Unlock()
	return true
}

// DestroyAll removes every portal and the root.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	removed := make([]*entry, len(m.order))
	copy(removed, m.order)
	m.doc.Lock()
	for _, e := range removed {
		m.removeLocked(e)
	}
	if m.root != nil {
		m.root.Remove()
		m.root = nil
	}
	m.doc.Unlock()
	remove := m.removeResize
	m.removeResize = nil
	m.mu.Unlock()
	if remove != nil {
		remove()
	}

	for _, e := range removed {
		m.bus.Publish(bus.Event{Topic: bus.PortalDestroyed, Source: e.ID, Owner: e.OwnerID, Element: e.Element})
	}
}

// MoveToPortal relocates el into portal id, remembering its original
// parent and next sibling.
func (m *Manager) MoveToPortal(id string, el *dom.Element) error {
	if el == nil {
		return fmt.Errorf("move into %q: nil element", id)
	}
	m.mu.Lock()
	e, ok := m.portals[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("move into %q: %w", id, ErrNotFound)
	}
	m.doc.Lock()
	if _, already := m.moved[el]; !already && el.AsNode().ParentNode() != nil {
		node := el.AsNode()
		m.moved[el] = origin{parent: node.ParentNode(), next: node.NextSibling()}
	}
	e.Element.AppendChild(el)
	m.doc.Unlock()
	m.mu.Unlock()

	m.bus.Publish(bus.Event{Topic: bus.PortalMoved, Source: id, Owner: e.OwnerID, Element: e.Element, Detail: el})
	return nil
}

// RestoreFromPortal puts el back where MoveToPortal found it and destroys
// the portal. It returns false when el was not moved into portal id.
func (m *Manager) RestoreFromPortal(id string, el *dom.Element) bool {
	m.mu.Lock()
	e, ok := m.portals[id]
	o, moved := m.moved[el]
	if !ok || !moved || !e.Element.Contains(el) {
		m.mu.Unlock()
		m.logger.Debug("nothing to restore", "id", id)
		return false
	}
	m.doc.Lock()
	delete(m.moved, el)
	next := o.next
	if next != nil && next.ParentNode() != o.parent {
		next = nil
	}
	if _, err := o.parent.InsertBeforeWithError(el.AsNode(), next); err != nil {
		m.logger.Warn("restore failed, element detached", "id", id, "error", err)
		el.Remove()
	}
	m.doc.Unlock()
	m.mu.Unlock()

	m.bus.Publish(bus.Event{Topic: bus.PortalRestored, Source: id, Owner: e.OwnerID, Element: e.Element, Detail: el})
	m.Destroy(id)
	return true
}

// IsPortalActive reports whether portal id exists.
func (m *Manager) IsPortalActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.portals[id]
	return ok
}

// Get returns the current state of portal id.
func (m *Manager) Get(id string) (Portal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.portals[id]
	if !ok {
		return Portal{}, false
	}
	return e.Portal, true
}

// Portals returns every live portal ordered by level.
func (m *Manager) Portals() []Portal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Portal, len(m.order))
	for i, e := range m.order {
		out[i] = e.Portal
	}
	return out
}

// Topmost returns the portal with the highest level.
func (m *Manager) Topmost() (Portal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return Portal{}, false
	}
	return m.order[len(m.order)-1].Portal, true
}

// Count returns the number of live portals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
