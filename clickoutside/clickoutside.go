// Package clickoutside dismisses overlays when the user clicks elsewhere.
//
// A single capture-phase click listener on the document serves every
// registration. An element counts as clicked inside when the click target
// is within it, within a portal associated with it, or within an element
// named by one of the configured id patterns.
package clickoutside

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
)

// EventType is the DOM event dispatched on the document and on the tracked
// element when an outside click is detected.
const EventType = "clickoutside"

// Options configures one registration.
type Options struct {
	// ExcludeSelectors name elements whose clicks are never outside clicks.
	ExcludeSelectors []string
	// IgnoreModalOverlay treats clicks on a backdrop as inside clicks.
	IgnoreModalOverlay bool
	Callback           func(Event)
}

// Event describes a detected outside click.
type Event struct {
	ElementID string
	Element   *dom.Element
	Target    *dom.Element
	X, Y      float64
}

type tracked struct {
	id      string
	element *dom.Element
	opts    Options
}

// Manager owns the document click listener.
type Manager struct {
	doc    *dom.Document
	cfg    config.ClickOutside
	bus    *bus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	tracked  map[string]*tracked
	order    []string
	portals  map[string][]*dom.Element
	errCount int
	disabled bool

	removeListener func()
	unsubscribe    []func()
}

// New installs the document listener and starts following portal
// notifications on b.
func New(doc *dom.Document, cfg config.ClickOutside, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = bus.New(logger)
	}
	m := &Manager{
		doc:     doc,
		cfg:     cfg,
		bus:     b,
		logger:  logger,
		tracked: make(map[string]*tracked),
		portals: make(map[string][]*dom.Element),
	}
	m.removeListener = doc.AddEventListener("click", m.handleClick, true)
	m.unsubscribe = []func(){
		b.Subscribe(bus.PortalMoved, m.onPortalMoved),
		b.Subscribe(bus.PortalRestored, m.onPortalReleased),
		b.Subscribe(bus.PortalDestroyed, m.onPortalReleased),
	}
	return m
}

func (m *Manager) onPortalMoved(ev bus.Event) {
	if ev.Owner != "" && ev.Element != nil {
		m.AssociatePortal(ev.Owner, ev.Element)
	}
}

func (m *Manager) onPortalReleased(ev bus.Event) {
	if ev.Element == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.portals {
		m.dissociateLocked(id, ev.Element)
	}
}

// Register starts tracking el under elementID, replacing any earlier
// registration of that id. It returns false when the manager is disabled
// or the arguments are unusable.
func (m *Manager) Register(elementID string, el *dom.Element, opts Options) bool {
	if elementID == "" || el == nil {
		m.logger.Warn("click-outside registration ignored", "id", elementID, "element", el != nil)
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return false
	}
	if _, exists := m.tracked[elementID]; !exists {
		m.order = append(m.order, elementID)
	}
	m.tracked[elementID] = &tracked{id: elementID, element: el, opts: opts}
	return true
}

// Unregister stops tracking elementID. Unknown ids return false.
func (m *Manager) Unregister(elementID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregisterLocked(elementID)
}

func (m *Manager) unregisterLocked(elementID string) bool {
	if _, ok := m.tracked[elementID]; !ok {
		return false
	}
	delete(m.tracked, elementID)
	for i, id := range m.order {
		if id == elementID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// IsRegistered reports whether elementID is tracked.
func (m *Manager) IsRegistered(elementID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[elementID]
	return ok
}

// AssociatePortal makes clicks inside portalEl count as inside elementID.
func (m *Manager) AssociatePortal(elementID string, portalEl *dom.Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, el := range m.portals[elementID] {
		if el == portalEl {
			return
		}
	}
	m.portals[elementID] = append(m.portals[elementID], portalEl)
}

// DissociatePortal removes an association made by AssociatePortal.
func (m *Manager) DissociatePortal(elementID string, portalEl *dom.Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dissociateLocked(elementID, portalEl)
}

func (m *Manager) dissociateLocked(elementID string, portalEl *dom.Element) {
	list := m.portals[elementID]
	for i, el := range list {
		if el == portalEl {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.portals, elementID)
	} else {
		m.portals[elementID] = list
	}
}

// AssociatedPortals returns the portals associated with elementID.
func (m *Manager) AssociatedPortals(elementID string) []*dom.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dom.Element(nil), m.portals[elementID]...)
}

func (m *Manager) handleClick(ev *dom.Event) {
	m.Evaluate(ev.TargetElement(), ev.ClientX, ev.ClientY)
}

// Evaluate runs outside-click detection for a click on target at (x, y).
// It is the body of the document listener; hosts that route clicks
// without DOM dispatch call it directly.
func (m *Manager) Evaluate(target *dom.Element, x, y float64) {
	if target == nil {
		return
	}
	m.mu.Lock()
	if m.disabled {
		m.mu.Unlock()
		return
	}
	var hits []Event
	var callbacks []func(Event)
	m.doc.Lock()
	for _, id := range append([]string(nil), m.order...) {
		t := m.tracked[id]
		if !t.element.IsConnected() {
			m.logger.Debug("tracked element detached, unregistering", "id", id)
			m.unregisterLocked(id)
			delete(m.portals, id)
			continue
		}
		outside, err := m.evaluateOne(t, target)
		if err != nil {
			m.errCount++
			m.logger.Warn("click-outside evaluation failed", "id", id, "error", err, "errors", m.errCount)
			continue
		}
		if outside {
			hits = append(hits, Event{ElementID: id, Element: t.element, Target: target, X: x, Y: y})
			callbacks = append(callbacks, t.opts.Callback)
		}
	}
	m.doc.Unlock()
	m.tripIfNeededLocked()
	m.mu.Unlock()

	for i, hit := range hits {
		if cb := callbacks[i]; cb != nil {
			if err := m.runCallback(cb, hit); err != nil {
				m.recordError(hit.ElementID, err)
			}
		}
		m.notify(hit)
	}
}

// evaluateOne reports whether target is outside t. It requires m.mu and
// the document lock. Panics are turned into errors.
func (m *Manager) evaluateOne(t *tracked, target *dom.Element) (outside bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.element.Contains(target) {
		return false, nil
	}
	for _, p := range m.portals[t.id] {
		if p.Contains(target) {
			return false, nil
		}
	}
	for _, pattern := range m.cfg.IDPatterns {
		if el := m.doc.GetElementById(fmt.Sprintf(pattern, t.id)); el != nil && el.Contains(target) {
			return false, nil
		}
	}
	for _, sel := range t.opts.ExcludeSelectors {
		match, err := target.ClosestWithError(sel)
		if err != nil {
			return false, fmt.Errorf("exclude selector %q: %w", sel, err)
		}
		if match != nil {
			return false, nil
		}
	}
	if t.opts.IgnoreModalOverlay && target.Closest("."+backdrop.ClassName) != nil {
		return false, nil
	}
	return true, nil
}

func (m *Manager) runCallback(cb func(Event), ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	cb(ev)
	return nil
}

func (m *Manager) recordError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCount++
	m.logger.Warn("click-outside callback failed", "id", id, "error", err, "errors", m.errCount)
	m.tripIfNeededLocked()
}

// tripIfNeededLocked disables the manager once the error ceiling is passed.
func (m *Manager) tripIfNeededLocked() {
	if m.disabled || m.errCount <= m.cfg.ErrorCeiling {
		return
	}
	m.logger.Error("click-outside manager disabled after repeated errors", "errors", m.errCount, "ceiling", m.cfg.ErrorCeiling)
	m.shutdownLocked()
}

func (m *Manager) notify(hit Event) {
	docEvent := dom.NewCustomEvent(EventType, hit)
	m.doc.DispatchEvent(nil, docEvent)

	elEvent := dom.NewCustomEvent(EventType, hit)
	elEvent.Bubbles = false
	hit.Element.DispatchEvent(elEvent)

	m.bus.Publish(bus.Event{Topic: bus.ClickedOutside, Source: hit.ElementID, Element: hit.Element, Detail: hit})
}

// Disabled reports whether the circuit breaker has tripped or Destroy ran.
func (m *Manager) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// ErrorCount returns the number of evaluation and callback errors seen.
func (m *Manager) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errCount
}

// Count returns the number of tracked elements.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Destroy removes the document listener and forgets every registration.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *Manager) shutdownLocked() {
	if m.disabled {
		return
	}
	m.disabled = true
	m.removeListener()
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.tracked = make(map[string]*tracked)
	m.order = nil
	m.portals = make(map[string][]*dom.Element)
}
