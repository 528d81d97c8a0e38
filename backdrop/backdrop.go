// Package backdrop manages the dimming layers drawn behind modals and
// stacked panels.
package backdrop

import (
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
	"github.com/chrisuehlinger/overlaykit/portal"
)

var (
	// ErrUnknownRequester is returned when destroying a backdrop nobody created.
	ErrUnknownRequester = errors.New("unknown backdrop requester")
	// ErrDuplicateRequester is returned when a requester asks for a second backdrop.
	ErrDuplicateRequester = errors.New("backdrop requester already has a backdrop")
)

// Class names set on backdrop elements.
const (
	ClassName        = "overlay-backdrop"
	SharedClassName  = "overlay-backdrop-shared"
	LeavingClassName = "overlay-backdrop-leaving"
)

// Config describes a backdrop request.
type Config struct {
	// Level is the stacking level; it sets the opacity and keys sharing.
	Level int
	// Shared backdrops at the same level are reused and reference counted.
	Shared    bool
	ClassName string
	Blur      bool
	// ZIndex is applied when positive.
	ZIndex int
}

// DefaultConfig returns a shared backdrop at level 0.
func DefaultConfig() Config {
	return Config{Shared: true}
}

type backdrop struct {
	element    *dom.Element
	level      int
	shared     bool
	requesters []string
	removeFn   func()
}

type handlerEntry struct {
	id int
	fn func()
}

// Manager creates and removes backdrops.
type Manager struct {
	doc      *dom.Document
	cfg      config.Backdrop
	portals  *portal.Manager
	bus      *bus.Bus
	logger   *slog.Logger
	duration time.Duration

	mu          sync.Mutex
	byRequester map[string]*backdrop
	shared      map[int]*backdrop
	handlers    map[string][]handlerEntry
	nextHandler int
	pending     map[*dom.Element]*time.Timer
}

// New creates a manager. The removal animation duration is read once here
// from the configured CSS custom property.
func New(doc *dom.Document, cfg config.Backdrop, portals *portal.Manager, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = bus.New(logger)
	}
	m := &Manager{
		doc:         doc,
		cfg:         cfg,
		portals:     portals,
		bus:         b,
		logger:      logger,
		byRequester: make(map[string]*backdrop),
		shared:      make(map[int]*backdrop),
		handlers:    make(map[string][]handlerEntry),
		pending:     make(map[*dom.Element]*time.Timer),
	}
	m.duration = m.readDuration()
	return m
}

func (m *Manager) readDuration() time.Duration {
	raw := m.doc.CSSVariable(m.cfg.DurationVariable)
	if raw == "" {
		return m.cfg.FallbackDuration.Std()
	}
	d, ok := dom.ParseCSSDuration(raw)
	if !ok {
		m.logger.Warn("unreadable backdrop duration, using fallback", "variable", m.cfg.DurationVariable, "value", raw)
		return m.cfg.FallbackDuration.Std()
	}
	return d
}

// Duration returns the removal animation duration.
func (m *Manager) Duration() time.Duration {
	return m.duration
}

// Create returns a backdrop for requesterID. A shared request at a level
// that already has a shared backdrop reuses that element.
func (m *Manager) Create(requesterID string, c Config) (*dom.Element, error) {
	if requesterID == "" {
		return nil, errors.New("backdrop requester id is empty")
	}
	// The portal root is resolved before taking our lock; the portal
	// manager takes the document lock itself.
	var root, before *dom.Element
	if m.portals != nil {
		root = m.portals.Root()
		if p, ok := m.portals.Get(requesterID); ok {
			before = p.Element
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRequester[requesterID]; exists {
		return nil, fmt.Errorf("create %q: %w", requesterID, ErrDuplicateRequester)
	}

	if c.Shared {
		if bd, ok := m.shared[c.Level]; ok {
			bd.requesters = append(bd.requesters, requesterID)
			m.byRequester[requesterID] = bd
			m.logger.Debug("backdrop reused", "requester", requesterID, "level", c.Level, "refs", len(bd.requesters))
			return bd.element, nil
		}
	}

	m.doc.Lock()
	el := m.doc.CreateElement("div")
	_ = el.ClassList().Add(ClassName)
	if c.Shared {
		_ = el.ClassList().Add(SharedClassName)
	}
	if c.ClassName != "" {
		_ = el.ClassList().Add(strings.Fields(c.ClassName)...)
	}
	el.SetAttribute("data-backdrop-level", strconv.Itoa(c.Level))
	vp := m.doc.Viewport()
	style := el.Style()
	style.SetProperty("position", "fixed")
	style.SetProperty("left", "0px")
	style.SetProperty("top", "0px")
	style.SetProperty("width", dom.FormatPixels(vp.Width))
	style.SetProperty("height", dom.FormatPixels(vp.Height))
	style.SetProperty("pointer-events", "auto")
	style.SetProperty("opacity", formatOpacity(m.cfg.Opacity(c.Level)))
	if c.Blur {
		style.SetProperty("backdrop-filter", "blur(4px)")
	}
	if c.ZIndex > 0 {
		style.SetProperty("z-index", strconv.Itoa(c.ZIndex))
	}
	switch {
	case before != nil && before.ParentElement() == root:
		_ = root.InsertBefore(el, before)
	case root != nil:
		root.AppendChild(el)
	default:
		m.doc.Body().AppendChild(el)
	}
	m.doc.Unlock()

	bd := &backdrop{element: el, level: c.Level, shared: c.Shared, requesters: []string{requesterID}}
	bd.removeFn = el.AddEventListener("click", func(ev *dom.Event) {
		if ev.TargetElement() == el {
			m.handleClick(bd)
		}
	}, false)
	m.byRequester[requesterID] = bd
	if c.Shared {
		m.shared[c.Level] = bd
	}
	m.logger.Debug("backdrop created", "requester", requesterID, "level", c.Level, "shared", c.Shared)
	return el, nil
}

func (m *Manager) handleClick(bd *backdrop) {
	m.mu.Lock()
	requesters := append([]string(nil), bd.requesters...)
	var calls []func()
	for _, id := range requesters {
		for _, h := range m.handlers[id] {
			calls = append(calls, h.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range calls {
		m.invoke(fn)
	}
	for _, id := range requesters {
		m.bus.Publish(bus.Event{Topic: bus.BackdropClicked, Source: id, Element: bd.element})
	}
}

func (m *Manager) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("backdrop click handler panicked", "panic", r)
		}
	}()
	fn()
}

// Destroy releases requesterID's reference. The element is removed, with
// the removal animation, once no requester holds it.
func (m *Manager) Destroy(requesterID string) error {
	return m.release(requesterID, true)
}

// DestroyNow is Destroy without the removal animation.
func (m *Manager) DestroyNow(requesterID string) error {
	return m.release(requesterID, false)
}

func (m *Manager) release(requesterID string, animate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bd, ok := m.byRequester[requesterID]
	if !ok {
		return fmt.Errorf("destroy %q: %w", requesterID, ErrUnknownRequester)
	}
	delete(m.byRequester, requesterID)
	delete(m.handlers, requesterID)
	for i, id := range bd.requesters {
		if id == requesterID {
			bd.requesters = append(bd.requesters[:i], bd.requesters[i+1:]...)
			break
		}
	}
	if len(bd.requesters) > 0 {
		m.logger.Debug("backdrop released", "requester", requesterID, "refs", len(bd.requesters))
		return nil
	}
	if bd.shared && m.shared[bd.level] == bd {
		delete(m.shared, bd.level)
	}
	bd.removeFn()

	if !animate || m.duration <= 0 {
		m.doc.Lock()
		bd.element.Remove()
		m.doc.Unlock()
		return nil
	}

	m.doc.Lock()
	bd.element.Style().SetProperty("opacity", "0")
	bd.element.Style().SetProperty("pointer-events", "none")
	_ = bd.element.ClassList().Add(LeavingClassName)
	m.doc.Unlock()

	el := bd.element
	m.pending[el] = time.AfterFunc(m.duration, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, live := m.pending[el]; !live {
			return
		}
		delete(m.pending, el)
		m.doc.Lock()
		el.Remove()
		m.doc.Unlock()
	})
	return nil
}

// DestroyAll removes every backdrop immediately, including ones still
// fading out.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[*backdrop]bool)
	m.doc.Lock()
	for _, bd := range m.byRequester {
		if seen[bd] {
			continue
		}
		seen[bd] = true
		bd.removeFn()
		bd.element.Remove()
	}
	for el, timer := range m.pending {
		timer.Stop()
		el.Remove()
	}
	m.doc.Unlock()
	m.byRequester = make(map[string]*backdrop)
	m.shared = make(map[int]*backdrop)
	m.handlers = make(map[string][]handlerEntry)
	m.pending = make(map[*dom.Element]*time.Timer)
}

// OnClick registers a click handler for requesterID's backdrop and returns
// a function that removes it. Handlers are dropped when the requester
// releases its backdrop.
func (m *Manager) OnClick(requesterID string, handler func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandler++
	id := m.nextHandler
	m.handlers[requesterID] = append(m.handlers[requesterID], handlerEntry{id: id, fn: handler})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.handlers[requesterID]
		for i, h := range list {
			if h.id == id {
				m.handlers[requesterID] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Has reports whether requesterID holds a backdrop.
func (m *Manager) Has(requesterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byRequester[requesterID]
	return ok
}

// RefCount returns how many requesters share requesterID's backdrop, or 0.
func (m *Manager) RefCount(requesterID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	bd, ok := m.byRequester[requesterID]
	if !ok {
		return 0
	}
	return len(bd.requesters)
}

// Element returns requesterID's backdrop element, or nil.
func (m *Manager) Element(requesterID string) *dom.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bd, ok := m.byRequester[requesterID]; ok {
		return bd.element
	}
	return nil
}

// SetZIndex updates the z-index of requesterID's backdrop.
func (m *Manager) SetZIndex(requesterID string, z int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	bd, ok := m.byRequester[requesterID]
	if !ok {
		return false
	}
	m.doc.Lock()
	bd.element.Style().SetProperty("z-index", strconv.Itoa(z))
	m.doc.Unlock()
	return true
}

// Count returns the number of backdrop elements in use.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[*backdrop]bool)
	for _, bd := range m.byRequester {
		seen[bd] = true
	}
	return len(seen)
}

func formatOpacity(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
