// Package dropdown orchestrates floating panels anchored to a trigger:
// conflict resolution between component types, placement, the portal
// handshake, repositioning on scroll and resize, and outside-click
// dismissal. Closing reverses every step and keeps going when one fails.
package dropdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/clickoutside"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/placement"
	"github.com/chrisuehlinger/overlaykit/portal"
)

var (
	// ErrOperationPending rejects opening a component that is already
	// opening, open or closing.
	ErrOperationPending     = errors.New("operation already pending")
	ErrMissingComponentType = errors.New("component type is required")
	ErrMissingComponentID   = errors.New("component id is required")
	ErrMissingElement       = errors.New("component element is required")
	ErrMissingTrigger       = errors.New("trigger element not found")
	ErrMissingContent       = errors.New("content element not found")
	// ErrTriggerCollapsed is returned when the trigger has no width to
	// position against.
	ErrTriggerCollapsed = errors.New("trigger has no width")
)

// Auto lets the engine pick the placement with the most room.
const Auto = "auto"

// Class names and attributes set on open content.
const (
	OpenClassName   = "overlay-dropdown-open"
	PortalClassName = "overlay-dropdown-portal"
)

// positionProperties are the inline styles an open dropdown owns.
var positionProperties = []string{"position", "left", "top", "width", "max-height"}

// State is a component's lifecycle state.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

// Dimensions sizes the floating content. Zero Width or Height measures
// the content instead.
type Dimensions struct {
	Width     float64
	Height    float64
	MinWidth  float64
	MinHeight float64
	MaxHeight float64
	// MatchTriggerWidth makes the content as wide as the trigger.
	MatchTriggerWidth bool
}

// Config describes one component's dropdown.
type Config struct {
	// Element is the component root; the trigger and content are looked up
	// inside it and clicks within it never count as outside clicks.
	Element *dom.Element
	// TriggerSelector finds the trigger; empty uses Element itself.
	TriggerSelector string
	ContentSelector string
	ComponentType   string
	ComponentID     string
	Dimensions      Dimensions
	// Position is a placement name ("bottom-start") or Auto.
	Position  string
	Offset    float64
	Flip      bool
	Constrain bool

	ExcludeSelectors    []string
	AutoCloseOnScroll   bool
	CloseOnClickOutside bool
	CloseOnEscape       bool
	// ModalContext is the id of the modal the component lives in, if any.
	ModalContext string

	OnOpen       func(Instance)
	OnClose      func(componentID string)
	OnReposition func(placement.Result)
}

// Instance is a snapshot of an open component.
type Instance struct {
	ComponentID   string
	ComponentType string
	Element       *dom.Element
	Trigger       *dom.Element
	Content       *dom.Element
	PortalID      string
	ModalContext  string
	State         State
	Result        placement.Result
}

type instance struct {
	Instance
	cfg       Config
	size      placement.Size
	portalEl  *dom.Element
	moved     bool
	tracker   *stabilityTracker
	debounce  *debouncer
	listeners []func()
}

// Manager tracks every open dropdown.
type Manager struct {
	doc     *dom.Document
	cfg     config.Dropdown
	engine  *placement.Engine
	portals *portal.Manager
	clicks  *clickoutside.Manager
	bus     *bus.Bus
	logger  *slog.Logger

	mu            sync.Mutex
	instances     map[string]*instance
	order         []string // open order, oldest first
	removeKeydown func()
	unsubscribe   func()
}

// New creates a manager and installs its Escape listener on doc.
func New(doc *dom.Document, cfg config.Dropdown, engine *placement.Engine, portals *portal.Manager, clicks *clickoutside.Manager, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = bus.New(logger)
	}
	m := &Manager{
		doc:       doc,
		cfg:       cfg,
		engine:    engine,
		portals:   portals,
		clicks:    clicks,
		bus:       b,
		logger:    logger,
		instances: make(map[string]*instance),
	}
	// Capture phase, so an open dropdown consumes Escape before a modal
	// underneath sees it.
	m.removeKeydown = doc.AddEventListener("keydown", m.handleKeydown, true)
	m.unsubscribe = b.Subscribe(bus.ModalOpened, m.onModalOpened)
	return m
}

// onModalOpened closes every open component outside the new modal, since
// their portals may sit at or above the modal's z-index.
func (m *Manager) onModalOpened(ev bus.Event) {
	m.mu.Lock()
	var ids []string
	for _, id := range m.order {
		if inst := m.instances[id]; inst.State == Open && inst.ModalContext != ev.Source {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.closeLogged(id, "covered by modal")
	}
}

// DefaultConfig returns a config with automatic placement, flipping,
// constraining and every dismissal path enabled.
func (m *Manager) DefaultConfig() Config {
	m.doc.Lock()
	viewport := m.doc.Viewport()
	m.doc.Unlock()
	return Config{
		Position:            Auto,
		Offset:              m.engine.Options(placement.BottomStart, viewport).Offset,
		Flip:                true,
		Constrain:           true,
		AutoCloseOnScroll:   true,
		CloseOnClickOutside: true,
		CloseOnEscape:       true,
	}
}

func validate(cfg Config) error {
	switch {
	case cfg.ComponentType == "":
		return ErrMissingComponentType
	case cfg.ComponentID == "":
		return ErrMissingComponentID
	case cfg.Element == nil:
		return fmt.Errorf("%s %q: %w", cfg.ComponentType, cfg.ComponentID, ErrMissingElement)
	}
	if cfg.Position != "" && cfg.Position != Auto {
		if _, err := placement.ParsePlacement(cfg.Position); err != nil {
			return fmt.Errorf("%s %q: %w", cfg.ComponentType, cfg.ComponentID, err)
		}
	}
	return nil
}

// PositionDropdown opens the component described by cfg. It closes
// conflicting components first and waits for the portal; a portal that
// does not arrive before ctx's deadline (or the configured timeout) fails
// the open with portal.ErrTimeout.
func (m *Manager) PositionDropdown(ctx context.Context, cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	id := cfg.ComponentID

	m.mu.Lock()
	if inst, ok := m.instances[id]; ok {
		state := inst.State
		m.mu.Unlock()
		return fmt.Errorf("open %q (%s): %w", id, state, ErrOperationPending)
	}
	inst := &instance{
		Instance: Instance{
			ComponentID:   id,
			ComponentType: cfg.ComponentType,
			Element:       cfg.Element,
			PortalID:      cfg.ComponentType + "-" + id,
			ModalContext:  cfg.ModalContext,
			State:         Opening,
		},
		cfg:     cfg,
		tracker: newStabilityTracker(m.cfg.TriggerMinWidth, m.cfg.TriggerJitter),
	}
	m.instances[id] = inst
	m.mu.Unlock()

	if err := m.open(ctx, inst); err != nil {
		if errs := m.cleanup(inst); len(errs) > 0 {
			m.logger.Warn("dropdown rollback incomplete", "id", id, "error", errors.Join(errs...))
		}
		m.mu.Lock()
		delete(m.instances, id)
		inst.State = Closed
		m.mu.Unlock()
		return fmt.Errorf("open %q: %w", id, err)
	}
	return nil
}

func (m *Manager) open(ctx context.Context, inst *instance) error {
	cfg := inst.cfg
	id := cfg.ComponentID

	m.doc.Lock()
	trigger := cfg.Element
	if cfg.TriggerSelector != "" {
		trigger = cfg.Element.QuerySelector(cfg.TriggerSelector)
	}
	var content *dom.Element
	if cfg.ContentSelector != "" {
		content = cfg.Element.QuerySelector(cfg.ContentSelector)
	}
	m.doc.Unlock()
	if trigger == nil {
		return fmt.Errorf("%q: %w", cfg.TriggerSelector, ErrMissingTrigger)
	}
	if content == nil {
		return fmt.Errorf("%q: %w", cfg.ContentSelector, ErrMissingContent)
	}
	m.mu.Lock()
	inst.Trigger, inst.Content = trigger, content
	m.mu.Unlock()

	m.bus.Publish(bus.Event{Topic: bus.DropdownOpening, Source: id, Owner: cfg.ModalContext, Element: cfg.Element})

	if err := m.CloseConflictingComponents(ctx, cfg.ComponentType, id); err != nil {
		m.logger.Warn("closing conflicting dropdowns", "id", id, "error", err)
	}

	m.doc.Lock()
	triggerRect := trigger.GetBoundingClientRect()
	natural := content.GetBoundingClientRect()
	viewport := m.doc.Viewport()
	m.doc.Unlock()
	if triggerRect.Width <= 0 {
		return ErrTriggerCollapsed
	}

	size := contentSize(cfg.Dimensions, triggerRect, natural)
	m.mu.Lock()
	inst.size = size
	inst.tracker.observe(triggerRect)
	m.mu.Unlock()
	res := m.compute(cfg, triggerRect, size, viewport)

	owner := cfg.ModalContext
	if owner == "" {
		owner = id
	}
	p, err := m.portals.Request(ctx, portal.Config{
		ID:        inst.PortalID,
		OwnerID:   owner,
		ClassName: PortalClassName,
		Attributes: map[string]string{
			"data-component-type": cfg.ComponentType,
			"data-component-id":   id,
		},
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	inst.portalEl = p.Element
	m.mu.Unlock()

	if err := m.portals.MoveToPortal(p.ID, content); err != nil {
		return err
	}
	m.mu.Lock()
	inst.moved = true
	m.doc.Lock()
	applyStylesLocked(inst, res)
	m.doc.Unlock()
	m.mu.Unlock()

	if m.clicks != nil {
		m.clicks.AssociatePortal(id, p.Element)
		if cfg.CloseOnClickOutside {
			m.clicks.Register(id, cfg.Element, clickoutside.Options{
				ExcludeSelectors: cfg.ExcludeSelectors,
				Callback:         func(clickoutside.Event) { m.closeLogged(id, "click outside") },
			})
		}
	}

	d := newDebouncer(m.cfg.RepositionDebounce.Std(), func() {
		if err := m.Reposition(id); err != nil {
			m.logger.Warn("dropdown reposition failed", "id", id, "error", err)
		}
	})
	onLayout := func(*dom.Event) { d.trigger() }
	listeners := []func(){
		m.doc.AddEventListener("scroll", onLayout, true),
		m.doc.AddEventListener("resize", onLayout, false),
	}

	m.mu.Lock()
	inst.debounce = d
	inst.listeners = listeners
	inst.Result = res
	inst.State = Open
	m.order = append(m.order, id)
	snap := inst.Instance
	m.mu.Unlock()

	if cfg.OnOpen != nil {
		if err := m.safely("open hook", func() { cfg.OnOpen(snap) }); err != nil {
			m.logger.Warn("dropdown open hook failed", "id", id, "error", err)
		}
	}
	m.logger.Debug("dropdown opened", "id", id, "type", cfg.ComponentType, "placement", res.Placement, "x", res.X, "y", res.Y)
	m.bus.Publish(bus.Event{Topic: bus.DropdownOpened, Source: id, Owner: cfg.ModalContext, Element: content, Detail: res})
	return nil
}

func contentSize(d Dimensions, trigger, natural dom.DOMRect) placement.Size {
	w, h := d.Width, d.Height
	if w <= 0 {
		w = natural.Width
	}
	if h <= 0 {
		h = natural.Height
	}
	if d.MatchTriggerWidth {
		w = trigger.Width
	}
	if d.MinWidth > 0 {
		w = max(w, d.MinWidth)
	}
	if d.MaxHeight > 0 {
		h = min(h, d.MaxHeight)
	}
	return placement.Size{Width: w, Height: h}
}

// compute places the content. Position was validated on open.
func (m *Manager) compute(cfg Config, trigger dom.DOMRect, size placement.Size, viewport dom.DOMRect) placement.Result {
	var p placement.Placement
	if cfg.Position == "" || cfg.Position == Auto {
		p = m.engine.DetectOptimal(trigger, size, viewport, nil, cfg.Dimensions.MinHeight)
	} else {
		p, _ = placement.ParsePlacement(cfg.Position)
	}
	opts := m.engine.Options(p, viewport)
	opts.Offset = cfg.Offset
	opts.Flip = cfg.Flip
	opts.Constrain = cfg.Constrain
	opts.MinHeight = cfg.Dimensions.MinHeight
	if cfg.Dimensions.MinWidth > 0 {
		opts.MinWidth = cfg.Dimensions.MinWidth
	}
	return m.engine.Calculate(trigger, size, opts)
}

// applyStylesLocked requires m.mu and the document lock.
func applyStylesLocked(inst *instance, res placement.Result) {
	s := inst.Content.Style()
	s.SetProperty("position", "fixed")
	s.SetProperty("left", dom.FormatPixels(res.X))
	s.SetProperty("top", dom.FormatPixels(res.Y))
	s.SetProperty("width", dom.FormatPixels(res.Width))
	s.SetProperty("max-height", dom.FormatPixels(res.Height))
	inst.Content.SetAttribute("data-placement", res.Placement.String())
	_ = inst.Content.ClassList().Add(OpenClassName)
	inst.Trigger.SetAttribute("aria-expanded", "true")
}

// Reposition re-measures the trigger and moves the content. A trigger
// that has collapsed to zero width, left the document, or (with
// AutoCloseOnScroll) scrolled fully out of the viewport closes the
// dropdown instead.
func (m *Manager) Reposition(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok || inst.State != Open {
		m.mu.Unlock()
		return nil
	}
	cfg, trigger, size := inst.cfg, inst.Trigger, inst.size
	m.mu.Unlock()

	m.doc.Lock()
	connected := trigger.IsConnected()
	raw := trigger.GetBoundingClientRect()
	viewport := m.doc.Viewport()
	m.doc.Unlock()

	if !connected {
		return m.closeFor(id, "trigger detached")
	}
	m.mu.Lock()
	rect, v := inst.tracker.observe(raw)
	m.mu.Unlock()
	if v == collapsed {
		return m.closeFor(id, "trigger collapsed")
	}
	if cfg.AutoCloseOnScroll && !raw.Intersects(viewport) {
		return m.closeFor(id, "trigger offscreen")
	}

	res := m.compute(cfg, rect, size, viewport)
	m.mu.Lock()
	if inst.State != Open {
		m.mu.Unlock()
		return nil
	}
	inst.Result = res
	m.doc.Lock()
	applyStylesLocked(inst, res)
	m.doc.Unlock()
	m.mu.Unlock()

	if v == hold {
		m.logger.Debug("unstable trigger rect, kept last good", "id", id, "measured", raw, "kept", rect)
	}
	if cfg.OnReposition != nil {
		if err := m.safely("reposition hook", func() { cfg.OnReposition(res) }); err != nil {
			m.logger.Warn("dropdown reposition hook failed", "id", id, "error", err)
		}
	}
	m.bus.Publish(bus.Event{Topic: bus.DropdownRepositioned, Source: id, Owner: cfg.ModalContext, Element: inst.Content, Detail: res})
	return nil
}

func (m *Manager) closeFor(id, reason string) error {
	m.logger.Debug("closing dropdown", "id", id, "reason", reason)
	_, err := m.CloseDropdown(id)
	return err
}

func (m *Manager) closeLogged(id, reason string) {
	if err := m.closeFor(id, reason); err != nil {
		m.logger.Warn("dropdown close failed", "id", id, "reason", reason, "error", err)
	}
}

// CloseDropdown closes an open component. It returns false when id is not
// open. Every cleanup step runs; their errors are joined.
func (m *Manager) CloseDropdown(id string) (bool, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok || inst.State != Open {
		m.mu.Unlock()
		m.logger.Debug("dropdown not open", "id", id)
		return false, nil
	}
	inst.State = Closing
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	cfg, content := inst.cfg, inst.Content
	m.mu.Unlock()

	m.bus.Publish(bus.Event{Topic: bus.DropdownBeforeClose, Source: id, Owner: cfg.ModalContext, Element: content})

	var errs []error
	if cfg.OnClose != nil {
		if err := m.safely("close hook", func() { cfg.OnClose(id) }); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, m.cleanup(inst)...)

	m.mu.Lock()
	delete(m.instances, id)
	inst.State = Closed
	m.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn("dropdown closed with errors", "id", id, "error", err)
	} else {
		m.logger.Debug("dropdown closed", "id", id)
	}
	m.bus.Publish(bus.Event{Topic: bus.DropdownClosed, Source: id, Owner: cfg.ModalContext, Element: content})
	return true, err
}

// cleanup undoes whatever open managed to do. Steps tolerate work that
// never happened.
func (m *Manager) cleanup(inst *instance) []error {
	m.mu.Lock()
	id := inst.ComponentID
	trigger, content, portalEl := inst.Trigger, inst.Content, inst.portalEl
	moved := inst.moved
	d, listeners := inst.debounce, inst.listeners
	inst.listeners = nil
	m.mu.Unlock()

	var errs []error
	step := func(name string, fn func() error) {
		if err := m.safelyErr(name, fn); err != nil {
			errs = append(errs, err)
		}
	}

	step("reset styles", func() error {
		m.doc.Lock()
		defer m.doc.Unlock()
		if content != nil {
			for _, prop := range positionProperties {
				content.Style().RemoveProperty(prop)
			}
			content.RemoveAttribute("data-placement")
			_ = content.ClassList().Remove(OpenClassName)
		}
		if trigger != nil && trigger.HasAttribute("aria-expanded") {
			trigger.SetAttribute("aria-expanded", "false")
		}
		return nil
	})
	step("restore content", func() error {
		if moved && m.portals.RestoreFromPortal(inst.PortalID, content) {
			return nil
		}
		if m.portals.IsPortalActive(inst.PortalID) {
			m.portals.Destroy(inst.PortalID)
		}
		if moved {
			return fmt.Errorf("content of %q was no longer in its portal", id)
		}
		return nil
	})
	step("remove listeners", func() error {
		if d != nil {
			d.stop()
		}
		for _, remove := range listeners {
			remove()
		}
		return nil
	})
	step("click outside", func() error {
		if m.clicks == nil {
			return nil
		}
		m.clicks.Unregister(id)
		if portalEl != nil {
			m.clicks.DissociatePortal(id, portalEl)
		}
		return nil
	})
	return errs
}

func (m *Manager) safely(name string, fn func()) error {
	return m.safelyErr(name, func() error {
		fn()
		return nil
	})
}

func (m *Manager) safelyErr(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// CloseAll closes every open component concurrently and waits for all of
// them.
func (m *Manager) CloseAll(ctx context.Context) error {
	return m.closeMany(ctx, m.OpenComponents())
}

// CloseConflictingComponents closes the open components that opening a
// componentType must close, except exceptID, and waits for them.
func (m *Manager) CloseConflictingComponents(ctx context.Context, componentType, exceptID string) error {
	closes := m.cfg.Closes(componentType)
	if len(closes) == 0 {
		return nil
	}
	m.mu.Lock()
	var ids []string
	for _, id := range m.order {
		inst := m.instances[id]
		if id == exceptID {
			continue
		}
		for _, t := range closes {
			if inst.ComponentType == t {
				ids = append(ids, id)
				break
			}
		}
	}
	m.mu.Unlock()
	return m.closeMany(ctx, ids)
}

func (m *Manager) closeMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			_, err := m.CloseDropdown(id)
			if err != nil {
				err = fmt.Errorf("close %q: %w", id, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return err
		})
	}
	if g.Wait() == nil {
		return nil
	}
	return errors.Join(errs...)
}

func (m *Manager) handleKeydown(ev *dom.Event) {
	if ev.Key != "Escape" || ev.DefaultPrevented() {
		return
	}
	m.mu.Lock()
	id := ""
	for i := len(m.order) - 1; i >= 0; i-- {
		if inst := m.instances[m.order[i]]; inst.cfg.CloseOnEscape {
			id = inst.ComponentID
			break
		}
	}
	m.mu.Unlock()
	if id == "" {
		return
	}
	ev.PreventDefault()
	ev.StopPropagation()
	m.closeLogged(id, "escape")
}

// IsOpen reports whether id is open.
func (m *Manager) IsOpen(id string) bool {
	return m.State(id) == Open
}

// State returns id's lifecycle state.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst.State
	}
	return Closed
}

// Get returns a snapshot of component id.
func (m *Manager) Get(id string) (Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return Instance{}, false
	}
	return inst.Instance, true
}

// OpenComponents returns the open component ids, oldest first.
func (m *Manager) OpenComponents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Destroy removes the Escape listener and the modal subscription. Call
// CloseAll first.
func (m *Manager) Destroy() {
	m.mu.Lock()
	remove, unsubscribe := m.removeKeydown, m.unsubscribe
	m.removeKeydown, m.unsubscribe = nil, nil
	m.mu.Unlock()
	if remove != nil {
		remove()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}
