// Package modal stacks modal dialogs. Each modal gets its own portal,
// pinned at the modal's z-index, and a private backdrop one step below
// it. The first modal locks page scrolling and the last one to close
// releases it.
package modal

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/chrisuehlinger/overlaykit/backdrop"
	"github.com/chrisuehlinger/overlaykit/bus"
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/portal"
)

var (
	ErrNilElement    = errors.New("modal element is nil")
	ErrDuplicateID   = errors.New("modal id already open")
	ErrUnknownParent = errors.New("modal parent is not open")
)

// State is a modal's lifecycle state.
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

// Options configures one modal.
type Options struct {
	// ID names the modal; empty assigns "modal-N".
	ID string
	// ParentID nests the modal under another; closing the parent closes it.
	ParentID             string
	CloseOnEscape        bool
	CloseOnBackdropClick bool
	// TrapFocus moves focus into the modal on open, keeps Tab cycling
	// inside it and returns focus on close.
	TrapFocus     bool
	BackdropClass string
	Blur          bool
	// OnClose runs after a normal close. ForceUnlock does not call it.
	OnClose func(id string)
}

// DefaultOptions enables escape, backdrop click and the focus trap.
func DefaultOptions() Options {
	return Options{
		CloseOnEscape:        true,
		CloseOnBackdropClick: true,
		TrapFocus:            true,
	}
}

// StackInfo is a modal's position in the stack.
type StackInfo struct {
	Level          int
	ZIndex         int
	BackdropZIndex int
}

// Modal is a snapshot of a stacked modal.
type Modal struct {
	ID       string
	ParentID string
	Element  *dom.Element
	State    State
	Stack    StackInfo
}

type entry struct {
	Modal
	opts        Options
	returnFocus *dom.Element
	removeClick func()
}

// Manager owns the modal stack.
type Manager struct {
	doc       *dom.Document
	cfg       config.Modal
	portals   *portal.Manager
	backdrops *backdrop.Manager
	bus       *bus.Bus
	logger    *slog.Logger

	mu            sync.Mutex
	stack         []*entry
	byID          map[string]*entry
	seq           int
	scrollLocked  bool
	prevOverflow  string
	removeKeydown func()
}

// New creates a manager and installs its keydown listener on doc.
func New(doc *dom.Document, cfg config.Modal, portals *portal.Manager, backdrops *backdrop.Manager, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = bus.New(logger)
	}
	m := &Manager{
		doc:       doc,
		cfg:       cfg,
		portals:   portals,
		backdrops: backdrops,
		bus:       b,
		logger:    logger,
		byID:      make(map[string]*entry),
	}
	m.removeKeydown = doc.AddEventListener("keydown", m.handleKeydown, false)
	return m
}

func (m *Manager) stackInfo(level int) StackInfo {
	z := m.cfg.BaseZIndex + level*m.cfg.Increment
	return StackInfo{Level: level, ZIndex: z, BackdropZIndex: z - 1}
}

// CreateModal opens el as a modal on top of the stack and returns its id.
func (m *Manager) CreateModal(el *dom.Element, opts Options) (string, error) {
	if el == nil {
		return "", ErrNilElement
	}

	m.mu.Lock()
	id := opts.ID
	if id == "" {
		for {
			m.seq++
			id = "modal-" + strconv.Itoa(m.seq)
			if _, taken := m.byID[id]; !taken {
				break
			}
		}
	}
	if _, exists := m.byID[id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("create %q: %w", id, ErrDuplicateID)
	}
	if opts.ParentID != "" {
		if _, ok := m.byID[opts.ParentID]; !ok {
			m.mu.Unlock()
			return "", fmt.Errorf("create %q under %q: %w", id, opts.ParentID, ErrUnknownParent)
		}
	}
	m.doc.Lock()
	returnFocus := m.doc.ActiveElement()
	m.doc.Unlock()
	e := &entry{
		Modal: Modal{
			ID:       id,
			ParentID: opts.ParentID,
			Element:  el,
			State:    Opening,
			Stack:    m.stackInfo(len(m.stack)),
		},
		opts:        opts,
		returnFocus: returnFocus,
	}
	m.byID[id] = e
	m.stack = append(m.stack, e)
	info := e.Stack
	m.mu.Unlock()

	// The portal comes first so the backdrop is inserted right below it.
	if _, err := m.portals.Create(portal.Config{ID: id, OwnerID: id, ClassName: "overlay-modal-portal", ZIndex: info.ZIndex}); err != nil {
		m.abort(e)
		return "", fmt.Errorf("create %q: %w", id, err)
	}
	_, err := m.backdrops.Create(id, backdrop.Config{
		Level:     info.Level,
		ClassName: opts.BackdropClass,
		Blur:      opts.Blur,
		ZIndex:    info.BackdropZIndex,
	})
	if err != nil {
		m.portals.Destroy(id)
		m.abort(e)
		return "", fmt.Errorf("create %q: %w", id, err)
	}
	if err := m.portals.MoveToPortal(id, el); err != nil {
		_ = m.backdrops.DestroyNow(id)
		m.portals.Destroy(id)
		m.abort(e)
		return "", fmt.Errorf("create %q: %w", id, err)
	}
	removeClick := m.backdrops.OnClick(id, func() { m.handleBackdropClick(id) })

	m.mu.Lock()
	e.removeClick = removeClick
	e.State = Open
	m.doc.Lock()
	el.SetAttribute("role", "dialog")
	el.SetAttribute("aria-modal", "true")
	el.SetAttribute("data-modal-level", strconv.Itoa(e.Stack.Level))
	el.Style().SetProperty("z-index", strconv.Itoa(e.Stack.ZIndex))
	if !m.scrollLocked {
		m.lockScrollLocked()
	}
	m.doc.Unlock()
	info = e.Stack
	m.mu.Unlock()

	if opts.TrapFocus {
		if first := m.focusables(el); len(first) > 0 {
			first[0].Focus()
		}
	}

	m.logger.Debug("modal opened", "id", id, "level", info.Level, "z_index", info.ZIndex)
	m.bus.Publish(bus.Event{Topic: bus.ModalOpened, Source: id, Owner: opts.ParentID, Element: el, Detail: info})
	return id, nil
}

// abort drops a modal whose creation failed.
func (m *Manager) abort(e *entry) {
	m.mu.Lock()
	m.removeLocked(e)
	m.mu.Unlock()
}

// lockScrollLocked requires m.mu and the document lock.
func (m *Manager) lockScrollLocked() {
	body := m.doc.Body()
	if body == nil {
		return
	}
	m.prevOverflow = body.Style().GetPropertyValue("overflow")
	_ = body.ClassList().Add(m.cfg.ScrollLockClass)
	body.Style().SetProperty("overflow", "hidden")
	m.scrollLocked = true
}

// unlockScrollLocked requires m.mu and the document lock.
func (m *Manager) unlockScrollLocked() {
	m.scrollLocked = false
	body := m.doc.Body()
	if body == nil {
		return
	}
	_ = body.ClassList().Remove(m.cfg.ScrollLockClass)
	body.Style().SetProperty("overflow", m.prevOverflow)
	m.prevOverflow = ""
}

// DestroyModal closes a modal and every modal nested under it, children
// first. It returns false if id is not open.
func (m *Manager) DestroyModal(id string) bool {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok || e.State != Open {
		m.mu.Unlock()
		m.logger.Debug("modal not open", "id", id)
		return false
	}
	e.State = Closing
	var children []string
	for _, c := range m.stack {
		if c.ParentID == id {
			children = append(children, c.ID)
		}
	}
	m.mu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		m.DestroyModal(children[i])
	}
	m.teardown(e, false)
	return true
}

func (m *Manager) teardown(e *entry, force bool) {
	if e.removeClick != nil {
		e.removeClick()
	}
	if !m.portals.RestoreFromPortal(e.ID, e.Element) {
		m.portals.Destroy(e.ID)
	}
	m.doc.Lock()
	e.Element.Style().RemoveProperty("z-index")
	e.Element.RemoveAttribute("aria-modal")
	e.Element.RemoveAttribute("data-modal-level")
	m.doc.Unlock()

	var err error
	if force {
		err = m.backdrops.DestroyNow(e.ID)
	} else {
		err = m.backdrops.Destroy(e.ID)
	}
	if err != nil {
		m.logger.Warn("modal backdrop release failed", "id", e.ID, "error", err)
	}

	m.mu.Lock()
	m.removeLocked(e)
	moved := m.restackLocked()
	if len(m.stack) == 0 && m.scrollLocked {
		m.doc.Lock()
		m.unlockScrollLocked()
		m.doc.Unlock()
	}
	m.mu.Unlock()

	for _, r := range moved {
		m.portals.SetZIndex(r.ID, r.Stack.ZIndex)
		m.backdrops.SetZIndex(r.ID, r.Stack.BackdropZIndex)
	}

	if !force {
		if e.opts.TrapFocus && e.returnFocus != nil {
			e.returnFocus.Focus()
		}
		if e.opts.OnClose != nil {
			m.callOnClose(e)
		}
	}
	m.logger.Debug("modal closed", "id", e.ID, "forced", force)
	m.bus.Publish(bus.Event{Topic: bus.ModalClosed, Source: e.ID, Owner: e.ParentID, Element: e.Element})
}

func (m *Manager) callOnClose(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("modal close hook panicked", "id", e.ID, "panic", r)
		}
	}()
	e.opts.OnClose(e.ID)
}

// removeLocked requires m.mu.
func (m *Manager) removeLocked(e *entry) {
	if m.byID[e.ID] == e {
		delete(m.byID, e.ID)
	}
	for i, s := range m.stack {
		if s == e {
			m.stack = append(m.stack[:i], m.stack[i+1:]...)
			break
		}
	}
	e.State = Closed
}

// restackLocked renumbers the stack densely and returns the modals whose
// z-index changed. It requires m.mu.
func (m *Manager) restackLocked() []Modal {
	var moved []Modal
	m.doc.Lock()
	defer m.doc.Unlock()
	for i, e := range m.stack {
		info := m.stackInfo(i)
		if e.Stack == info {
			continue
		}
		e.Stack = info
		e.Element.Style().SetProperty("z-index", strconv.Itoa(info.ZIndex))
		e.Element.SetAttribute("data-modal-level", strconv.Itoa(info.Level))
		moved = append(moved, e.Modal)
	}
	return moved
}

// ForceUnlock drops every modal at once without animations or close
// hooks, and releases the scroll lock.
func (m *Manager) ForceUnlock() {
	m.mu.Lock()
	entries := make([]*entry, len(m.stack))
	copy(entries, m.stack)
	for _, e := range entries {
		e.State = Closing
	}
	m.mu.Unlock()

	if len(entries) > 0 {
		m.logger.Warn("force unlocking modals", "count", len(entries))
	}
	for i := len(entries) - 1; i >= 0; i-- {
		m.teardown(entries[i], true)
	}

	m.mu.Lock()
	if m.scrollLocked {
		m.doc.Lock()
		m.unlockScrollLocked()
		m.doc.Unlock()
	}
	m.mu.Unlock()
}

// Destroy force-unlocks every modal and removes the keydown listener.
func (m *Manager) Destroy() {
	m.ForceUnlock()
	m.mu.Lock()
	remove := m.removeKeydown
	m.removeKeydown = nil
	m.mu.Unlock()
	if remove != nil {
		remove()
	}
}

// IsTopModal reports whether id is the topmost open modal.
func (m *Manager) IsTopModal(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	top := m.topLocked()
	return top != nil && top.ID == id
}

func (m *Manager) topLocked() *entry {
	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i].State == Open {
			return m.stack[i]
		}
	}
	return nil
}

// Stack returns the modals bottom to top.
func (m *Manager) Stack() []Modal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Modal, len(m.stack))
	for i, e := range m.stack {
		out[i] = e.Modal
	}
	return out
}

// Get returns modal id.
func (m *Manager) Get(id string) (Modal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return Modal{}, false
	}
	return e.Modal, true
}

// Count returns the number of stacked modals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

func (m *Manager) handleBackdropClick(id string) {
	m.mu.Lock()
	top := m.topLocked()
	closeIt := top != nil && top.ID == id && top.opts.CloseOnBackdropClick
	m.mu.Unlock()
	if closeIt {
		m.DestroyModal(id)
	}
}

func (m *Manager) handleKeydown(ev *dom.Event) {
	if ev.DefaultPrevented() {
		return
	}
	m.mu.Lock()
	top := m.topLocked()
	var opts Options
	var el *dom.Element
	var id string
	if top != nil {
		opts, el, id = top.opts, top.Element, top.ID
	}
	m.mu.Unlock()
	if top == nil {
		return
	}

	switch ev.Key {
	case "Escape":
		if opts.CloseOnEscape {
			ev.PreventDefault()
			m.DestroyModal(id)
		}
	case "Tab":
		if opts.TrapFocus {
			ev.PreventDefault()
			m.cycleFocus(el, ev.ShiftKey)
		}
	}
}

// cycleFocus moves focus to the next (or previous) focusable element in
// el, wrapping at either end.
func (m *Manager) cycleFocus(el *dom.Element, backward bool) {
	items := m.focusables(el)
	if len(items) == 0 {
		return
	}
	current := -1
	m.doc.Lock()
	active := m.doc.ActiveElement()
	m.doc.Unlock()
	for i, it := range items {
		if it == active {
			current = i
			break
		}
	}

	var next int
	switch {
	case current < 0 && backward:
		next = len(items) - 1
	case current < 0:
		next = 0
	case backward:
		next = (current - 1 + len(items)) % len(items)
	default:
		next = (current + 1) % len(items)
	}
	items[next].Focus()
}

func (m *Manager) focusables(el *dom.Element) []*dom.Element {
	m.doc.Lock()
	defer m.doc.Unlock()
	var out []*dom.Element
	for _, c := range el.QuerySelectorAll("*") {
		if c.IsFocusable() {
			out = append(out, c)
		}
	}
	return out
}
