package dom

import "sync"

// EventPhase represents the phase of event dispatch.
type EventPhase int

const (
	EventPhaseNone      EventPhase = 0
	EventPhaseCapturing EventPhase = 1
	EventPhaseAtTarget  EventPhase = 2
	EventPhaseBubbling  EventPhase = 3
)

// Event is a DOM event. Mouse events carry client coordinates, keyboard
// events a key name, custom events an arbitrary Detail.
type Event struct {
	Type          string
	Target        *Node
	CurrentTarget *Node
	Phase         EventPhase
	Bubbles       bool

	ClientX  float64
	ClientY  float64
	Key      string
	ShiftKey bool
	Detail   any

	defaultPrevented bool
	stopPropagation  bool
	stopImmediate    bool
}

// nonBubbling lists event types that do not bubble by default.
var nonBubbling = map[string]bool{
	"focus":  true,
	"blur":   true,
	"scroll": true,
	"resize": true,
}

// NewEvent creates an event of the given type with default bubbling.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Bubbles: !nonBubbling[eventType]}
}

// NewMouseEvent creates a mouse event at viewport coordinates.
func NewMouseEvent(eventType string, x, y float64) *Event {
	ev := NewEvent(eventType)
	ev.ClientX = x
	ev.ClientY = y
	return ev
}

// NewKeyboardEvent creates a keyboard event for the named key.
func NewKeyboardEvent(eventType, key string, shift bool) *Event {
	ev := NewEvent(eventType)
	ev.Key = key
	ev.ShiftKey = shift
	return ev
}

// NewCustomEvent creates a bubbling event carrying detail.
func NewCustomEvent(eventType string, detail any) *Event {
	ev := NewEvent(eventType)
	ev.Detail = detail
	return ev
}

// TargetElement returns the target as an Element, or nil.
func (ev *Event) TargetElement() *Element {
	if ev.Target == nil {
		return nil
	}
	return ev.Target.AsElement()
}

// PreventDefault marks the event as handled.
func (ev *Event) PreventDefault() {
	ev.defaultPrevented = true
}

// DefaultPrevented reports whether PreventDefault was called.
func (ev *Event) DefaultPrevented() bool {
	return ev.defaultPrevented
}

// StopPropagation stops the event from reaching further nodes.
func (ev *Event) StopPropagation() {
	ev.stopPropagation = true
}

// StopImmediatePropagation also skips the remaining listeners on the
// current node.
func (ev *Event) StopImmediatePropagation() {
	ev.stopPropagation = true
	ev.stopImmediate = true
}

// EventListener handles a dispatched event.
type EventListener func(*Event)

type registeredListener struct {
	id       int
	callback EventListener
	capture  bool
}

// listenerSet holds the listeners registered on one node.
type listenerSet struct {
	byType map[string][]registeredListener
}

// AddEventListener registers a listener and returns a function that removes
// it. Capture listeners run on the way down to the target.
func (n *Node) AddEventListener(eventType string, callback EventListener, capture bool) func() {
	doc := n.eventDocument()
	doc.documentData.evmu.Lock()
	defer doc.documentData.evmu.Unlock()

	if n.listeners == nil {
		n.listeners = &listenerSet{byType: make(map[string][]registeredListener)}
	}
	doc.documentData.nextListenerID++
	id := doc.documentData.nextListenerID
	n.listeners.byType[eventType] = append(n.listeners.byType[eventType], registeredListener{
		id:       id,
		callback: callback,
		capture:  capture,
	})

	return func() {
		doc.documentData.evmu.Lock()
		defer doc.documentData.evmu.Unlock()
		list := n.listeners.byType[eventType]
		for i, l := range list {
			if l.id == id {
				n.listeners.byType[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of listeners registered for eventType.
func (n *Node) ListenerCount(eventType string) int {
	doc := n.eventDocument()
	doc.documentData.evmu.Lock()
	defer doc.documentData.evmu.Unlock()
	if n.listeners == nil {
		return 0
	}
	return len(n.listeners.byType[eventType])
}

func (n *Node) eventDocument() *Document {
	if n.nodeType == DocumentNode {
		return (*Document)(n)
	}
	return n.ownerDoc
}

func (n *Node) snapshotListeners(eventType string) []registeredListener {
	doc := n.eventDocument()
	doc.documentData.evmu.Lock()
	defer doc.documentData.evmu.Unlock()
	if n.listeners == nil {
		return nil
	}
	list := n.listeners.byType[eventType]
	out := make([]registeredListener, len(list))
	copy(out, list)
	return out
}

// AddEventListener registers a listener on the element.
func (e *Element) AddEventListener(eventType string, callback EventListener, capture bool) func() {
	return e.AsNode().AddEventListener(eventType, callback, capture)
}

// DispatchEvent dispatches ev to the element.
func (e *Element) DispatchEvent(ev *Event) bool {
	return e.ownerDoc.DispatchEvent(e.AsNode(), ev)
}

// DispatchEvent runs capture, target and bubble phases for ev on target.
// The propagation path is fixed before any listener runs. It returns false
// if a listener called PreventDefault. The caller must not hold the
// document lock.
func (d *Document) DispatchEvent(target *Node, ev *Event) bool {
	if target == nil {
		target = d.AsNode()
	}
	ev.Target = target

	d.Lock()
	var path []*Node
	for n := target; n != nil; n = n.parentNode {
		path = append(path, n)
	}
	d.Unlock()

	for i := len(path) - 1; i > 0; i-- {
		if invokeListeners(path[i], ev, EventPhaseCapturing) {
			return !ev.defaultPrevented
		}
	}
	if invokeListeners(path[0], ev, EventPhaseAtTarget) {
		return !ev.defaultPrevented
	}
	if ev.Bubbles {
		for i := 1; i < len(path); i++ {
			if invokeListeners(path[i], ev, EventPhaseBubbling) {
				break
			}
		}
	}
	ev.Phase = EventPhaseNone
	ev.CurrentTarget = nil
	return !ev.defaultPrevented
}

// invokeListeners runs the listeners of node for the given phase and reports
// whether propagation was stopped.
func invokeListeners(node *Node, ev *Event, phase EventPhase) bool {
	ev.Phase = phase
	ev.CurrentTarget = node
	for _, l := range node.snapshotListeners(ev.Type) {
		if phase == EventPhaseCapturing && !l.capture {
			continue
		}
		if phase == EventPhaseBubbling && l.capture {
			continue
		}
		l.callback(ev)
		if ev.stopImmediate {
			break
		}
	}
	return ev.stopPropagation
}

// eventState is embedded in documentData.
type eventState struct {
	evmu           sync.Mutex
	nextListenerID int
}
