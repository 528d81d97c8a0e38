// Package bus carries overlay lifecycle notifications between managers.
//
// Topics are a closed enum rather than event-name strings; every subscriber
// of a topic receives every event published to it, in subscription order.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chrisuehlinger/overlaykit/dom"
)

// Topic identifies a kind of notification.
type Topic int

const (
	PortalCreateRequested Topic = iota + 1
	PortalCreated
	PortalDestroyRequested
	PortalDestroyed
	PortalMoved
	PortalRestored
	BackdropClicked
	ClickedOutside
	DropdownOpening
	DropdownOpened
	DropdownBeforeClose
	DropdownClosed
	DropdownRepositioned
	ModalOpened
	ModalClosed
)

var topicNames = map[Topic]string{
	PortalCreateRequested:  "portal-create-requested",
	PortalCreated:          "portal-created",
	PortalDestroyRequested: "portal-destroy-requested",
	PortalDestroyed:        "portal-destroyed",
	PortalMoved:            "portal-moved",
	PortalRestored:         "portal-restored",
	BackdropClicked:        "backdrop-clicked",
	ClickedOutside:         "clicked-outside",
	DropdownOpening:        "dropdown-opening",
	DropdownOpened:         "dropdown-opened",
	DropdownBeforeClose:    "dropdown-before-close",
	DropdownClosed:         "dropdown-closed",
	DropdownRepositioned:   "dropdown-repositioned",
	ModalOpened:            "modal-opened",
	ModalClosed:            "modal-closed",
}

func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return fmt.Sprintf("topic(%d)", int(t))
}

// Event is one notification. Source is the id of the thing the event is
// about (portal, backdrop requester, tracked element, dropdown, modal);
// Owner is the id of whoever the source belongs to, when that differs.
type Event struct {
	Topic   Topic
	Source  string
	Owner   string
	Element *dom.Element
	Detail  any
}

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      int
	topic   Topic // zero subscribes to every topic
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. It is safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []subscription
	nextID int
}

// New creates a bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	return b.add(topic, h)
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add(0, h)
}

func (b *Bus) add(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, topic: topic, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to the current subscribers of its topic. Handlers run
// on the caller's goroutine after the bus lock is released, so they may
// publish or subscribe themselves. A panicking handler is logged and does
// not stop delivery to the others.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	var targets []Handler
	for _, s := range b.subs {
		if s.topic == 0 || s.topic == ev.Topic {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "topic", ev.Topic, "source", ev.Source, "panic", r)
		}
	}()
	h(ev)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
