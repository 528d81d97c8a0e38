package dom

import (
	"reflect"
	"testing"
)

func TestDispatchEventPhases(t *testing.T) {
	doc := NewHTMLDocument()
	outer := doc.CreateElement("div")
	inner := doc.CreateElement("button")
	outer.AppendChild(inner)
	doc.Body().AppendChild(outer)

	var order []string
	doc.AddEventListener("click", func(ev *Event) { order = append(order, "doc-capture") }, true)
	outer.AddEventListener("click", func(ev *Event) { order = append(order, "outer-capture") }, true)
	outer.AddEventListener("click", func(ev *Event) { order = append(order, "outer-bubble") }, false)
	inner.AddEventListener("click", func(ev *Event) {
		if ev.Phase != EventPhaseAtTarget {
			t.Errorf("Expected at-target phase, got %d", ev.Phase)
		}
		order = append(order, "target")
	}, false)
	doc.AddEventListener("click", func(ev *Event) { order = append(order, "doc-bubble") }, false)

	inner.DispatchEvent(NewMouseEvent("click", 5, 5))

	want := []string{"doc-capture", "outer-capture", "target", "outer-bubble", "doc-bubble"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestStopPropagation(t *testing.T) {
	doc := NewHTMLDocument()
	el := doc.CreateElement("div")
	doc.Body().AppendChild(el)

	reached := false
	second := false
	doc.AddEventListener("mousedown", func(ev *Event) { ev.StopImmediatePropagation() }, true)
	doc.AddEventListener("mousedown", func(ev *Event) { second = true }, true)
	el.AddEventListener("mousedown", func(ev *Event) { reached = true }, false)

	el.DispatchEvent(NewMouseEvent("mousedown", 0, 0))

	if reached || second {
		t.Errorf("Expected propagation to stop, reached=%v second=%v", reached, second)
	}
}

func TestPreventDefaultAndRemoval(t *testing.T) {
	doc := NewHTMLDocument()
	calls := 0
	remove := doc.AddEventListener("keydown", func(ev *Event) {
		calls++
		ev.PreventDefault()
	}, false)

	if doc.DispatchEvent(nil, NewKeyboardEvent("keydown", "Escape", false)) {
		t.Error("Expected DispatchEvent to report a prevented default")
	}
	if doc.AsNode().ListenerCount("keydown") != 1 {
		t.Errorf("Expected 1 listener, got %d", doc.AsNode().ListenerCount("keydown"))
	}

	remove()
	remove()
	if !doc.DispatchEvent(nil, NewKeyboardEvent("keydown", "Escape", false)) {
		t.Error("Expected no prevention after removal")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestNonBubblingEvents(t *testing.T) {
	doc := NewHTMLDocument()
	btn := doc.CreateElement("button")
	doc.Body().AppendChild(btn)

	bubbled := false
	doc.Body().AddEventListener("focus", func(*Event) { bubbled = true }, false)

	btn.Focus()
	if doc.ActiveElement() != btn {
		t.Errorf("Expected button to be active, got %v", doc.ActiveElement())
	}
	if bubbled {
		t.Error("Expected focus not to bubble")
	}

	btn.Remove()
	if doc.ActiveElement() != nil {
		t.Error("Expected detached element to lose focus")
	}
}

func TestListenerAddedDuringDispatchDoesNotRun(t *testing.T) {
	doc := NewHTMLDocument()
	late := false
	doc.AddEventListener("click", func(*Event) {
		doc.AddEventListener("click", func(*Event) { late = true }, false)
	}, false)

	doc.DispatchEvent(nil, NewEvent("click"))
	if late {
		t.Error("Expected listener added mid-dispatch to wait for the next event")
	}
}
