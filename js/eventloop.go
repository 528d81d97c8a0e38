package js

import (
	"sync"

	"github.com/dop251/goja"
)

// task is a queued call into the VM. Arguments are built when the task
// runs, since goja values may only be created on the goroutine that owns
// the runtime.
type task struct {
	name     string
	callback goja.Callable
	args     func() []goja.Value
}

// eventLoop holds callbacks waiting for the VM: microtasks queued by
// scripts and callbacks queued by the overlay managers.
type eventLoop struct {
	mu         sync.Mutex
	microtasks []task
	callbacks  []task
}

func newEventLoop() *eventLoop {
	return &eventLoop{}
}

func (el *eventLoop) queueMicrotask(t task) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.microtasks = append(el.microtasks, t)
}

// queueCallback is safe to call from any goroutine.
func (el *eventLoop) queueCallback(t task) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.callbacks = append(el.callbacks, t)
}

func (el *eventLoop) nextMicrotask() (task, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.microtasks) == 0 {
		return task{}, false
	}
	t := el.microtasks[0]
	el.microtasks = el.microtasks[1:]
	return t, true
}

func (el *eventLoop) nextCallback() (task, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.callbacks) == 0 {
		return task{}, false
	}
	t := el.callbacks[0]
	el.callbacks = el.callbacks[1:]
	return t, true
}

// runOnce drains the microtasks, fires due timers and then runs one
// queued callback. It reports how many tasks ran. The caller owns the VM.
func (el *eventLoop) runOnce(r *Runtime) int {
	ran := 0
	for {
		t, ok := el.nextMicrotask()
		if !ok {
			break
		}
		r.invoke(t)
		ran++
	}

	ran += r.timers.process(r)

	if t, ok := el.nextCallback(); ok {
		r.invoke(t)
		ran++
	}
	return ran
}

func (el *eventLoop) hasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.microtasks) > 0 || len(el.callbacks) > 0
}

func (el *eventLoop) clear() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.microtasks = nil
	el.callbacks = nil
}
