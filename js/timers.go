package js

import (
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// timer is a scheduled setTimeout or setInterval callback.
type timer struct {
	id       int
	callback goja.Callable
	args     []goja.Value
	due      time.Time
	interval time.Duration // 0 for setTimeout
	cleared  bool
}

type timerManager struct {
	mu     sync.Mutex
	timers map[int]*timer
	nextID int
	now    func() time.Time
}

func newTimerManager() *timerManager {
	return &timerManager{
		timers: make(map[int]*timer),
		nextID: 1,
		now:    time.Now,
	}
}

func (tm *timerManager) schedule(callback goja.Callable, delay, interval time.Duration, args []goja.Value) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	id := tm.nextID
	tm.nextID++
	tm.timers[id] = &timer{
		id:       id,
		callback: callback,
		args:     args,
		due:      tm.now().Add(delay),
		interval: interval,
	}
	return id
}

func (tm *timerManager) clearTimer(id int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t, ok := tm.timers[id]; ok {
		t.cleared = true
		delete(tm.timers, id)
	}
}

// process runs every due timer in due order and returns how many ran.
func (tm *timerManager) process(r *Runtime) int {
	tm.mu.Lock()
	now := tm.now()
	var due []*timer
	for _, t := range tm.timers {
		if !t.cleared && !t.due.After(now) {
			due = append(due, t)
		}
	}
	tm.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})

	ran := 0
	for _, t := range due {
		tm.mu.Lock()
		cleared := t.cleared
		tm.mu.Unlock()
		if cleared {
			continue
		}

		args := t.args
		r.invoke(task{name: "timer", callback: t.callback, args: func() []goja.Value { return args }})
		ran++

		tm.mu.Lock()
		if t.interval > 0 && !t.cleared {
			t.due = tm.now().Add(t.interval)
		} else {
			delete(tm.timers, t.id)
		}
		tm.mu.Unlock()
	}
	return ran
}

func (tm *timerManager) hasPending() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.timers) > 0
}

// untilNext returns the time until the next timer is due, or false when
// none is scheduled.
func (tm *timerManager) untilNext() (time.Duration, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var next time.Time
	for _, t := range tm.timers {
		if t.cleared {
			continue
		}
		if next.IsZero() || t.due.Before(next) {
			next = t.due
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(next.Sub(tm.now()), 0), true
}

func (tm *timerManager) clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, t := range tm.timers {
		t.cleared = true
		delete(tm.timers, id)
	}
}
