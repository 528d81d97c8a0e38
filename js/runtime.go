// Package js exposes an overlay toolkit to JavaScript. It uses the goja
// engine (pure Go ES5.1+ implementation).
package js

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/chrisuehlinger/overlaykit/overlay"
)

// maxTasksPerRun bounds RunPending so a callback that keeps queueing work
// cannot spin forever.
const maxTasksPerRun = 10000

// Runtime wraps a goja runtime bound to one toolkit.
type Runtime struct {
	vm     *goja.Runtime
	tk     *overlay.Toolkit
	logger *slog.Logger
	timers *timerManager
	loop   *eventLoop

	mu      sync.Mutex
	errors  []error
	onError func(error)
}

// NewRuntime creates a runtime with console, timers, document and the
// overlay object installed.
func NewRuntime(tk *overlay.Toolkit, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		vm:     goja.New(),
		tk:     tk,
		logger: logger,
		timers: newTimerManager(),
		loop:   newEventLoop(),
	}
	r.setupConsole()
	r.setupTimers()
	r.setupWindow()
	r.setupDocument()
	r.setupOverlay()
	return r
}

// VM returns the underlying goja runtime. It must only be used while no
// other Runtime method is running.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// SetOnError sets a callback for script and callback errors.
func (r *Runtime) SetOnError(handler func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = handler
}

// Execute runs code and returns its completion value.
func (r *Runtime) Execute(code string) (result goja.Value, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script execution panic: %v", p)
			r.recordError(err)
		}
	}()

	result, err = r.vm.RunString(code)
	if err != nil {
		r.recordError(err)
	}
	return result, err
}

// ExecuteScript compiles and runs a script loaded from src.
func (r *Runtime) ExecuteScript(code, src string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script compilation panic in %s: %v", src, p)
			r.recordError(err)
		}
	}()

	program, err := goja.Compile(src, code, false)
	if err != nil {
		r.recordError(err)
		return err
	}
	if _, err = r.vm.RunProgram(program); err != nil {
		r.recordError(err)
	}
	return err
}

// recordError requires r.mu.
func (r *Runtime) recordError(err error) {
	r.errors = append(r.errors, err)
	r.logger.Warn("script error", "error", err)
	if r.onError != nil {
		r.onError(err)
	}
}

// Errors returns every error seen so far.
func (r *Runtime) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error{}, r.errors...)
}

// ClearErrors forgets recorded errors.
func (r *Runtime) ClearErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = r.errors[:0]
}

// RunPending runs queued callbacks, microtasks and due timers until none
// are ready, and returns how many ran.
func (r *Runtime) RunPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for total < maxTasksPerRun {
		n := r.loop.runOnce(r)
		if n == 0 {
			break
		}
		total += n
	}
	if total >= maxTasksPerRun {
		r.logger.Warn("event loop did not settle", "tasks", total)
	}
	return total
}

// HasPendingWork reports whether callbacks or timers are waiting.
func (r *Runtime) HasPendingWork() bool {
	return r.loop.hasPending() || r.timers.hasPending()
}

// Wait runs the event loop until nothing is pending or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	for {
		r.RunPending()
		if !r.HasPendingWork() {
			return nil
		}
		delay, ok := r.timers.untilNext()
		if !ok || delay > 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close drops every queued callback and timer.
func (r *Runtime) Close() {
	r.loop.clear()
	r.timers.clear()
}

// invoke runs one task on the VM. The caller holds r.mu.
func (r *Runtime) invoke(t task) {
	defer func() {
		if p := recover(); p != nil {
			r.recordError(fmt.Errorf("%s callback panic: %v", t.name, p))
		}
	}()
	var args []goja.Value
	if t.args != nil {
		args = t.args()
	}
	if _, err := t.callback(goja.Undefined(), args...); err != nil {
		r.recordError(fmt.Errorf("%s callback: %w", t.name, err))
	}
}

// enqueue schedules fn to run on the next RunPending. It may be called
// from any goroutine, including from inside a script.
func (r *Runtime) enqueue(name string, fn goja.Callable, args func() []goja.Value) {
	r.loop.queueCallback(task{name: name, callback: fn, args: args})
}

func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()
	logger := r.logger.With("source", "console")

	logAt := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			logger.Log(context.Background(), level, formatArgs(call.Arguments))
			return goja.Undefined()
		}
	}
	console.Set("log", logAt(slog.LevelInfo))
	console.Set("info", logAt(slog.LevelInfo))
	console.Set("warn", logAt(slog.LevelWarn))
	console.Set("error", logAt(slog.LevelError))
	console.Set("debug", logAt(slog.LevelDebug))
	console.Set("trace", logAt(slog.LevelDebug))

	console.Set("assert", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || !call.Arguments[0].ToBoolean() {
			msg := "Assertion failed"
			if len(call.Arguments) > 1 {
				msg = formatArgs(call.Arguments[1:])
			}
			logger.Error(msg, "assert", true)
		}
		return goja.Undefined()
	})

	counts := make(map[string]int)
	console.Set("count", func(call goja.FunctionCall) goja.Value {
		label := labelArg(call)
		counts[label]++
		logger.Info(label, "count", counts[label])
		return goja.Undefined()
	})
	console.Set("countReset", func(call goja.FunctionCall) goja.Value {
		delete(counts, labelArg(call))
		return goja.Undefined()
	})

	times := make(map[string]time.Time)
	console.Set("time", func(call goja.FunctionCall) goja.Value {
		times[labelArg(call)] = time.Now()
		return goja.Undefined()
	})
	console.Set("timeEnd", func(call goja.FunctionCall) goja.Value {
		label := labelArg(call)
		if start, ok := times[label]; ok {
			logger.Info(label, "elapsed", time.Since(start))
			delete(times, label)
		}
		return goja.Undefined()
	})

	r.vm.Set("console", console)
}

func labelArg(call goja.FunctionCall) string {
	if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
		return call.Arguments[0].String()
	}
	return "default"
}

func (r *Runtime) setupTimers() {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 {
				return goja.Undefined()
			}
			callback, ok := goja.AssertFunction(call.Arguments[0])
			if !ok {
				return goja.Undefined()
			}
			delay := int64(0)
			if len(call.Arguments) > 1 {
				delay = max(call.Arguments[1].ToInteger(), 0)
			}
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = call.Arguments[2:]
			}
			d := time.Duration(delay) * time.Millisecond
			var interval time.Duration
			if repeat {
				// Intervals below 4ms are clamped, as browsers do.
				d = max(d, 4*time.Millisecond)
				interval = d
			}
			return r.vm.ToValue(r.timers.schedule(callback, d, interval, args))
		}
	}
	clearTimer := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			r.timers.clearTimer(int(call.Arguments[0].ToInteger()))
		}
		return goja.Undefined()
	}

	r.vm.Set("setTimeout", schedule(false))
	r.vm.Set("setInterval", schedule(true))
	r.vm.Set("clearTimeout", clearTimer)
	r.vm.Set("clearInterval", clearTimer)

	r.vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}
		if callback, ok := goja.AssertFunction(call.Arguments[0]); ok {
			r.loop.queueMicrotask(task{name: "microtask", callback: callback})
		}
		return goja.Undefined()
	})
}

// setupWindow makes window and globalThis the global object and reports
// the document viewport through innerWidth and innerHeight.
func (r *Runtime) setupWindow() {
	window := r.vm.GlobalObject()
	r.vm.Set("window", window)
	r.vm.Set("self", window)
	r.vm.Set("globalThis", window)

	viewport := func(height bool) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			r.tk.Doc.Lock()
			vp := r.tk.Doc.Viewport()
			r.tk.Doc.Unlock()
			if height {
				return r.vm.ToValue(vp.Height)
			}
			return r.vm.ToValue(vp.Width)
		}
	}
	_ = window.DefineAccessorProperty("innerWidth", r.vm.ToValue(viewport(false)), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = window.DefineAccessorProperty("innerHeight", r.vm.ToValue(viewport(true)), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatValue(arg)
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	return v.String()
}
