package js

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/chrisuehlinger/overlaykit/clickoutside"
	"github.com/chrisuehlinger/overlaykit/dom"
	"github.com/chrisuehlinger/overlaykit/dropdown"
	"github.com/chrisuehlinger/overlaykit/modal"
	"github.com/chrisuehlinger/overlaykit/placement"
	"github.com/chrisuehlinger/overlaykit/portal"
)

var (
	// ErrElementNotFound is thrown when a script names an element id the
	// document does not have.
	ErrElementNotFound = errors.New("element not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// setupOverlay installs the global overlay object. Elements are addressed
// by id; failures are thrown as JavaScript errors.
func (r *Runtime) setupOverlay() {
	o := r.vm.NewObject()
	o.Set("calculatePosition", r.calculatePosition)
	o.Set("detectOptimalPosition", r.detectOptimalPosition)
	o.Set("createPortal", r.createPortal)
	o.Set("destroyPortal", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.Portals.Destroy(call.Argument(0).String()))
	})
	o.Set("isPortalActive", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.Portals.IsPortalActive(call.Argument(0).String()))
	})
	o.Set("positionDropdown", r.positionDropdown)
	o.Set("closeDropdown", func(call goja.FunctionCall) goja.Value {
		closed, err := r.tk.Dropdowns.CloseDropdown(call.Argument(0).String())
		if err != nil {
			r.throw(err)
		}
		return r.vm.ToValue(closed)
	})
	o.Set("closeAllDropdowns", func(goja.FunctionCall) goja.Value {
		if err := r.tk.Dropdowns.CloseAll(context.Background()); err != nil {
			r.throw(err)
		}
		return goja.Undefined()
	})
	o.Set("isOpen", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.Dropdowns.IsOpen(call.Argument(0).String()))
	})
	o.Set("createModal", r.createModal)
	o.Set("destroyModal", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.Modals.DestroyModal(call.Argument(0).String()))
	})
	o.Set("isTopModal", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.Modals.IsTopModal(call.Argument(0).String()))
	})
	o.Set("registerClickOutside", r.registerClickOutside)
	o.Set("unregisterClickOutside", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.tk.ClickOutside.Unregister(call.Argument(0).String()))
	})
	o.Set("click", func(call goja.FunctionCall) goja.Value {
		target := r.tk.Click(call.Argument(0).ToFloat(), call.Argument(1).ToFloat())
		return r.elementID(target)
	})
	o.Set("pressKey", func(call goja.FunctionCall) goja.Value {
		r.tk.PressKey(call.Argument(0).String(), call.Argument(1).ToBoolean())
		return goja.Undefined()
	})
	o.Set("scroll", func(call goja.FunctionCall) goja.Value {
		r.tk.Scroll(call.Argument(0).ToFloat(), call.Argument(1).ToFloat())
		return goja.Undefined()
	})
	o.Set("resize", func(call goja.FunctionCall) goja.Value {
		r.tk.Resize(call.Argument(0).ToFloat(), call.Argument(1).ToFloat())
		return goja.Undefined()
	})
	o.Set("state", r.state)
	r.vm.Set("overlay", o)
}

func (r *Runtime) throw(err error) {
	panic(r.vm.NewGoError(err))
}

func (r *Runtime) element(id string) *dom.Element {
	r.tk.Doc.Lock()
	el := r.tk.Doc.GetElementById(id)
	r.tk.Doc.Unlock()
	if el == nil {
		r.throw(fmt.Errorf("%q: %w", id, ErrElementNotFound))
	}
	return el
}

func (r *Runtime) elementID(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	r.tk.Doc.Lock()
	id := el.Id()
	r.tk.Doc.Unlock()
	if id == "" {
		return goja.Null()
	}
	return r.vm.ToValue(id)
}

func (r *Runtime) viewport() dom.DOMRect {
	r.tk.Doc.Lock()
	defer r.tk.Doc.Unlock()
	return r.tk.Doc.Viewport()
}

// calculatePosition(triggerRect, contentSize, options)
func (r *Runtime) calculatePosition(call goja.FunctionCall) goja.Value {
	trigger := r.rectArg(call.Argument(0), "trigger")
	size := r.sizeArg(call.Argument(1))
	o := r.objectArg(call.Argument(2))

	vp := r.viewport()
	pos := placement.BottomStart
	if name := getString(o, "position", ""); name != "" && name != dropdown.Auto {
		p, err := placement.ParsePlacement(name)
		if err != nil {
			r.throw(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		}
		pos = p
	} else if name == dropdown.Auto {
		pos = r.tk.Engine.DetectOptimal(trigger, size, vp, nil, 0)
	}
	opts := r.tk.Engine.Options(pos, vp)
	opts.Offset = getFloat(o, "offset", opts.Offset)
	opts.Flip = getBool(o, "flip", opts.Flip)
	opts.Constrain = getBool(o, "constrain", opts.Constrain)
	opts.MinWidth = getFloat(o, "minWidth", opts.MinWidth)
	opts.MinHeight = getFloat(o, "minHeight", 0)
	opts.EdgePadding = getFloat(o, "edgePadding", opts.EdgePadding)
	if o != nil {
		if c := o.Get("container"); c != nil && !goja.IsUndefined(c) && !goja.IsNull(c) {
			rect := r.rectArg(c, "container")
			opts.Container = &rect
		}
	}
	return r.resultValue(r.tk.Engine.Calculate(trigger, size, opts))
}

// detectOptimalPosition(triggerRect, contentSize, containerRect?)
func (r *Runtime) detectOptimalPosition(call goja.FunctionCall) goja.Value {
	trigger := r.rectArg(call.Argument(0), "trigger")
	size := r.sizeArg(call.Argument(1))
	var container *dom.DOMRect
	if c := call.Argument(2); !goja.IsUndefined(c) && !goja.IsNull(c) {
		rect := r.rectArg(c, "container")
		container = &rect
	}
	p := r.tk.Engine.DetectOptimal(trigger, size, r.viewport(), container, 0)
	return r.vm.ToValue(p.String())
}

// createPortal({id, ownerId, className}) returns the portal id.
func (r *Runtime) createPortal(call goja.FunctionCall) goja.Value {
	o := r.objectArg(call.Argument(0))
	p, err := r.tk.Portals.Create(portal.Config{
		ID:        getString(o, "id", ""),
		OwnerID:   getString(o, "ownerId", ""),
		ClassName: getString(o, "className", ""),
	})
	if err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(p.ID)
}

// positionDropdown(elementId, config) returns true once the dropdown is open.
func (r *Runtime) positionDropdown(call goja.FunctionCall) goja.Value {
	elementID := call.Argument(0).String()
	el := r.element(elementID)
	o := r.objectArg(call.Argument(1))

	cfg := r.tk.Dropdowns.DefaultConfig()
	cfg.Element = el
	cfg.TriggerSelector = getString(o, "triggerSelector", "")
	cfg.ContentSelector = getString(o, "contentSelector", "")
	cfg.ComponentType = getString(o, "componentType", "")
	cfg.ComponentID = getString(o, "componentId", elementID)
	cfg.Position = getString(o, "position", cfg.Position)
	cfg.Offset = getFloat(o, "offset", cfg.Offset)
	cfg.Flip = getBool(o, "flip", cfg.Flip)
	cfg.Constrain = getBool(o, "constrain", cfg.Constrain)
	cfg.Dimensions = dropdown.Dimensions{
		Width:             getFloat(o, "width", 0),
		Height:            getFloat(o, "height", 0),
		MinWidth:          getFloat(o, "minWidth", 0),
		MinHeight:         getFloat(o, "minHeight", 0),
		MaxHeight:         getFloat(o, "maxHeight", 0),
		MatchTriggerWidth: getBool(o, "matchTriggerWidth", false),
	}
	cfg.ExcludeSelectors = getStrings(o, "excludeSelectors")
	cfg.AutoCloseOnScroll = getBool(o, "autoCloseOnScroll", cfg.AutoCloseOnScroll)
	cfg.CloseOnClickOutside = getBool(o, "closeOnClickOutside", cfg.CloseOnClickOutside)
	cfg.CloseOnEscape = getBool(o, "closeOnEscape", cfg.CloseOnEscape)
	cfg.ModalContext = getString(o, "modalContext", "")

	if fn := getFunc(o, "onOpen"); fn != nil {
		cfg.OnOpen = func(inst dropdown.Instance) {
			r.enqueue("onOpen", fn, func() []goja.Value {
				return []goja.Value{r.vm.ToValue(inst.ComponentID), r.resultValue(inst.Result)}
			})
		}
	}
	if fn := getFunc(o, "onClose"); fn != nil {
		cfg.OnClose = func(id string) {
			r.enqueue("onClose", fn, func() []goja.Value { return []goja.Value{r.vm.ToValue(id)} })
		}
	}
	if fn := getFunc(o, "onReposition"); fn != nil {
		cfg.OnReposition = func(res placement.Result) {
			r.enqueue("onReposition", fn, func() []goja.Value { return []goja.Value{r.resultValue(res)} })
		}
	}

	if err := r.tk.Dropdowns.PositionDropdown(context.Background(), cfg); err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(true)
}

// createModal(elementId, options) returns the modal id.
func (r *Runtime) createModal(call goja.FunctionCall) goja.Value {
	el := r.element(call.Argument(0).String())
	o := r.objectArg(call.Argument(1))

	opts := modal.DefaultOptions()
	opts.ID = getString(o, "id", "")
	opts.ParentID = getString(o, "parentId", "")
	opts.CloseOnEscape = getBool(o, "closeOnEscape", opts.CloseOnEscape)
	opts.CloseOnBackdropClick = getBool(o, "closeOnBackdropClick", opts.CloseOnBackdropClick)
	opts.TrapFocus = getBool(o, "trapFocus", opts.TrapFocus)
	opts.BackdropClass = getString(o, "backdropClass", "")
	opts.Blur = getBool(o, "blur", false)
	if fn := getFunc(o, "onClose"); fn != nil {
		opts.OnClose = func(id string) {
			r.enqueue("onClose", fn, func() []goja.Value { return []goja.Value{r.vm.ToValue(id)} })
		}
	}

	id, err := r.tk.Modals.CreateModal(el, opts)
	if err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(id)
}

// registerClickOutside(elementId, options, callback). The callback may
// also be passed as options.callback.
func (r *Runtime) registerClickOutside(call goja.FunctionCall) goja.Value {
	elementID := call.Argument(0).String()
	el := r.element(elementID)
	o := r.objectArg(call.Argument(1))

	fn, ok := goja.AssertFunction(call.Argument(2))
	if !ok {
		fn = getFunc(o, "callback")
	}
	opts := clickoutside.Options{
		ExcludeSelectors:   getStrings(o, "excludeSelectors"),
		IgnoreModalOverlay: getBool(o, "ignoreModalOverlay", false),
	}
	if fn != nil {
		opts.Callback = func(ev clickoutside.Event) {
			r.enqueue("clickOutside", fn, func() []goja.Value {
				obj := r.vm.NewObject()
				_ = obj.Set("elementId", ev.ElementID)
				_ = obj.Set("target", r.elementID(ev.Target))
				_ = obj.Set("x", ev.X)
				_ = obj.Set("y", ev.Y)
				return []goja.Value{obj}
			})
		}
	}
	return r.vm.ToValue(r.tk.ClickOutside.Register(elementID, el, opts))
}

// state returns the toolkit snapshot as a plain object.
func (r *Runtime) state(goja.FunctionCall) goja.Value {
	data, err := json.Marshal(r.tk.Snapshot())
	if err != nil {
		r.throw(err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(v)
}

func (r *Runtime) resultValue(res placement.Result) goja.Value {
	obj := r.vm.NewObject()
	_ = obj.Set("x", res.X)
	_ = obj.Set("y", res.Y)
	_ = obj.Set("width", res.Width)
	_ = obj.Set("height", res.Height)
	_ = obj.Set("placement", res.Placement.String())
	_ = obj.Set("flipped", res.Flipped)
	_ = obj.Set("constrained", res.Constrained)
	return obj
}

func (r *Runtime) objectArg(v goja.Value) *goja.Object {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.ToObject(r.vm)
}

// rectArg reads {x, y, width, height}; left and top are accepted for x
// and y.
func (r *Runtime) rectArg(v goja.Value, name string) dom.DOMRect {
	o := r.objectArg(v)
	if o == nil {
		r.throw(fmt.Errorf("%w: %s rect is required", ErrInvalidArgument, name))
	}
	x := getFloat(o, "x", getFloat(o, "left", 0))
	y := getFloat(o, "y", getFloat(o, "top", 0))
	rect := dom.NewDOMRect(x, y, getFloat(o, "width", 0), getFloat(o, "height", 0))
	if math.IsNaN(rect.X+rect.Y+rect.Width+rect.Height) {
		r.throw(fmt.Errorf("%w: %s rect has non-numeric fields", ErrInvalidArgument, name))
	}
	return rect
}

func (r *Runtime) sizeArg(v goja.Value) placement.Size {
	o := r.objectArg(v)
	return placement.Size{Width: getFloat(o, "width", 0), Height: getFloat(o, "height", 0)}
}

func present(o *goja.Object, key string) goja.Value {
	if o == nil {
		return nil
	}
	v := o.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v
}

func getString(o *goja.Object, key, def string) string {
	if v := present(o, key); v != nil {
		return v.String()
	}
	return def
}

func getFloat(o *goja.Object, key string, def float64) float64 {
	if v := present(o, key); v != nil {
		return v.ToFloat()
	}
	return def
}

func getBool(o *goja.Object, key string, def bool) bool {
	if v := present(o, key); v != nil {
		return v.ToBoolean()
	}
	return def
}

func getFunc(o *goja.Object, key string) goja.Callable {
	if v := present(o, key); v != nil {
		if fn, ok := goja.AssertFunction(v); ok {
			return fn
		}
	}
	return nil
}

// getStrings accepts an array of strings or a single string.
func getStrings(o *goja.Object, key string) []string {
	v := present(o, key)
	if v == nil {
		return nil
	}
	switch x := v.Export().(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, s := range x {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	return nil
}
