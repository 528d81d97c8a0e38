package js

import (
	"github.com/dop251/goja"

	"github.com/chrisuehlinger/overlaykit/dom"
)

// documentBinder exposes a read-mostly view of the toolkit's document.
// Scripts use it to inspect what the managers did and, since there is no
// layout engine, to give elements their boxes with setRect.
type documentBinder struct {
	r     *Runtime
	cache map[*dom.Element]*goja.Object
}

func (r *Runtime) setupDocument() {
	b := &documentBinder{r: r, cache: make(map[*dom.Element]*goja.Object)}
	vm := r.vm
	doc := r.tk.Doc

	jsDoc := vm.NewObject()
	jsDoc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		doc.Lock()
		el := doc.GetElementById(call.Argument(0).String())
		doc.Unlock()
		return b.bind(el)
	})
	jsDoc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		doc.Lock()
		el := doc.QuerySelector(call.Argument(0).String())
		doc.Unlock()
		return b.bind(el)
	})
	jsDoc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		doc.Lock()
		els := doc.QuerySelectorAll(call.Argument(0).String())
		doc.Unlock()
		out := make([]any, len(els))
		for i, el := range els {
			out[i] = b.bind(el)
		}
		return vm.ToValue(out)
	})
	jsDoc.DefineAccessorProperty("body", vm.ToValue(func(goja.FunctionCall) goja.Value {
		doc.Lock()
		el := doc.Body()
		doc.Unlock()
		return b.bind(el)
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	jsDoc.DefineAccessorProperty("activeElement", vm.ToValue(func(goja.FunctionCall) goja.Value {
		doc.Lock()
		el := doc.ActiveElement()
		doc.Unlock()
		return b.bind(el)
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	vm.Set("document", jsDoc)
}

// bind returns the wrapper for el, the same object every time.
func (b *documentBinder) bind(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	if obj, ok := b.cache[el]; ok {
		return obj
	}
	vm := b.r.vm
	doc := b.r.tk.Doc
	locked := func(fn func() goja.Value) goja.Value {
		doc.Lock()
		defer doc.Unlock()
		return fn()
	}
	getter := func(fn func() goja.Value) goja.Value {
		return vm.ToValue(func(goja.FunctionCall) goja.Value { return locked(fn) })
	}

	obj := vm.NewObject()
	obj.DefineAccessorProperty("id", getter(func() goja.Value { return vm.ToValue(el.Id()) }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("tagName", getter(func() goja.Value { return vm.ToValue(el.TagName()) }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("className", getter(func() goja.Value { return vm.ToValue(el.ClassName()) }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("isConnected", getter(func() goja.Value { return vm.ToValue(el.IsConnected()) }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("parentElement", vm.ToValue(func(goja.FunctionCall) goja.Value {
		doc.Lock()
		parent := el.ParentElement()
		doc.Unlock()
		return b.bind(parent)
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value {
			name := call.Argument(0).String()
			if !el.HasAttribute(name) {
				return goja.Null()
			}
			return vm.ToValue(el.GetAttribute(name))
		})
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value {
			el.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		})
	})

	classList := vm.NewObject()
	classList.Set("contains", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value { return vm.ToValue(el.ClassList().Contains(call.Argument(0).String())) })
	})
	obj.Set("classList", classList)

	style := vm.NewObject()
	style.Set("getPropertyValue", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value { return vm.ToValue(el.Style().GetPropertyValue(call.Argument(0).String())) })
	})
	style.Set("setProperty", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value {
			el.Style().SetProperty(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		})
	})
	obj.Set("style", style)

	obj.Set("getBoundingClientRect", func(goja.FunctionCall) goja.Value {
		return locked(func() goja.Value {
			r := el.GetBoundingClientRect()
			rect := vm.NewObject()
			for k, v := range map[string]float64{
				"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height,
				"left": r.Left(), "top": r.Top(), "right": r.Right(), "bottom": r.Bottom(),
			} {
				_ = rect.Set(k, v)
			}
			return rect
		})
	})
	obj.Set("setRect", func(call goja.FunctionCall) goja.Value {
		return locked(func() goja.Value {
			el.SetRect(call.Argument(0).ToFloat(), call.Argument(1).ToFloat(), call.Argument(2).ToFloat(), call.Argument(3).ToFloat())
			return goja.Undefined()
		})
	})
	obj.Set("contains", func(call goja.FunctionCall) goja.Value {
		other := b.element(call.Argument(0))
		return locked(func() goja.Value { return vm.ToValue(other != nil && el.Contains(other)) })
	})
	obj.Set("focus", func(goja.FunctionCall) goja.Value {
		el.Focus()
		return goja.Undefined()
	})
	obj.Set("_goElement", el)

	b.cache[el] = obj
	return obj
}

func (b *documentBinder) element(v goja.Value) *dom.Element {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if g := v.ToObject(b.r.vm).Get("_goElement"); g != nil {
		if el, ok := g.Export().(*dom.Element); ok {
			return el
		}
	}
	return nil
}
