package placement

import (
	"github.com/chrisuehlinger/overlaykit/config"
	"github.com/chrisuehlinger/overlaykit/dom"
)

// Size is the size a panel wants to be.
type Size struct {
	Width  float64
	Height float64
}

// Options controls one Calculate call.
type Options struct {
	Position Placement
	Offset   float64
	Flip     bool
	// Constrain keeps the result inside the boundary minus EdgePadding.
	Constrain bool
	Viewport  dom.DOMRect
	// Container, when set, replaces the viewport as the boundary.
	Container   *dom.DOMRect
	MinHeight   float64
	MinWidth    float64
	EdgePadding float64
}

// Result is a computed panel rectangle. Height is the max-height the
// panel may use; Placement is the placement actually applied.
type Result struct {
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Placement   Placement
	Constrained bool
	Flipped     bool
}

// Rect returns the result as a DOMRect.
func (r Result) Rect() dom.DOMRect {
	return dom.NewDOMRect(r.X, r.Y, r.Width, r.Height)
}

// Engine computes placements. It holds no state besides its configuration
// and is safe for concurrent use.
type Engine struct {
	cfg config.Positioning
}

// NewEngine creates an engine.
func NewEngine(cfg config.Positioning) *Engine {
	return &Engine{cfg: cfg}
}

// Options returns options for position with the configured defaults:
// flip and constrain on, default offset, padding and minimum width.
func (e *Engine) Options(position Placement, viewport dom.DOMRect) Options {
	return Options{
		Position:    position,
		Offset:      e.cfg.DefaultOffset,
		Flip:        true,
		Constrain:   true,
		Viewport:    viewport,
		MinWidth:    e.cfg.MinWidth,
		EdgePadding: e.cfg.EdgePadding,
	}
}

// Calculate places a panel of the given size against trigger. It never
// fails; degenerate input yields a best-effort rectangle.
func (e *Engine) Calculate(trigger dom.DOMRect, size Size, opts Options) Result {
	size.Width = max(size.Width, 0)
	size.Height = max(size.Height, 0)
	bounds := boundary(opts.Viewport, opts.Container)

	p := opts.Position
	res := Result{}
	if opts.Flip {
		over := overflow(trigger, size, p.Side, opts.Offset, bounds)
		if over > 0 && overflow(trigger, size, p.Side.Opposite(), opts.Offset, bounds) < over {
			p = p.Opposite()
			res.Flipped = true
		}
	}

	res.X, res.Y = origin(trigger, size, p, opts.Offset)
	res.Width, res.Height = size.Width, size.Height
	res.Placement = p

	if opts.Constrain {
		constrain(&res, bounds, opts)
	}
	return res
}

// DetectOptimal picks the placement with room for the panel, trying
// bottom, top, right and left in that order. When none fits outright the
// side with the most space wins, bottom on ties. The alignment is start,
// or end when a start-aligned panel would run past the far edge.
func (e *Engine) DetectOptimal(trigger dom.DOMRect, size Size, viewport dom.DOMRect, container *dom.DOMRect, minHeight float64) Placement {
	bounds := boundary(viewport, container)
	buf := e.cfg.Buffer

	space := map[Side]float64{
		Top:    trigger.Top() - bounds.Top() - buf,
		Bottom: bounds.Bottom() - trigger.Bottom() - buf,
		Left:   trigger.Left() - bounds.Left() - buf,
		Right:  bounds.Right() - trigger.Right() - buf,
	}
	needV := max(size.Height, minHeight)
	needH := size.Width

	order := []Side{Bottom, Top, Right, Left}
	side := Side(-1)
	for _, s := range order {
		need := needH
		if s.Vertical() {
			need = needV
		}
		if space[s] >= need {
			side = s
			break
		}
	}
	if side < 0 {
		side = Bottom
		for _, s := range order[1:] {
			if space[s] > space[side] {
				side = s
			}
		}
	}

	align := Start
	if side.Vertical() {
		if trigger.Left()+size.Width > bounds.Right()-buf && trigger.Right()-size.Width >= bounds.Left()+buf {
			align = End
		}
	} else if trigger.Top()+size.Height > bounds.Bottom()-buf && trigger.Bottom()-size.Height >= bounds.Top()+buf {
		align = End
	}
	return Placement{side, align}
}

func boundary(viewport dom.DOMRect, container *dom.DOMRect) dom.DOMRect {
	if container != nil {
		return *container
	}
	return viewport
}

// origin is the unconstrained top-left corner for placement p.
func origin(t dom.DOMRect, size Size, p Placement, offset float64) (x, y float64) {
	switch p.Side {
	case Top:
		y = t.Top() - size.Height - offset
	case Bottom:
		y = t.Bottom() + offset
	case Left:
		x = t.Left() - size.Width - offset
	case Right:
		x = t.Right() + offset
	}

	if p.Side.Vertical() {
		switch p.Align {
		case Start:
			x = t.Left()
		case Center:
			x = t.Left() + (t.Width-size.Width)/2
		case End:
			x = t.Right() - size.Width
		}
	} else {
		switch p.Align {
		case Start:
			y = t.Top()
		case Center:
			y = t.Top() + (t.Height-size.Height)/2
		case End:
			y = t.Bottom() - size.Height
		}
	}
	return x, y
}

// overflow is how far a panel on side s would run past the boundary along
// its main axis.
func overflow(t dom.DOMRect, size Size, s Side, offset float64, b dom.DOMRect) float64 {
	var space, need float64
	switch s {
	case Top:
		space, need = t.Top()-offset-b.Top(), size.Height
	case Bottom:
		space, need = b.Bottom()-t.Bottom()-offset, size.Height
	case Left:
		space, need = t.Left()-offset-b.Left(), size.Width
	case Right:
		space, need = b.Right()-t.Right()-offset, size.Width
	}
	return max(need-space, 0)
}

func constrain(r *Result, b dom.DOMRect, opts Options) {
	pad := opts.EdgePadding
	side := r.Placement.Side
	var changedMain, changedCross bool
	if side.Vertical() {
		r.Y, r.Height, changedMain = fitMain(r.Y, r.Height, b.Top(), b.Bottom(), pad, opts.MinHeight, side == Top)
		r.X, r.Width, changedCross = clampSpan(r.X, r.Width, b.Left(), b.Right(), pad, opts.MinWidth)
	} else {
		r.X, r.Width, changedMain = fitMain(r.X, r.Width, b.Left(), b.Right(), pad, opts.MinWidth, side == Left)
		r.Y, r.Height, changedCross = clampSpan(r.Y, r.Height, b.Top(), b.Bottom(), pad, opts.MinHeight)
	}
	r.Constrained = changedMain || changedCross
}

// fitMain shrinks a span along the placement's main axis, keeping the edge
// facing the trigger fixed, then clamps it into the boundary. before is
// true for panels above or left of the trigger.
func fitMain(start, length, lo, hi, pad, floor float64, before bool) (float64, float64, bool) {
	origStart, origLength := start, length
	end := start + length
	if before {
		if avail := end - (lo + pad); length > avail {
			length = max(avail, min(floor, length))
			start = end - length
		}
	} else if avail := (hi - pad) - start; length > avail {
		length = max(avail, min(floor, length))
	}
	start, length, _ = clampSpan(start, length, lo, hi, pad, floor)
	return start, length, start != origStart || length != origLength
}

// clampSpan fits [start, start+length] into [lo+pad, hi-pad]. The span
// shrinks no further than floor; when even that does not fit, the padding
// is given up before the boundary is crossed.
func clampSpan(start, length, lo, hi, pad, floor float64) (float64, float64, bool) {
	origStart, origLength := start, length
	minEdge, maxEdge := lo+pad, hi-pad
	if length > maxEdge-minEdge {
		length = max(maxEdge-minEdge, min(floor, length))
		if length > maxEdge-minEdge {
			minEdge, maxEdge = lo, hi
			length = min(length, max(hi-lo, 0))
		}
	}
	if start+length > maxEdge {
		start = maxEdge - length
	}
	if start < minEdge {
		start = minEdge
	}
	return start, length, start != origStart || length != origLength
}
