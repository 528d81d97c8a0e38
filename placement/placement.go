// Package placement computes where a floating panel sits relative to its
// trigger. It is pure geometry: rectangles in, rectangles out.
package placement

import (
	"fmt"
	"strings"
)

// Side is the trigger edge a panel is placed against.
type Side int

const (
	Top Side = iota
	Bottom
	Left
	Right
)

// Align is the cross-axis alignment of the panel against the trigger.
type Align int

const (
	Start Align = iota
	Center
	End
)

var sideNames = [...]string{"top", "bottom", "left", "right"}
var alignNames = [...]string{"start", "center", "end"}

func (s Side) String() string {
	if s < Top || s > Right {
		return fmt.Sprintf("side(%d)", int(s))
	}
	return sideNames[s]
}

// Opposite returns the side across the trigger.
func (s Side) Opposite() Side {
	switch s {
	case Top:
		return Bottom
	case Bottom:
		return Top
	case Left:
		return Right
	default:
		return Left
	}
}

// Vertical reports whether the panel sits above or below the trigger.
func (s Side) Vertical() bool {
	return s == Top || s == Bottom
}

func (a Align) String() string {
	if a < Start || a > End {
		return fmt.Sprintf("align(%d)", int(a))
	}
	return alignNames[a]
}

// Placement is one of the twelve side × align combinations.
type Placement struct {
	Side  Side
	Align Align
}

// The twelve placements.
var (
	TopStart     = Placement{Top, Start}
	TopCenter    = Placement{Top, Center}
	TopEnd       = Placement{Top, End}
	BottomStart  = Placement{Bottom, Start}
	BottomCenter = Placement{Bottom, Center}
	BottomEnd    = Placement{Bottom, End}
	LeftStart    = Placement{Left, Start}
	LeftCenter   = Placement{Left, Center}
	LeftEnd      = Placement{Left, End}
	RightStart   = Placement{Right, Start}
	RightCenter  = Placement{Right, Center}
	RightEnd     = Placement{Right, End}
)

// All lists every placement, sides in top, bottom, left, right order.
func All() []Placement {
	out := make([]Placement, 0, 12)
	for s := Top; s <= Right; s++ {
		for a := Start; a <= End; a++ {
			out = append(out, Placement{s, a})
		}
	}
	return out
}

// Opposite flips the side and keeps the alignment.
func (p Placement) Opposite() Placement {
	return Placement{p.Side.Opposite(), p.Align}
}

func (p Placement) String() string {
	return p.Side.String() + "-" + p.Align.String()
}

// ParsePlacement accepts "bottom-start", "bottom_start", "BOTTOM_START" and
// a bare side ("top"), which means the center alignment.
func ParsePlacement(s string) (Placement, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
	sideName, alignName, hasAlign := strings.Cut(norm, "-")
	if !hasAlign {
		alignName = "center"
	}
	var p Placement
	side := indexOf(sideNames[:], sideName)
	align := indexOf(alignNames[:], alignName)
	if side < 0 || align < 0 {
		return p, fmt.Errorf("unknown placement %q", s)
	}
	return Placement{Side(side), Align(align)}, nil
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// MarshalText implements encoding.TextMarshaler.
func (p Placement) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Placement) UnmarshalText(text []byte) error {
	v, err := ParsePlacement(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
