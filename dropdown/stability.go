package dropdown

import (
	"math"

	"github.com/chrisuehlinger/overlaykit/dom"
)

type verdict int

const (
	accept verdict = iota
	// hold keeps the last good rect for a transient layout read.
	hold
	// collapsed means the trigger has no width at all.
	collapsed
)

func (v verdict) String() string {
	switch v {
	case hold:
		return "hold"
	case collapsed:
		return "collapsed"
	default:
		return "accept"
	}
}

// stabilityTracker filters trigger measurements taken while a dropdown is
// open. A width that drops below the floor after a good read, or edges
// that move by no more than the jitter while the width is unchanged, are
// treated as mid-animation reads and the last good rect is kept.
type stabilityTracker struct {
	minWidth float64
	jitter   float64

	last dom.DOMRect
	good bool
}

func newStabilityTracker(minWidth, jitter float64) *stabilityTracker {
	return &stabilityTracker{minWidth: minWidth, jitter: jitter}
}

func (s *stabilityTracker) observe(r dom.DOMRect) (dom.DOMRect, verdict) {
	if r.Width <= 0 {
		return s.last, collapsed
	}
	if s.good {
		if r.Width < s.minWidth && s.last.Width >= s.minWidth {
			return s.last, hold
		}
		dx, dy := math.Abs(r.X-s.last.X), math.Abs(r.Y-s.last.Y)
		if r.Width == s.last.Width && (dx > 0 || dy > 0) && dx <= s.jitter && dy <= s.jitter {
			return s.last, hold
		}
	}
	s.last, s.good = r, true
	return r, accept
}
