package dropdown

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chrisuehlinger/overlaykit/dom"
)

func TestStabilityTracker(t *testing.T) {
	good := dom.NewDOMRect(100, 100, 200, 40)

	tests := []struct {
		name string
		seq  []dom.DOMRect
		want dom.DOMRect
		v    verdict
	}{
		{"first read", []dom.DOMRect{good}, good, accept},
		{"first narrow read is accepted", []dom.DOMRect{dom.NewDOMRect(0, 0, 20, 20)}, dom.NewDOMRect(0, 0, 20, 20), accept},
		{"zero width", []dom.DOMRect{good, dom.NewDOMRect(100, 100, 0, 40)}, good, collapsed},
		{"below floor", []dom.DOMRect{good, dom.NewDOMRect(100, 100, 30, 40)}, good, hold},
		{"one pixel jitter", []dom.DOMRect{good, dom.NewDOMRect(99, 101, 200, 40)}, good, hold},
		{"jitter with width change", []dom.DOMRect{good, dom.NewDOMRect(101, 100, 210, 40)}, dom.NewDOMRect(101, 100, 210, 40), accept},
		{"real move", []dom.DOMRect{good, dom.NewDOMRect(140, 100, 200, 40)}, dom.NewDOMRect(140, 100, 200, 40), accept},
		{"unchanged", []dom.DOMRect{good, good}, good, accept},
		{"held read does not replace last good", []dom.DOMRect{good, dom.NewDOMRect(101, 100, 200, 40), dom.NewDOMRect(100, 101, 200, 40)}, good, hold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStabilityTracker(48, 1)
			var got dom.DOMRect
			var v verdict
			for _, r := range tt.seq {
				got, v = s.observe(r)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.v, v, "verdict %s", v)
		})
	}
}
