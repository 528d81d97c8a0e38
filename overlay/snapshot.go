package overlay

import (
	"sort"

	"github.com/chrisuehlinger/overlaykit/dom"
)

// Snapshot is a serializable view of the overlay layer.
type Snapshot struct {
	Portals      []PortalState   `json:"portals"`
	Modals       []ModalState    `json:"modals"`
	Dropdowns    []DropdownState `json:"dropdowns"`
	Backdrops    int             `json:"backdrops"`
	ClickTargets int             `json:"click_outside_registrations"`
	ScrollLocked bool            `json:"scroll_locked"`
}

type PortalState struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`
	Level   int    `json:"level"`
	ZIndex  int    `json:"z_index"`
}

type ModalState struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Level    int    `json:"level"`
	ZIndex   int    `json:"z_index"`
	Top      bool   `json:"top"`
}

type DropdownState struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	PortalID  string      `json:"portal_id"`
	Placement string      `json:"placement"`
	Rect      dom.DOMRect `json:"rect"`
}

// Snapshot captures the current state of every manager.
func (t *Toolkit) Snapshot() Snapshot {
	s := Snapshot{
		Portals:      []PortalState{},
		Modals:       []ModalState{},
		Dropdowns:    []DropdownState{},
		Backdrops:    t.Backdrops.Count(),
		ClickTargets: t.ClickOutside.Count(),
	}
	for _, p := range t.Portals.Portals() {
		s.Portals = append(s.Portals, PortalState{ID: p.ID, OwnerID: p.OwnerID, Level: p.Level, ZIndex: p.ZIndex})
	}
	stack := t.Modals.Stack()
	for i, m := range stack {
		s.Modals = append(s.Modals, ModalState{
			ID:       m.ID,
			ParentID: m.ParentID,
			Level:    m.Stack.Level,
			ZIndex:   m.Stack.ZIndex,
			Top:      i == len(stack)-1,
		})
	}
	ids := t.Dropdowns.OpenComponents()
	sort.Strings(ids)
	for _, id := range ids {
		inst, ok := t.Dropdowns.Get(id)
		if !ok {
			continue
		}
		s.Dropdowns = append(s.Dropdowns, DropdownState{
			ID:        id,
			Type:      inst.ComponentType,
			PortalID:  inst.PortalID,
			Placement: inst.Result.Placement.String(),
			Rect:      inst.Result.Rect(),
		})
	}
	t.Doc.Lock()
	if body := t.Doc.Body(); body != nil {
		s.ScrollLocked = body.ClassList().Contains(t.Config.Modal.ScrollLockClass)
	}
	t.Doc.Unlock()
	return s
}
