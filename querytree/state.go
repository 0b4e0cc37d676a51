package querytree

import "sort"

// DisplayState is the set of collapsed group identifiers. The zero value has
// every group open. It is never mutated in place.
type DisplayState struct {
	collapsed map[string]struct{}
}

// NewDisplayState returns a state with the given groups collapsed.
func NewDisplayState(collapsed ...string) DisplayState {
	if len(collapsed) == 0 {
		return DisplayState{}
	}
	m := make(map[string]struct{}, len(collapsed))
	for _, id := range collapsed {
		m[id] = struct{}{}
	}
	return DisplayState{collapsed: m}
}

// IsCollapsed reports whether the group with the given id is collapsed.
func (s DisplayState) IsCollapsed(id string) bool {
	_, ok := s.collapsed[id]
	return ok
}

// Collapsed returns the collapsed ids in sorted order.
func (s DisplayState) Collapsed() []string {
	ids := make([]string, 0, len(s.collapsed))
	for id := range s.collapsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToggleCollapse returns a copy of s with the open/closed state of id flipped.
func ToggleCollapse(s DisplayState, id string) DisplayState {
	m := make(map[string]struct{}, len(s.collapsed)+1)
	for k := range s.collapsed {
		m[k] = struct{}{}
	}
	if _, ok := m[id]; ok {
		delete(m, id)
	} else {
		m[id] = struct{}{}
	}
	return DisplayState{collapsed: m}
}
