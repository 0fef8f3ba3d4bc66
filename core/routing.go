package core

import (
	"sort"

	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// RoutingTable maps an event id to the best known way of reaching it.
type RoutingTable map[int]model.ImplicitEvent

// Merge relaxes t against incoming: an entry is adopted when t has none for
// that event or when the incoming one is strictly shorter. Ties keep the
// incumbent. It returns the number of entries adopted.
func (t RoutingTable) Merge(incoming RoutingTable) int {
	adopted := 0
	for id, candidate := range incoming {
		if current, ok := t[id]; ok && current.Distance <= candidate.Distance {
			continue
		}
		t[id] = candidate
		adopted++
	}
	return adopted
}

// Relayed returns the table a neighbor would learn from a node at via.
func (t RoutingTable) Relayed(via model.Position) RoutingTable {
	out := make(RoutingTable, len(t))
	for id, entry := range t {
		out[id] = entry.Relayed(via)
	}
	return out
}

// Clone returns an independent copy.
func (t RoutingTable) Clone() RoutingTable {
	out := make(RoutingTable, len(t))
	for id, entry := range t {
		out[id] = entry
	}
	return out
}

// EventIDs returns the known event ids in ascending order.
func (t RoutingTable) EventIDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
