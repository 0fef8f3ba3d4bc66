package model

// Event is something a node observed locally. It is created once, by the
// node at Origin, and never mutated afterwards.
type Event struct {
	ID        int
	CreatedAt int // simulation tick
	Origin    Position
}

// ImplicitEvent is a routing table entry: the neighbor at NextHop is, to the
// holder's knowledge, the way to EventID which lies Distance hops away.
//
// Entries are replaced wholesale on improvement and never edited in place,
// so copies handed out by a node stay valid.
type ImplicitEvent struct {
	EventID  int
	Distance int
	NextHop  Position
}

// Direct returns the distance-zero entry a node records for its own event.
func Direct(e *Event) ImplicitEvent {
	return ImplicitEvent{EventID: e.ID, Distance: 0, NextHop: e.Origin}
}

// Relayed returns the entry a neighbor should learn when via forwards this
// knowledge: one hop further away, reached through via.
func (ie ImplicitEvent) Relayed(via Position) ImplicitEvent {
	return ImplicitEvent{EventID: ie.EventID, Distance: ie.Distance + 1, NextHop: via}
}
