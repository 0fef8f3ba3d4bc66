package core

import "github.com/signalsfoundry/rumor-routing-sim/model"

// RequestMessage searches for an event and, once found, retraces the path
// it took back to its origin.
//
// Fuel is only burned while searching. Homeward hops refill it, as do hops
// that follow a routing table entry; wandering hops do not.
type RequestMessage struct {
	lifespan

	id        string
	eventID   int
	origin    model.Position
	createdAt int

	// path holds the nodes to retrace home, origin at the bottom.
	path    []model.Position
	visited visitSet

	fetched   *model.Event
	returning bool
	arrived   bool
}

// NewRequestMessage builds the request for eventID issued by origin on tick
// at. The origin is both visited and the bottom of the return path.
func NewRequestMessage(eventID int, origin model.Position, life, at int) (*RequestMessage, error) {
	ls, err := newLifespan(life)
	if err != nil {
		return nil, err
	}
	m := &RequestMessage{
		lifespan:  ls,
		id:        RequestID(origin, at, eventID),
		eventID:   eventID,
		origin:    origin,
		createdAt: at,
		path:      []model.Position{origin},
		visited:   visitSet{},
	}
	m.visited.add(origin)
	return m, nil
}

func (m *RequestMessage) ID() string             { return m.id }
func (m *RequestMessage) Kind() MessageKind      { return KindRequest }
func (m *RequestMessage) EventID() int           { return m.eventID }
func (m *RequestMessage) Origin() model.Position { return m.origin }
func (m *RequestMessage) CreatedAt() int         { return m.createdAt }
func (m *RequestMessage) Returning() bool        { return m.returning }
func (m *RequestMessage) Arrived() bool          { return m.arrived }

func (m *RequestMessage) HasVisited(p model.Position) bool {
	return m.visited.has(p)
}

// ReturnAddress is the next node on the way home.
func (m *RequestMessage) ReturnAddress() (model.Position, bool) {
	if len(m.path) == 0 {
		return model.Position{}, false
	}
	return m.path[len(m.path)-1], true
}

// PathLen is the number of hops still recorded on the return path.
func (m *RequestMessage) PathLen() int { return len(m.path) }

// FetchedEvent returns the event carried home. It is only available once the
// message has arrived back at its origin.
func (m *RequestMessage) FetchedEvent() (*model.Event, error) {
	if !m.arrived {
		return nil, ErrRequestNotReturned
	}
	return m.fetched, nil
}

// visit processes the first handling of the message at p. held is p's copy
// of the target event, nil when p does not hold it.
func (m *RequestMessage) visit(p model.Position, held *model.Event) {
	if !m.returning {
		if held != nil {
			m.fetched = held
			m.returning = true
		} else {
			m.visited.add(p)
			m.path = append(m.path, p)
			m.DecrementLifespan()
		}
	}
	if m.returning && p == m.origin {
		m.arrived = true
	}
}

// stepHome pops the return address after a successful homeward hop.
func (m *RequestMessage) stepHome() {
	if len(m.path) > 0 {
		m.path = m.path[:len(m.path)-1]
	}
	m.ResetLifespan()
}

// sameSearch reports whether o is a copy of the same logical request.
func (m *RequestMessage) sameSearch(o *RequestMessage) bool {
	return m.origin == o.origin && m.eventID == o.eventID
}

// supersedes reports whether m should displace o when both are queued at
// one node: homeward beats searching, then more fuel wins.
func (m *RequestMessage) supersedes(o *RequestMessage) bool {
	if m.returning != o.returning {
		return m.returning
	}
	return m.current > o.current
}
