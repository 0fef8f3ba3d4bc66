package core

import "github.com/signalsfoundry/rumor-routing-sim/model"

// AgentMessage wanders the network carrying a routing snapshot. Every node
// it reaches merges the snapshot and hands back its own, one hop further.
type AgentMessage struct {
	lifespan

	id        string
	origin    model.Position
	createdAt int
	snapshot  RoutingTable
	visited   visitSet
}

// NewAgentMessage builds the agent a node at origin sends out on tick at,
// seeded from the node's routing table. The origin counts as visited.
func NewAgentMessage(origin model.Position, table RoutingTable, life, at, eventID int) (*AgentMessage, error) {
	ls, err := newLifespan(life)
	if err != nil {
		return nil, err
	}
	m := &AgentMessage{
		lifespan:  ls,
		id:        AgentID(origin, at, eventID),
		origin:    origin,
		createdAt: at,
		snapshot:  table.Relayed(origin),
		visited:   visitSet{},
	}
	m.visited.add(origin)
	return m, nil
}

func (m *AgentMessage) ID() string             { return m.id }
func (m *AgentMessage) Kind() MessageKind      { return KindAgent }
func (m *AgentMessage) Origin() model.Position { return m.origin }
func (m *AgentMessage) CreatedAt() int         { return m.createdAt }

// HasVisited reports whether the agent has already been handled at p.
func (m *AgentMessage) HasVisited(p model.Position) bool {
	return m.visited.has(p)
}

// Snapshot returns a copy of the knowledge the agent offers its next host.
func (m *AgentMessage) Snapshot() RoutingTable { return m.snapshot.Clone() }

// absorb records a visit to the node at p, whose freshly merged table
// replaces the snapshot.
func (m *AgentMessage) absorb(p model.Position, table RoutingTable) {
	m.visited.add(p)
	m.snapshot = table.Relayed(p)
}
