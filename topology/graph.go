package topology

import (
	"math"
	"sort"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/model"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is the directed "can reach by radio" relation of a network. An edge
// a->b exists when b lies within a's signal radius, the same rule a Field
// uses for neighbor discovery.
type Graph struct {
	g         *simple.DirectedGraph
	ids       map[model.Position]int64
	positions []model.Position
}

// NewGraph builds the reachability graph of nodes.
func NewGraph(nodes map[model.Position]*core.Node) *Graph {
	positions := make([]model.Position, 0, len(nodes))
	for p := range nodes {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	gr := &Graph{
		g:         simple.NewDirectedGraph(),
		ids:       make(map[model.Position]int64, len(positions)),
		positions: positions,
	}
	for i, p := range positions {
		gr.ids[p] = int64(i)
		gr.g.AddNode(simple.Node(i))
	}
	for i, from := range positions {
		radius := nodes[from].SignalStrength()
		for j, to := range positions {
			if i != j && from.WithinRange(to, radius) {
				gr.g.SetEdge(gr.g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}
	return gr
}

func (gr *Graph) Len() int { return len(gr.positions) }

// OutDegree is the number of nodes p can send to.
func (gr *Graph) OutDegree(p model.Position) int {
	id, ok := gr.ids[p]
	if !ok {
		return 0
	}
	return gr.g.From(id).Len()
}

// Components returns the strongly connected components, each ordered by
// position, largest first.
func (gr *Graph) Components() [][]model.Position {
	sccs := topo.TarjanSCC(gr.g)
	out := make([][]model.Position, 0, len(sccs))
	for _, scc := range sccs {
		comp := make([]model.Position, 0, len(scc))
		for _, n := range scc {
			comp = append(comp, gr.positions[n.ID()])
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i].Less(comp[j]) })
		out = append(out, comp)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0].Less(out[j][0])
	})
	return out
}

// Connected reports whether every node can reach every other node.
func (gr *Graph) Connected() bool {
	return len(gr.positions) > 0 && len(topo.TarjanSCC(gr.g)) == 1
}

// Isolated lists nodes that can neither send nor receive.
func (gr *Graph) Isolated() []model.Position {
	var out []model.Position
	for i, p := range gr.positions {
		id := int64(i)
		if gr.g.From(id).Len() == 0 && gr.g.To(id).Len() == 0 {
			out = append(out, p)
		}
	}
	return out
}

// HopDistance is the fewest radio hops from one node to another.
func (gr *Graph) HopDistance(from, to model.Position) (int, bool) {
	u, ok := gr.ids[from]
	if !ok {
		return 0, false
	}
	v, ok := gr.ids[to]
	if !ok {
		return 0, false
	}
	w := path.DijkstraFrom(simple.Node(u), gr.g).WeightTo(v)
	if math.IsInf(w, 1) {
		return 0, false
	}
	return int(w), true
}
