package core

import (
	"context"
	"testing"

	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

type recorder struct {
	mode      ReaderMode
	expired   []string
	succeeded []string
	abandoned []string
}

func (r *recorder) Mode() ReaderMode                { return r.mode }
func (r *recorder) ReadExpired(id string)           { r.expired = append(r.expired, id) }
func (r *recorder) ReadSuccessfulRequest(id string) { r.succeeded = append(r.succeeded, id) }
func (r *recorder) ReadAbandonedRequest(id string)  { r.abandoned = append(r.abandoned, id) }

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type countingMetrics struct {
	noopMetrics
	created   map[MessageKind]int
	expired   map[MessageKind]int
	collapsed int
	resolved  int
	stale     int
	revived   int
	abandoned int
	events    int
	ticks     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{created: map[MessageKind]int{}, expired: map[MessageKind]int{}}
}

func (m *countingMetrics) EventCreated()                  { m.events++ }
func (m *countingMetrics) MessageCreated(k MessageKind)   { m.created[k]++ }
func (m *countingMetrics) MessageExpired(k MessageKind)   { m.expired[k]++ }
func (m *countingMetrics) RequestCollapsed()              { m.collapsed++ }
func (m *countingMetrics) RequestResolved(int)            { m.resolved++ }
func (m *countingMetrics) RequestStale()                  { m.stale++ }
func (m *countingMetrics) RequestRevived()                { m.revived++ }
func (m *countingMetrics) RequestAbandoned()              { m.abandoned++ }
func (m *countingMetrics) TickCompleted(tick, queued int) { m.ticks++ }

func quietConfig(limit int) FieldConfig {
	return FieldConfig{
		UpdateLimit:      limit,
		EventChanceRange: Disabled,
		AgentChanceRange: Disabled,
		RequestInterval:  1,
		RequestNodeCount: 0,
	}
}

func mustNode(t *testing.T, x, y, signal, agentLife, requestLife int) *Node {
	t.Helper()
	n, err := NewNode(NodeConfig{
		Position:        model.Pos(x, y),
		SignalStrength:  signal,
		AgentLifespan:   agentLife,
		RequestLifespan: requestLife,
	})
	if err != nil {
		t.Fatalf("NewNode(%d,%d): %v", x, y, err)
	}
	return n
}

func network(nodes ...*Node) map[model.Position]*Node {
	out := make(map[model.Position]*Node, len(nodes))
	for _, n := range nodes {
		out[n.Position()] = n
	}
	return out
}

// chain lays out count nodes at (1,1)..(1,count) with signal strength 1.
func chain(t *testing.T, count, agentLife, requestLife int) ([]*Node, map[model.Position]*Node) {
	t.Helper()
	nodes := make([]*Node, 0, count)
	for y := 1; y <= count; y++ {
		nodes = append(nodes, mustNode(t, 1, y, 1, agentLife, requestLife))
	}
	return nodes, network(nodes...)
}

func loadedField(t *testing.T, cfg FieldConfig, nodes map[model.Position]*Node, opts ...FieldOption) *Field {
	t.Helper()
	opts = append([]FieldOption{WithSeed(1)}, opts...)
	f, err := NewField(cfg, opts...)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	if err := f.LoadTopology(nodes); err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	return f
}

func runTicks(t *testing.T, f *Field, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !f.Tick(context.Background()) {
			t.Fatalf("tick %d did not run", i)
		}
	}
}

func testTick(now int, m MetricsRecorder) *tickContext {
	if m == nil {
		m = noopMetrics{}
	}
	return &tickContext{ctx: context.Background(), now: now, log: logging.Noop(), metrics: m}
}
