package core

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Disabled turns off a 1-in-N generation policy.
const Disabled = -1

const tracerName = "github.com/signalsfoundry/rumor-routing-sim/core"

// FieldConfig is the generation policy and run length of a simulation.
type FieldConfig struct {
	// UpdateLimit is the last tick that runs; the field ends afterwards.
	UpdateLimit int
	// EventChanceRange N gives every node a 1-in-N chance per tick of
	// observing an event. Disabled turns events and agents off.
	EventChanceRange int
	// AgentChanceRange M gives a fresh event a 1-in-M chance of seeding an
	// agent.
	AgentChanceRange int
	// RequestInterval is the tick period of request generation.
	RequestInterval  int
	RequestNodeCount int
}

func (c FieldConfig) Validate() error {
	if c.UpdateLimit <= 0 {
		return fmt.Errorf("%w: update limit must be positive, got %d", ErrInvalidConfig, c.UpdateLimit)
	}
	if c.RequestInterval <= 0 {
		return fmt.Errorf("%w: request interval must be positive, got %d", ErrInvalidConfig, c.RequestInterval)
	}
	if c.RequestNodeCount < 0 {
		return fmt.Errorf("%w: request node count must be >= 0, got %d", ErrInvalidConfig, c.RequestNodeCount)
	}
	if c.EventChanceRange != Disabled && c.EventChanceRange <= 0 {
		return fmt.Errorf("%w: event chance range must be positive or disabled, got %d", ErrInvalidConfig, c.EventChanceRange)
	}
	if c.AgentChanceRange != Disabled && c.AgentChanceRange <= 0 {
		return fmt.Errorf("%w: agent chance range must be positive or disabled, got %d", ErrInvalidConfig, c.AgentChanceRange)
	}
	return nil
}

// FieldOption customizes a Field.
type FieldOption func(*Field)

// WithLogger sets the logger used by the field and its nodes.
func WithLogger(l logging.Logger) FieldOption {
	return func(f *Field) { f.log = logging.OrNoop(l) }
}

// WithMetrics sets the recorder that receives protocol counters.
func WithMetrics(m MetricsRecorder) FieldOption {
	return func(f *Field) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithSeed makes every random draw of the field reproducible.
func WithSeed(seed int64) FieldOption {
	return func(f *Field) { f.rng = rand.New(rand.NewSource(seed)) }
}

// Field owns the node network and the simulation clock.
//
// Tick and LoadTopology are serialized by an internal mutex. CurrentTime,
// Running, Ended and Loaded may be read from any goroutine.
type Field struct {
	cfg FieldConfig

	mu           sync.Mutex
	rng          *rand.Rand
	nodes        map[model.Position]*Node
	order        []*Node
	requestNodes []*Node
	eventIDs     []int

	now     atomic.Int64
	loaded  atomic.Bool
	running atomic.Bool
	ended   atomic.Bool

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// NewField validates cfg and returns a field with no topology.
func NewField(cfg FieldConfig, opts ...FieldOption) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Field{
		cfg:     cfg,
		nodes:   map[model.Position]*Node{},
		log:     logging.Noop(),
		metrics: noopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return f, nil
}

func (f *Field) Config() FieldConfig { return f.cfg }
func (f *Field) CurrentTime() int    { return int(f.now.Load()) }
func (f *Field) Loaded() bool        { return f.loaded.Load() }
func (f *Field) Running() bool       { return f.running.Load() }
func (f *Field) Ended() bool         { return f.ended.Load() }

// LoadTopology installs the node network. It may succeed only once. On
// success every node discovers its neighbors and the request origins are
// drawn.
func (f *Field) LoadTopology(nodes map[model.Position]*Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded.Load() {
		return ErrAlreadyLoaded
	}
	if f.cfg.RequestNodeCount > len(nodes) {
		return fmt.Errorf("%w: %d request nodes requested but topology has %d nodes",
			ErrInvalidConfig, f.cfg.RequestNodeCount, len(nodes))
	}

	order := make([]*Node, 0, len(nodes))
	for pos, n := range nodes {
		if n == nil {
			return fmt.Errorf("%w: nil node at %s", ErrInvalidConfig, pos)
		}
		if n.Position() != pos {
			return fmt.Errorf("%w: node %s stored under key %s", ErrInvalidConfig, n.Position(), pos)
		}
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Position().Less(order[j].Position()) })

	f.nodes = make(map[model.Position]*Node, len(nodes))
	for pos, n := range nodes {
		f.nodes[pos] = n
	}
	f.order = order
	for _, n := range order {
		n.setNeighbors(f.NeighborsOf(n))
	}

	f.requestNodes = f.requestNodes[:0]
	for _, i := range f.rng.Perm(len(order))[:f.cfg.RequestNodeCount] {
		f.requestNodes = append(f.requestNodes, order[i])
	}
	sort.Slice(f.requestNodes, func(i, j int) bool {
		return f.requestNodes[i].Position().Less(f.requestNodes[j].Position())
	})

	f.loaded.Store(true)
	f.log.Info(context.Background(), "topology loaded",
		logging.Int("nodes", len(order)),
		logging.Int("request_nodes", len(f.requestNodes)),
	)
	return nil
}

// NeighborsOf returns every node within n's signal radius, n excluded,
// ordered by position. It scans the whole network.
func (f *Field) NeighborsOf(n *Node) []*Node {
	var out []*Node
	for _, other := range f.order {
		if other.Position() == n.Position() {
			continue
		}
		if n.Position().WithinRange(other.Position(), n.SignalStrength()) {
			out = append(out, other)
		}
	}
	return out
}

// Node returns the node at p.
func (f *Field) Node(p model.Position) (*Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[p]
	return n, ok
}

// Nodes returns the network ordered by position.
func (f *Field) Nodes() []*Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Node, len(f.order))
	copy(out, f.order)
	return out
}

// RequestNodes returns the nodes that issue requests, ordered by position.
func (f *Field) RequestNodes() []*Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Node, len(f.requestNodes))
	copy(out, f.requestNodes)
	return out
}

// Start marks the simulation as running.
func (f *Field) Start() error {
	if !f.loaded.Load() {
		return ErrNotLoaded
	}
	if !f.ended.Load() {
		f.running.Store(true)
	}
	return nil
}

// Tick advances the simulation by one time unit. It returns false when
// nothing ran, either because no topology is loaded or because the field
// has ended.
func (f *Field) Tick(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.loaded.Load() || f.ended.Load() {
		return false
	}
	now := int(f.now.Load())
	if now > f.cfg.UpdateLimit {
		f.ended.Store(true)
		f.running.Store(false)
		f.log.Info(ctx, "simulation ended", logging.Int("tick", now))
		return false
	}
	f.running.Store(true)

	ctx, span := f.tracer.Start(ctx, "field.tick", trace.WithAttributes(attribute.Int("sim.tick", now)))
	defer span.End()

	tc := &tickContext{ctx: ctx, now: now, log: f.log, metrics: f.metrics}

	if f.isRequestTick(now) {
		f.issueRequests(tc)
	}

	for _, n := range f.activationOrder() {
		if f.roll(f.cfg.EventChanceRange) {
			e := n.GenerateEvent(f.nextEventID(), now)
			f.metrics.EventCreated()
			if f.roll(f.cfg.AgentChanceRange) {
				n.EnqueueAgent(e)
			}
		}
		n.step(tc)
	}

	queued := 0
	for _, n := range f.order {
		n.state = Ready
		queued += n.queue.Len()
	}
	f.metrics.TickCompleted(now, queued)
	span.SetAttributes(attribute.Int("sim.queued_tasks", queued))

	f.now.Add(1)
	return true
}

func (f *Field) isRequestTick(now int) bool {
	return len(f.requestNodes) > 0 && now > 0 && now%f.cfg.RequestInterval == 0
}

// issueRequests asks every request origin for a uniformly random event
// already observed somewhere in the network.
func (f *Field) issueRequests(tc *tickContext) {
	if len(f.eventIDs) == 0 {
		tc.log.Debug(tc.ctx, "no events observed yet, skipping requests", logging.Int("tick", tc.now))
		return
	}
	for _, n := range f.requestNodes {
		n.EnqueueRequest(f.eventIDs[f.rng.Intn(len(f.eventIDs))])
	}
}

func (f *Field) nextEventID() int {
	id := len(f.eventIDs) + 1
	f.eventIDs = append(f.eventIDs, id)
	return id
}

// roll draws a 1-in-n chance; Disabled never fires.
func (f *Field) roll(n int) bool {
	if n == Disabled || n <= 0 {
		return false
	}
	return f.rng.Intn(n) == 0
}

// activationOrder shuffles the nodes for this tick.
func (f *Field) activationOrder() []*Node {
	order := make([]*Node, len(f.order))
	copy(order, f.order)
	f.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// Describe returns one serialized node per line, ordered by position, with
// a trailing newline.
func (f *Field) Describe() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, n := range f.order {
		b.WriteString(n.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (f *Field) String() string { return f.Describe() }
