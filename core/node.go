package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// NodeState is the per-tick scheduling cue of a node.
type NodeState int

const (
	// Ready nodes may act or receive this tick.
	Ready NodeState = iota
	// Busy nodes already spent their single action this tick, either by
	// sending or by receiving a message.
	Busy
)

func (s NodeState) String() string {
	if s == Busy {
		return "BUSY"
	}
	return "READY"
}

// NodeConfig describes a sensor. It is also the serialized form of a node.
type NodeConfig struct {
	Position        model.Position
	SignalStrength  int
	AgentLifespan   int
	RequestLifespan int
}

func (c NodeConfig) Validate() error {
	if c.SignalStrength < 0 {
		return fmt.Errorf("%w: node %s signal strength must be >= 0, got %d", ErrInvalidConfig, c.Position, c.SignalStrength)
	}
	if c.AgentLifespan <= 0 {
		return fmt.Errorf("%w: node %s agent lifespan must be positive, got %d", ErrInvalidConfig, c.Position, c.AgentLifespan)
	}
	if c.RequestLifespan <= 0 {
		return fmt.Errorf("%w: node %s request lifespan must be positive, got %d", ErrInvalidConfig, c.Position, c.RequestLifespan)
	}
	return nil
}

// String is the "x;y;signal;agentLife;requestLife" record of the node.
func (c NodeConfig) String() string {
	return fmt.Sprintf("%d;%d;%d;%d;%d", c.Position.X, c.Position.Y, c.SignalStrength, c.AgentLifespan, c.RequestLifespan)
}

// tickContext carries the clock and sinks of the tick being executed.
type tickContext struct {
	ctx     context.Context
	now     int
	log     logging.Logger
	metrics MetricsRecorder
}

// Node is a sensor running the rumor routing protocol. All of its state is
// owned by the goroutine driving the field; a node is not safe for
// concurrent use.
type Node struct {
	cfg NodeConfig

	queue   taskQueue
	routing RoutingTable
	events  map[int]*model.Event
	pending map[string]*Request

	neighbors     []*Node
	neighborIndex map[model.Position]*Node

	// inbound holds the nodes that have this node in range. With unequal
	// radii they need not be neighbors, yet routes and return paths point
	// at them.
	inbound map[model.Position]*Node

	state NodeState

	expiration ExpirationReader
	requests   RequestReader
}

// NewNode validates cfg and returns an idle node with no neighbors.
func NewNode(cfg NodeConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Node{
		cfg:           cfg,
		routing:       RoutingTable{},
		events:        map[int]*model.Event{},
		pending:       map[string]*Request{},
		neighborIndex: map[model.Position]*Node{},
		inbound:       map[model.Position]*Node{},
	}, nil
}

func (n *Node) Config() NodeConfig         { return n.cfg }
func (n *Node) Position() model.Position   { return n.cfg.Position }
func (n *Node) SignalStrength() int        { return n.cfg.SignalStrength }
func (n *Node) State() NodeState           { return n.state }
func (n *Node) QueueLen() int              { return n.queue.Len() }
func (n *Node) String() string             { return n.cfg.String() }
func (n *Node) RoutingTable() RoutingTable { return n.routing.Clone() }

// SetExpirationReader attaches r, or detaches the current reader when r is nil.
func (n *Node) SetExpirationReader(r ExpirationReader) { n.expiration = r }

// SetRequestReader attaches r, or detaches the current reader when r is nil.
func (n *Node) SetRequestReader(r RequestReader) { n.requests = r }

// Neighbors returns the nodes in range, ordered by position.
func (n *Node) Neighbors() []*Node {
	out := make([]*Node, len(n.neighbors))
	copy(out, n.neighbors)
	return out
}

// EventByID returns the event this node observed with the given id.
func (n *Node) EventByID(id int) (*model.Event, bool) {
	e, ok := n.events[id]
	return e, ok
}

// PendingRequests returns the requests this node is still waiting on,
// ordered by id.
func (n *Node) PendingRequests() []*Request {
	out := make([]*Request, 0, len(n.pending))
	for _, r := range n.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Tasks lists the queued work in the order it would be attempted.
func (n *Node) Tasks() []*Task { return n.queue.snapshot() }

// GenerateEvent records a locally observed event and the distance-zero route
// to it.
func (n *Node) GenerateEvent(id, at int) *model.Event {
	e := &model.Event{ID: id, CreatedAt: at, Origin: n.cfg.Position}
	n.events[id] = e
	n.routing[id] = model.Direct(e)
	return e
}

// EnqueueAgent schedules an agent seeded by e. The node acts on it during
// its next step, this tick included.
func (n *Node) EnqueueAgent(e *model.Event) {
	if e == nil {
		return
	}
	n.queue.push(createAgentTask(e))
}

// EnqueueRequest schedules a request for eventID.
func (n *Node) EnqueueRequest(eventID int) {
	n.queue.push(createRequestTask(eventID))
}

// setNeighbors installs the result of neighbor discovery and registers n
// as an inbound link on each neighbor.
func (n *Node) setNeighbors(nodes []*Node) {
	sorted := make([]*Node, 0, len(nodes))
	index := make(map[model.Position]*Node, len(nodes))
	for _, nb := range nodes {
		if nb == nil || nb == n {
			continue
		}
		sorted = append(sorted, nb)
		index[nb.Position()] = nb
		nb.inbound[n.cfg.Position] = n
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position().Less(sorted[j].Position()) })
	n.neighbors = sorted
	n.neighborIndex = index
}

// step runs the node for one tick: it ages pending requests, then attempts
// queued tasks in priority order until one of them sends a message.
func (n *Node) step(tc *tickContext) {
	n.agePendingRequests(tc)

	if n.state != Ready || n.queue.Len() == 0 {
		return
	}

	var failed []*Task
	for n.queue.Len() > 0 {
		task := n.queue.pop()
		sent, retry := n.attempt(tc, task)
		if retry != nil {
			failed = append(failed, retry)
		}
		if sent {
			n.state = Busy
			break
		}
	}
	for _, t := range failed {
		t.tries++
		n.queue.push(t)
	}
}

// attempt executes one task. sent reports whether a message left the node;
// retry is the task to try again next tick, if any.
func (n *Node) attempt(tc *tickContext, task *Task) (sent bool, retry *Task) {
	switch task.Action {
	case CreateAgent:
		return n.createAgent(tc, task)
	case CreateRequest:
		return n.createRequest(tc, task)
	case HandleAgent:
		return n.handleAgent(tc, task)
	case HandleRequest:
		return n.handleRequest(tc, task)
	}
	tc.log.Warn(tc.ctx, "dropping task with unknown action",
		logging.String("node", n.cfg.Position.String()),
		logging.String("action", task.Action.String()),
	)
	return false, nil
}

func (n *Node) createAgent(tc *tickContext, task *Task) (bool, *Task) {
	msg, err := NewAgentMessage(n.cfg.Position, n.routing, n.cfg.AgentLifespan, tc.now, task.event.ID)
	if err != nil {
		tc.log.Error(tc.ctx, "agent creation failed", logging.String("node", n.cfg.Position.String()), logging.Err(err))
		return false, nil
	}
	tc.metrics.MessageCreated(KindAgent)
	if n.sendAgent(tc, msg) {
		return true, nil
	}
	return false, handleAgentTask(msg)
}

func (n *Node) createRequest(tc *tickContext, task *Task) (bool, *Task) {
	if _, ok := n.events[task.eventID]; ok {
		id := RequestID(n.cfg.Position, tc.now, task.eventID)
		tc.log.Debug(tc.ctx, "request satisfied locally",
			logging.String("node", n.cfg.Position.String()),
			logging.String("request", id),
		)
		tc.metrics.RequestResolved(0)
		if n.requests != nil {
			n.requests.ReadSuccessfulRequest(id)
		}
		return false, nil
	}

	msg, err := NewRequestMessage(task.eventID, n.cfg.Position, n.cfg.RequestLifespan, tc.now)
	if err != nil {
		tc.log.Error(tc.ctx, "request creation failed", logging.String("node", n.cfg.Position.String()), logging.Err(err))
		return false, nil
	}
	n.pending[msg.ID()] = newRequest(msg.ID(), task.eventID, tc.now, n.cfg.RequestLifespan*patienceFactor)
	tc.metrics.MessageCreated(KindRequest)
	if n.sendRequest(tc, msg) {
		return true, nil
	}
	return false, handleRequestTask(msg)
}

func (n *Node) handleAgent(tc *tickContext, task *Task) (bool, *Task) {
	msg := task.agent
	if task.tries == 0 {
		n.routing.Merge(msg.snapshot)
		msg.absorb(n.cfg.Position, n.routing)
		msg.DecrementLifespan()
	}
	if msg.IsDead() {
		n.expire(tc, msg)
		return false, nil
	}
	if n.sendAgent(tc, msg) {
		return true, nil
	}
	return false, task
}

func (n *Node) handleRequest(tc *tickContext, task *Task) (bool, *Task) {
	msg := task.request
	if task.tries == 0 {
		msg.visit(n.cfg.Position, n.events[msg.eventID])
	}
	switch {
	case msg.Arrived():
		n.finalize(tc, msg)
		return false, nil
	case msg.IsDead():
		n.expire(tc, msg)
		return false, nil
	case msg.Returning():
		if n.sendHome(tc, msg) {
			return true, nil
		}
		return false, task
	}
	if n.sendRequest(tc, msg) {
		return true, nil
	}
	return false, task
}

// sendAgent offers msg to unvisited neighbors, or to any neighbor once every
// neighbor has seen it.
func (n *Node) sendAgent(tc *tickContext, msg *AgentMessage) bool {
	return n.scan(msg.HasVisited, func(nb *Node) bool { return nb.deliverAgent(tc, msg) })
}

// sendRequest follows a known route when there is one. That attempt is the
// only one made this tick and refills the lifespan on success. Otherwise the
// request wanders like an agent, and a wandering hop leaves the lifespan as
// it is: fuel is only restored by progress along a route or towards home.
func (n *Node) sendRequest(tc *tickContext, msg *RequestMessage) bool {
	if entry, ok := n.routing[msg.eventID]; ok && entry.NextHop != n.cfg.Position {
		nb, ok := n.link(entry.NextHop)
		if !ok || !nb.deliverRequest(tc, msg) {
			return false
		}
		msg.ResetLifespan()
		return true
	}
	return n.scan(msg.HasVisited, func(nb *Node) bool { return nb.deliverRequest(tc, msg) })
}

// sendHome moves a returning request one hop back along its path.
func (n *Node) sendHome(tc *tickContext, msg *RequestMessage) bool {
	next, ok := msg.ReturnAddress()
	if !ok {
		return false
	}
	nb, ok := n.link(next)
	if !ok || !nb.deliverRequest(tc, msg) {
		return false
	}
	msg.stepHome()
	return true
}

// link resolves the target of a directed send: a neighbor in range, or a
// node that reached this one and so may appear in a route or return path.
func (n *Node) link(p model.Position) (*Node, bool) {
	if nb, ok := n.neighborIndex[p]; ok {
		return nb, true
	}
	nb, ok := n.inbound[p]
	return nb, ok
}

func (n *Node) scan(visited func(model.Position) bool, deliver func(*Node) bool) bool {
	exhausted := true
	for _, nb := range n.neighbors {
		if visited(nb.Position()) {
			continue
		}
		exhausted = false
		if deliver(nb) {
			return true
		}
	}
	if !exhausted {
		return false
	}
	for _, nb := range n.neighbors {
		if deliver(nb) {
			return true
		}
	}
	return false
}

func (n *Node) deliverAgent(tc *tickContext, msg *AgentMessage) bool {
	if n.state != Ready {
		return false
	}
	n.queue.push(handleAgentTask(msg))
	n.state = Busy
	tc.metrics.MessageDelivered(KindAgent)
	return true
}

// deliverRequest hands msg to this node, collapsing it with any queued copy
// of the same search. The node is busy afterwards even if msg was dropped.
func (n *Node) deliverRequest(tc *tickContext, msg *RequestMessage) bool {
	if n.state != Ready {
		return false
	}
	n.state = Busy
	tc.metrics.MessageDelivered(KindRequest)

	i := n.queue.find(func(t *Task) bool {
		return t.Action == HandleRequest && t.request.sameSearch(msg)
	})
	if i < 0 {
		n.queue.push(handleRequestTask(msg))
		return true
	}

	tc.metrics.RequestCollapsed()
	queued := n.queue.items[i].request
	if !msg.supersedes(queued) {
		tc.log.Debug(tc.ctx, "dropping duplicate request",
			logging.String("node", n.cfg.Position.String()),
			logging.String("request", msg.ID()),
			logging.String("kept", queued.ID()),
		)
		return true
	}
	n.queue.remove(i)
	n.queue.push(handleRequestTask(msg))
	tc.log.Debug(tc.ctx, "duplicate request replaced queued copy",
		logging.String("node", n.cfg.Position.String()),
		logging.String("request", msg.ID()),
		logging.String("replaced", queued.ID()),
	)
	return true
}

func (n *Node) agePendingRequests(tc *tickContext) {
	for id, r := range n.pending {
		r.decrement()
		if !r.IsDead() {
			continue
		}
		if r.revivals == 0 {
			r.revive()
			tc.metrics.RequestRevived()
			tc.log.Debug(tc.ctx, "request revived",
				logging.String("node", n.cfg.Position.String()),
				logging.String("request", id),
			)
			continue
		}
		delete(n.pending, id)
		tc.metrics.RequestAbandoned()
		tc.log.Debug(tc.ctx, "request abandoned",
			logging.String("node", n.cfg.Position.String()),
			logging.String("request", id),
		)
		if ar, ok := n.requests.(AbandonedRequestReader); ok {
			ar.ReadAbandonedRequest(id)
		}
	}
}

func (n *Node) finalize(tc *tickContext, msg *RequestMessage) {
	if _, ok := n.pending[msg.id]; !ok {
		tc.metrics.RequestStale()
		tc.log.Debug(tc.ctx, "discarding stale reply",
			logging.String("node", n.cfg.Position.String()),
			logging.String("request", msg.id),
		)
		return
	}
	delete(n.pending, msg.id)
	tc.metrics.RequestResolved(tc.now - msg.createdAt)
	tc.log.Debug(tc.ctx, "request resolved",
		logging.String("node", n.cfg.Position.String()),
		logging.String("request", msg.id),
		logging.Int("latency", tc.now-msg.createdAt),
	)
	if n.requests != nil {
		n.requests.ReadSuccessfulRequest(msg.id)
	}
}

func (n *Node) expire(tc *tickContext, msg Message) {
	tc.metrics.MessageExpired(msg.Kind())
	tc.log.Debug(tc.ctx, "message expired",
		logging.String("node", n.cfg.Position.String()),
		logging.String("kind", msg.Kind().String()),
		logging.String("id", msg.ID()),
	)
	if n.expiration != nil && n.expiration.Mode().Accepts(msg.Kind()) {
		n.expiration.ReadExpired(msg.ID())
	}
}
