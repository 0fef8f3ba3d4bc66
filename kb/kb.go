// Package kb keeps the ledger of protocol outcomes observed during a run.
package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// Kind classifies an outcome.
type Kind int

const (
	AgentExpired Kind = iota
	RequestExpired
	RequestSucceeded
	RequestAbandoned
)

var kindNames = map[Kind]string{
	AgentExpired:     "agent-expired",
	RequestExpired:   "request-expired",
	RequestSucceeded: "request-succeeded",
	RequestAbandoned: "request-abandoned",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome kind %q", s)
}

// Record is one outcome reported by a node.
type Record struct {
	Kind Kind
	ID   string
	Node model.Position
	Tick int
}

// Clock supplies the tick an outcome happened on.
type Clock interface {
	CurrentTime() int
}

type subscriber struct {
	id int
	fn func(Record)
}

// Ledger is an in-memory, thread-safe store of outcomes.
type Ledger struct {
	mu sync.RWMutex

	records []Record
	seen    map[Kind]map[string]struct{}

	subs   []subscriber
	nextID int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[Kind]map[string]struct{})}
}

// Add stores r and notifies subscribers.
func (l *Ledger) Add(r Record) {
	l.mu.Lock()
	l.records = append(l.records, r)
	ids, ok := l.seen[r.Kind]
	if !ok {
		ids = make(map[string]struct{})
		l.seen[r.Kind] = ids
	}
	ids[r.ID] = struct{}{}
	subs := append([]subscriber(nil), l.subs...)
	l.mu.Unlock()

	// Notify outside the lock so subscribers may query the ledger.
	for _, s := range subs {
		s.fn(r)
	}
}

// Has reports whether an outcome of kind was recorded for id.
func (l *Ledger) Has(kind Kind, id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[kind][id]
	return ok
}

// List returns a snapshot of all records in arrival order.
func (l *Ledger) List() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// ByKind returns the records of one kind in arrival order.
func (l *Ledger) ByKind(kind Kind) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, r := range l.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Counts returns the number of records per kind.
func (l *Ledger) Counts() map[Kind]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Kind]int, len(kindNames))
	for _, r := range l.records {
		out[r.Kind]++
	}
	return out
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscribe registers fn for every future record. It returns an
// unsubscribe function.
func (l *Ledger) Subscribe(fn func(Record)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.subs = append(l.subs, subscriber{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// NodeReader reports the outcomes seen by one node into a Ledger. It
// implements core.ExpirationReader, core.RequestReader and
// core.AbandonedRequestReader.
type NodeReader struct {
	ledger *Ledger
	node   model.Position
	clock  Clock
	mode   core.ReaderMode
}

// ReaderFor returns the reader to attach to the node at pos.
func (l *Ledger) ReaderFor(pos model.Position, clock Clock, mode core.ReaderMode) *NodeReader {
	return &NodeReader{ledger: l, node: pos, clock: clock, mode: mode}
}

// Attach installs a reader on every node.
func (l *Ledger) Attach(nodes []*core.Node, clock Clock, mode core.ReaderMode) {
	for _, n := range nodes {
		r := l.ReaderFor(n.Position(), clock, mode)
		n.SetExpirationReader(r)
		n.SetRequestReader(r)
	}
}

func (r *NodeReader) Mode() core.ReaderMode { return r.mode }

func (r *NodeReader) ReadExpired(id string) {
	kind := RequestExpired
	if k, ok := core.KindOfID(id); ok && k == core.KindAgent {
		kind = AgentExpired
	}
	r.add(kind, id)
}

func (r *NodeReader) ReadSuccessfulRequest(id string) { r.add(RequestSucceeded, id) }
func (r *NodeReader) ReadAbandonedRequest(id string)  { r.add(RequestAbandoned, id) }

func (r *NodeReader) add(kind Kind, id string) {
	tick := 0
	if r.clock != nil {
		tick = r.clock.CurrentTime()
	}
	r.ledger.Add(Record{Kind: kind, ID: id, Node: r.node, Tick: tick})
}
