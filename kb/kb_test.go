package kb

import (
	"context"
	"sync"
	"testing"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

type fixedClock int

func (c fixedClock) CurrentTime() int { return int(c) }

func TestReaderRecordsOutcomes(t *testing.T) {
	l := NewLedger()
	r := l.ReaderFor(model.Pos(2, 3), fixedClock(7), core.AllExpired)

	r.ReadExpired(core.AgentID(model.Pos(0, 0), 1, 1))
	r.ReadExpired(core.RequestID(model.Pos(0, 0), 1, 1))
	r.ReadSuccessfulRequest("request(0,0)@4#2")
	r.ReadAbandonedRequest("request(0,0)@5#3")

	if !l.Has(AgentExpired, "agent(0,0)@1#1") || !l.Has(RequestExpired, "request(0,0)@1#1") {
		t.Fatalf("expiries misclassified: %+v", l.List())
	}
	if !l.Has(RequestSucceeded, "request(0,0)@4#2") || !l.Has(RequestAbandoned, "request(0,0)@5#3") {
		t.Fatalf("request outcomes missing: %+v", l.List())
	}
	for _, rec := range l.List() {
		if rec.Node != model.Pos(2, 3) || rec.Tick != 7 {
			t.Fatalf("record %+v lacks node or tick", rec)
		}
	}
	counts := l.Counts()
	for _, k := range Kinds() {
		if counts[k] != 1 {
			t.Fatalf("count[%s] = %d, want 1", k, counts[k])
		}
	}
	if len(l.ByKind(RequestSucceeded)) != 1 {
		t.Fatalf("ByKind returned %v", l.ByKind(RequestSucceeded))
	}
}

func TestKindNamesRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %v, %v", k, got, err)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Fatalf("expected an error for an unknown kind")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	l := NewLedger()
	var first, second []Record
	unsubFirst := l.Subscribe(func(r Record) { first = append(first, r) })
	l.Subscribe(func(r Record) {
		// Subscribers may read the ledger while being notified.
		if !l.Has(r.Kind, r.ID) {
			t.Errorf("record %s not visible to subscriber", r.ID)
		}
		second = append(second, r)
	})

	l.Add(Record{Kind: RequestSucceeded, ID: "a"})
	unsubFirst()
	unsubFirst()
	l.Add(Record{Kind: RequestSucceeded, ID: "b"})

	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("first=%d second=%d", len(first), len(second))
	}
}

func TestConcurrentAdds(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := l.ReaderFor(model.Pos(i, 0), fixedClock(i), core.ExpiredRequests)
			for j := 0; j < 50; j++ {
				r.ReadSuccessfulRequest(core.RequestID(model.Pos(i, 0), j, 1))
				_ = l.Counts()
			}
		}(i)
	}
	wg.Wait()
	if got := l.Counts()[RequestSucceeded]; got != 400 {
		t.Fatalf("succeeded = %d, want 400", got)
	}
}

func TestAttachCollectsFieldOutcomes(t *testing.T) {
	var nodes []*core.Node
	net := map[model.Position]*core.Node{}
	for y := 1; y <= 6; y++ {
		n, err := core.NewNode(core.NodeConfig{Position: model.Pos(1, y), SignalStrength: 1, AgentLifespan: 1, RequestLifespan: 5})
		if err != nil {
			t.Fatalf("NewNode: %v", err)
		}
		nodes = append(nodes, n)
		net[n.Position()] = n
	}
	f, err := core.NewField(core.FieldConfig{
		UpdateLimit:      10,
		EventChanceRange: core.Disabled,
		AgentChanceRange: core.Disabled,
		RequestInterval:  1,
	}, core.WithSeed(9))
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	if err := f.LoadTopology(net); err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	l := NewLedger()
	l.Attach(f.Nodes(), f, core.AllExpired)
	nodes[0].GenerateEvent(1, 0)
	nodes[5].EnqueueRequest(1)
	for f.Tick(context.Background()) {
	}

	got := l.ByKind(RequestSucceeded)
	if len(got) != 1 || got[0].Node != nodes[5].Position() || got[0].Tick != 10 {
		t.Fatalf("succeeded = %+v", got)
	}
}
