package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

func TestSimCollectorRecordsProtocolCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	c.EventCreated()
	c.MessageCreated(core.KindAgent)
	c.MessageCreated(core.KindRequest)
	c.MessageExpired(core.KindRequest)
	c.RequestResolved(12)
	c.RequestRevived()
	c.RequestAbandoned()
	c.TickCompleted(7, 3)

	if got := testutil.ToFloat64(c.Events); got != 1 {
		t.Fatalf("rumor_events_total = %v", got)
	}
	if got := testutil.ToFloat64(c.MessagesCreated.WithLabelValues("agent")); got != 1 {
		t.Fatalf("agent messages created = %v", got)
	}
	if got := testutil.ToFloat64(c.MessagesExpired.WithLabelValues("request")); got != 1 {
		t.Fatalf("request messages expired = %v", got)
	}
	for _, outcome := range []string{OutcomeResolved, OutcomeRevived, OutcomeAbandoned} {
		if got := testutil.ToFloat64(c.RequestOutcomes.WithLabelValues(outcome)); got != 1 {
			t.Fatalf("outcome %s = %v", outcome, got)
		}
	}
	if got := testutil.ToFloat64(c.CurrentTick); got != 7 {
		t.Fatalf("rumor_current_tick = %v", got)
	}
	if got := testutil.ToFloat64(c.QueuedTasks); got != 3 {
		t.Fatalf("rumor_queued_tasks = %v", got)
	}
	if count := histogramSampleCount(t, reg, "rumor_request_latency_ticks", nil); count != 1 {
		t.Fatalf("latency sample count = %d", count)
	}
}

func TestSimCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	first.EventCreated()
	second.EventCreated()
	if got := testutil.ToFloat64(first.Events); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestNilSimCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.EventCreated()
	c.RequestStale()
	c.TickCompleted(1, 1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestSimCollectorDrivenByField(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	nodes := map[model.Position]*core.Node{}
	for y := 1; y <= 6; y++ {
		n, err := core.NewNode(core.NodeConfig{Position: model.Pos(1, y), SignalStrength: 1, AgentLifespan: 1, RequestLifespan: 5})
		if err != nil {
			t.Fatalf("NewNode: %v", err)
		}
		nodes[n.Position()] = n
	}
	f, err := core.NewField(core.FieldConfig{
		UpdateLimit:      10,
		EventChanceRange: core.Disabled,
		AgentChanceRange: core.Disabled,
		RequestInterval:  1,
	}, core.WithMetrics(c), core.WithSeed(5))
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	if err := f.LoadTopology(nodes); err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	nodes[model.Pos(1, 1)].GenerateEvent(1, 0)
	nodes[model.Pos(1, 6)].EnqueueRequest(1)
	for f.Tick(context.Background()) {
	}

	if got := testutil.ToFloat64(c.RequestOutcomes.WithLabelValues(OutcomeResolved)); got != 1 {
		t.Fatalf("resolved = %v", got)
	}
	// Five hops out and five back.
	if got := testutil.ToFloat64(c.MessagesDelivered.WithLabelValues("request")); got != 10 {
		t.Fatalf("request deliveries = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.Ticks); got != 11 {
		t.Fatalf("ticks = %v, want 11", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rr.Code)
	}
	for _, metric := range []string{"rumor_ticks_total", "rumor_request_outcomes_total", "rumor_request_latency_ticks"} {
		if !strings.Contains(rr.Body.String(), metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}
