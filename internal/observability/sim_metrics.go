package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/rumor-routing-sim/core"
)

// Request outcome labels of rumor_request_outcomes_total.
const (
	OutcomeResolved  = "resolved"
	OutcomeStale     = "stale"
	OutcomeRevived   = "revived"
	OutcomeAbandoned = "abandoned"
	OutcomeCollapsed = "collapsed"
)

// SimCollector exposes protocol metrics of a running field. It implements
// core.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Events            prometheus.Counter
	MessagesCreated   *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesExpired   *prometheus.CounterVec
	RequestOutcomes   *prometheus.CounterVec
	RequestLatency    prometheus.Histogram
	Ticks             prometheus.Counter
	CurrentTick       prometheus.Gauge
	QueuedTasks       prometheus.Gauge
}

var _ core.MetricsRecorder = (*SimCollector)(nil)

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	reg, gatherer := registryPair(reg)
	c := &SimCollector{gatherer: gatherer}

	var err error
	if c.Events, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rumor_events_total",
		Help: "Events observed by nodes.",
	}), "rumor_events_total"); err != nil {
		return nil, err
	}
	if c.MessagesCreated, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumor_messages_created_total",
		Help: "Agent and request messages created, labeled by kind.",
	}, []string{"kind"}), "rumor_messages_created_total"); err != nil {
		return nil, err
	}
	if c.MessagesDelivered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumor_messages_delivered_total",
		Help: "Successful single-hop deliveries, labeled by kind.",
	}, []string{"kind"}), "rumor_messages_delivered_total"); err != nil {
		return nil, err
	}
	if c.MessagesExpired, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumor_messages_expired_total",
		Help: "Messages discarded after running out of lifespan, labeled by kind.",
	}, []string{"kind"}), "rumor_messages_expired_total"); err != nil {
		return nil, err
	}
	if c.RequestOutcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rumor_request_outcomes_total",
		Help: "Request bookkeeping outcomes: resolved, stale, revived, abandoned, collapsed.",
	}, []string{"outcome"}), "rumor_request_outcomes_total"); err != nil {
		return nil, err
	}
	if c.RequestLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rumor_request_latency_ticks",
		Help:    "Ticks between issuing a request and its reply arriving home.",
		Buckets: []float64{0, 2, 5, 10, 20, 40, 80, 160, 320},
	}), "rumor_request_latency_ticks"); err != nil {
		return nil, err
	}
	if c.Ticks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rumor_ticks_total",
		Help: "Simulation ticks executed.",
	}), "rumor_ticks_total"); err != nil {
		return nil, err
	}
	if c.CurrentTick, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rumor_current_tick",
		Help: "Last simulation tick executed.",
	}), "rumor_current_tick"); err != nil {
		return nil, err
	}
	if c.QueuedTasks, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rumor_queued_tasks",
		Help: "Tasks waiting in node queues at the end of the last tick.",
	}), "rumor_queued_tasks"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

func (c *SimCollector) EventCreated() {
	if c == nil {
		return
	}
	c.Events.Inc()
}

func (c *SimCollector) MessageCreated(kind core.MessageKind) {
	if c == nil {
		return
	}
	c.MessagesCreated.WithLabelValues(kind.String()).Inc()
}

func (c *SimCollector) MessageDelivered(kind core.MessageKind) {
	if c == nil {
		return
	}
	c.MessagesDelivered.WithLabelValues(kind.String()).Inc()
}

func (c *SimCollector) MessageExpired(kind core.MessageKind) {
	if c == nil {
		return
	}
	c.MessagesExpired.WithLabelValues(kind.String()).Inc()
}

func (c *SimCollector) RequestResolved(latencyTicks int) {
	if c == nil {
		return
	}
	c.RequestOutcomes.WithLabelValues(OutcomeResolved).Inc()
	c.RequestLatency.Observe(float64(latencyTicks))
}

func (c *SimCollector) RequestCollapsed() { c.outcome(OutcomeCollapsed) }
func (c *SimCollector) RequestStale()     { c.outcome(OutcomeStale) }
func (c *SimCollector) RequestRevived()   { c.outcome(OutcomeRevived) }
func (c *SimCollector) RequestAbandoned() { c.outcome(OutcomeAbandoned) }

func (c *SimCollector) TickCompleted(tick, queuedTasks int) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.CurrentTick.Set(float64(tick))
	c.QueuedTasks.Set(float64(queuedTasks))
}

func (c *SimCollector) outcome(label string) {
	if c == nil {
		return
	}
	c.RequestOutcomes.WithLabelValues(label).Inc()
}
