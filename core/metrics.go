package core

// MetricsRecorder receives protocol counters from nodes and the field. All
// calls happen on the ticking goroutine.
type MetricsRecorder interface {
	EventCreated()
	MessageCreated(kind MessageKind)
	MessageDelivered(kind MessageKind)
	MessageExpired(kind MessageKind)
	RequestCollapsed()
	RequestResolved(latencyTicks int)
	RequestStale()
	RequestRevived()
	RequestAbandoned()
	TickCompleted(tick, queuedTasks int)
}

type noopMetrics struct{}

func (noopMetrics) EventCreated()                {}
func (noopMetrics) MessageCreated(MessageKind)   {}
func (noopMetrics) MessageDelivered(MessageKind) {}
func (noopMetrics) MessageExpired(MessageKind)   {}
func (noopMetrics) RequestCollapsed()            {}
func (noopMetrics) RequestResolved(int)          {}
func (noopMetrics) RequestStale()                {}
func (noopMetrics) RequestRevived()              {}
func (noopMetrics) RequestAbandoned()            {}
func (noopMetrics) TickCompleted(int, int)       {}
