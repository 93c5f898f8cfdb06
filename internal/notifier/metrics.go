package notifier

import (
	metrics "github.com/rcrowley/go-metrics"
)

// Counter names reported by Stats.
const (
	MetricEventsReceived  = "events.received"
	MetricEventsIgnored   = "events.ignored"
	MetricDisplaysUnknown = "displays.unknown"
	MetricCommandsFailed  = "commands.failed"
	MetricTransitions     = "transitions"
)

type counters struct {
	received    metrics.Counter
	ignored     metrics.Counter
	unknown     metrics.Counter
	failed      metrics.Counter
	transitions metrics.Counter
}

func newCounters(r metrics.Registry) *counters {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &counters{
		received:    metrics.GetOrRegisterCounter(MetricEventsReceived, r),
		ignored:     metrics.GetOrRegisterCounter(MetricEventsIgnored, r),
		unknown:     metrics.GetOrRegisterCounter(MetricDisplaysUnknown, r),
		failed:      metrics.GetOrRegisterCounter(MetricCommandsFailed, r),
		transitions: metrics.GetOrRegisterCounter(MetricTransitions, r),
	}
}

// snapshot returns the current value of every counter. Names carry no
// registry prefix.
func (c *counters) snapshot() map[string]int64 {
	return map[string]int64{
		MetricEventsReceived:  c.received.Count(),
		MetricEventsIgnored:   c.ignored.Count(),
		MetricDisplaysUnknown: c.unknown.Count(),
		MetricCommandsFailed:  c.failed.Count(),
		MetricTransitions:     c.transitions.Count(),
	}
}
