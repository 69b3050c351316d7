package update

import "time"

// Metrics receives counters from the engine.
type Metrics interface {
	ObserveAction(action Action, status string, d time.Duration)
	ObserveReport(r *Report)
	SetAvailability(a Availability)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveAction(Action, string, time.Duration) {}
func (NopMetrics) ObserveReport(*Report)                       {}
func (NopMetrics) SetAvailability(Availability)                {}
