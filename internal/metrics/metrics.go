// Package metrics exposes the engine's counters. Components take a *Metrics
// and never care whether it is backed by Prometheus or a noop.
package metrics

// Counter is a monotonically increasing count.
type Counter interface {
	Inc()
}

// Metrics is the set of counters the engine increments.
type Metrics struct {
	Cycles          Counter
	CycleErrors     Counter
	DataUnavailable Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	OrdersDryRun    Counter
	ProfitTakes     Counter
	Rolls           Counter
	LegsOpened      Counter
	SpotStreaming   Counter
	SpotSnapshot    Counter
	SpotHistorical  Counter
	SpotFailed      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// NewNoop returns counters that discard every increment.
func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Cycles:          n,
		CycleErrors:     n,
		DataUnavailable: n,
		OrdersPlaced:    n,
		OrdersFailed:    n,
		OrdersDryRun:    n,
		ProfitTakes:     n,
		Rolls:           n,
		LegsOpened:      n,
		SpotStreaming:   n,
		SpotSnapshot:    n,
		SpotHistorical:  n,
		SpotFailed:      n,
	}
}

// OrNoop returns m, or a noop set when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
