// Package metrics provides the pluggable Metrics sink the core reports
// counters and gauges to.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Sink receives counter and gauge updates from the ring core. All
// methods must be safe for concurrent use; implementations should not
// block.
type Sink interface {
	IncCounter(name string, delta int64)
	SetGauge(name string, value int64)
}

// Noop discards every update, the default when no sink is configured.
type Noop struct{}

var _ Sink = Noop{}

func (Noop) IncCounter(string, int64) {}
func (Noop) SetGauge(string, int64)   {}

// InMemory accumulates counters and gauges in process memory, for tests
// and other in-process inspection.
type InMemory struct {
	counters sync.Map
	gauges   sync.Map
}

var _ Sink = (*InMemory)(nil)

// IncCounter adds delta to the named counter.
func (m *InMemory) IncCounter(name string, delta int64) {
	v, _ := m.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// SetGauge sets the named gauge to value.
func (m *InMemory) SetGauge(name string, value int64) {
	v, _ := m.gauges.LoadOrStore(name, new(int64))
	atomic.StoreInt64(v.(*int64), value)
}

// Counter returns the current value of the named counter.
func (m *InMemory) Counter(name string) int64 {
	v, ok := m.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// Gauge returns the current value of the named gauge.
func (m *InMemory) Gauge(name string) int64 {
	v, ok := m.gauges.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}
