package metrics

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestInMemoryCounter(t *testing.T) {
	m := &InMemory{}
	m.IncCounter("ring.heartbeat.sent", 1)
	m.IncCounter("ring.heartbeat.sent", 2)
	assert.Equal(t, m.Counter("ring.heartbeat.sent"), int64(3))
}

func TestInMemoryGauge(t *testing.T) {
	m := &InMemory{}
	m.SetGauge("ring.worker.queue_depth", 5)
	m.SetGauge("ring.worker.queue_depth", 7)
	assert.Equal(t, m.Gauge("ring.worker.queue_depth"), int64(7))
}

func TestInMemoryUnknownKeyIsZero(t *testing.T) {
	m := &InMemory{}
	assert.Equal(t, m.Counter("missing"), int64(0))
	assert.Equal(t, m.Gauge("missing"), int64(0))
}
