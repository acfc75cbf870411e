package topology

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestBrokerSubscribeReceivesCurrent(t *testing.T) {
	b := NewBroker()
	snap := newSnapshot(1, []Node{mkNode(1)})
	b.Publish(snap)

	var got Snapshot
	b.Subscribe(func(s Snapshot) { got = s })

	assert.Equal(t, got.Version, snap.Version)
}

func TestBrokerPublishNotifiesAllListeners(t *testing.T) {
	b := NewBroker()
	var calls int
	b.Subscribe(func(Snapshot) { calls++ })
	b.Subscribe(func(Snapshot) { calls++ })

	b.Publish(newSnapshot(1, nil))

	// each listener is called once on subscribe and once on publish
	assert.Equal(t, calls, 4)
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	var calls int
	unsub := b.Subscribe(func(Snapshot) { calls++ })
	unsub()

	b.Publish(newSnapshot(1, nil))

	assert.Equal(t, calls, 1)
}

func TestPendingLogEvictsOldest(t *testing.T) {
	log := NewPendingLog(2)
	log.Append(PendingEntry{Version: 1})
	log.Append(PendingEntry{Version: 2})
	log.Append(PendingEntry{Version: 3})

	assert.Equal(t, log.Len(), 2)
	assert.Equal(t, log.Dropped(), uint64(1))

	entries := log.Since(0)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].Version, uint64(2))
}

func TestPendingLogSinceFiltersByVersionBroker(t *testing.T) {
	log := NewPendingLog(10)
	log.Append(PendingEntry{Version: 1})
	log.Append(PendingEntry{Version: 2})
	log.Append(PendingEntry{Version: 3})

	entries := log.Since(1)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].Version, uint64(2))
	assert.Equal(t, entries[1].Version, uint64(3))
}
