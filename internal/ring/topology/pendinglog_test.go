package topology

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestPendingLogEvictsOldestWhenFull(t *testing.T) {
	l := NewPendingLog(2)
	l.Append(PendingEntry{ID: uuid.New(), Version: 1})
	l.Append(PendingEntry{ID: uuid.New(), Version: 2})
	l.Append(PendingEntry{ID: uuid.New(), Version: 3})

	assert.Equal(t, l.Len(), 2)
	assert.Equal(t, l.Dropped(), uint64(1))
	entries := l.All()
	assert.Equal(t, entries[0].Version, uint64(2))
	assert.Equal(t, entries[1].Version, uint64(3))
}

func TestPendingLogSinceFiltersByVersion(t *testing.T) {
	l := NewPendingLog(8)
	l.Append(PendingEntry{ID: uuid.New(), Version: 1})
	l.Append(PendingEntry{ID: uuid.New(), Version: 2})
	l.Append(PendingEntry{ID: uuid.New(), Version: 3})

	entries := l.Since(1)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].Version, uint64(2))
}

func TestPendingLogDiscardRemovesByMessageID(t *testing.T) {
	l := NewPendingLog(8)
	id := uuid.New()
	l.Append(PendingEntry{ID: id, Version: 1})
	l.Append(PendingEntry{ID: uuid.New(), Version: 2})

	assert.Assert(t, l.Discard(id))
	assert.Equal(t, l.Len(), 1)
	assert.Assert(t, !l.Discard(id))
}
