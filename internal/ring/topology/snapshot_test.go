package topology

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func mkNode(order uint64) Node {
	return Node{ID: uuid.New(), Order: order}
}

func TestSnapshotCoordinatorIsSmallestOrder(t *testing.T) {
	a, b, c := mkNode(3), mkNode(1), mkNode(2)
	snap := newSnapshot(1, []Node{a, b, c})

	coord, ok := snap.Coordinator()
	assert.Assert(t, ok)
	assert.Equal(t, coord.ID, b.ID)
}

func TestSnapshotNextWraps(t *testing.T) {
	a, b, c := mkNode(1), mkNode(2), mkNode(3)
	snap := newSnapshot(1, []Node{a, b, c})

	n, ok := snap.Next(c.ID)
	assert.Assert(t, ok)
	assert.Equal(t, n.ID, a.ID)
}

func TestSnapshotNextSkipsClientNodes(t *testing.T) {
	a, c := mkNode(1), mkNode(3)
	client := Node{ID: uuid.New(), Order: 2, Client: true}
	snap := newSnapshot(1, []Node{a, client, c})

	n, ok := snap.Next(a.ID)
	assert.Assert(t, ok)
	assert.Equal(t, n.ID, c.ID)
}

func TestSnapshotCoordinatorNeverClient(t *testing.T) {
	client := Node{ID: uuid.New(), Order: 1, Client: true}
	b := mkNode(2)
	snap := newSnapshot(1, []Node{client, b})

	coord, ok := snap.Coordinator()
	assert.Assert(t, ok)
	assert.Equal(t, coord.ID, b.ID)
}

func TestSnapshotCoordinatorExcluding(t *testing.T) {
	a, b := mkNode(1), mkNode(2)
	snap := newSnapshot(1, []Node{a, b})

	coord, ok := snap.CoordinatorExcluding(a.ID)
	assert.Assert(t, ok)
	assert.Equal(t, coord.ID, b.ID)
}

func TestSnapshotWithAddedBumpsVersion(t *testing.T) {
	a := mkNode(1)
	snap := newSnapshot(5, []Node{a})
	added := mkNode(2)

	next := snap.WithAdded(added)
	assert.Equal(t, next.Version, uint64(6))
	assert.Assert(t, next.Live(added.ID))
	assert.Assert(t, next.Live(a.ID))
}

func TestSnapshotWithRemoved(t *testing.T) {
	a, b := mkNode(1), mkNode(2)
	snap := newSnapshot(1, []Node{a, b})

	next := snap.WithRemoved(a.ID)
	assert.Equal(t, next.Version, uint64(2))
	assert.Assert(t, !next.Live(a.ID))
	assert.Assert(t, next.Live(b.ID))
}

func TestEmptySnapshotHasNoCoordinator(t *testing.T) {
	_, ok := Empty.Coordinator()
	assert.Assert(t, !ok)
}

func TestCloneIsIndependent(t *testing.T) {
	n := Node{ID: uuid.New(), Attrs: map[string]any{"k": "v"}, InternalAddrs: []string{"10.0.0.1:7000"}}
	c := n.Clone()
	c.Attrs["k"] = "changed"
	c.InternalAddrs[0] = "mutated"

	assert.Equal(t, n.Attrs["k"], "v")
	assert.Equal(t, n.InternalAddrs[0], "10.0.0.1:7000")
}
