package transport

import (
	"github.com/google/uuid"

	"ringmesh/internal/ring/topology"
)

// SnapshotResolver implements NeighborResolver against a topology
// Broker's current snapshot, dialing a node's first internal address.
type SnapshotResolver struct {
	selfID uuid.UUID
	broker *topology.Broker
}

var _ NeighborResolver = (*SnapshotResolver)(nil)

// NewSnapshotResolver returns a resolver for selfID over broker.
func NewSnapshotResolver(selfID uuid.UUID, broker *topology.Broker) *SnapshotResolver {
	return &SnapshotResolver{selfID: selfID, broker: broker}
}

func addrOf(n topology.Node) (string, bool) {
	if len(n.InternalAddrs) == 0 {
		return "", false
	}
	return n.InternalAddrs[0], true
}

// NextNeighbor implements NeighborResolver.
func (r *SnapshotResolver) NextNeighbor() (uuid.UUID, string, bool) {
	snap := r.broker.Current()
	next, ok := snap.Next(r.selfID)
	if !ok {
		return uuid.UUID{}, "", false
	}
	addr, ok := addrOf(next)
	if !ok {
		return uuid.UUID{}, "", false
	}
	return next.ID, addr, true
}

// NeighborAfterNext implements NeighborResolver: the successor of the
// suspected node, unless that wraps all the way back to the local node
// (a two-member ring has nobody left to skip to).
func (r *SnapshotResolver) NeighborAfterNext(skip uuid.UUID) (uuid.UUID, string, bool) {
	snap := r.broker.Current()
	next, ok := snap.Next(skip)
	if !ok || next.ID == r.selfID {
		return uuid.UUID{}, "", false
	}
	addr, ok := addrOf(next)
	if !ok {
		return uuid.UUID{}, "", false
	}
	return next.ID, addr, true
}
