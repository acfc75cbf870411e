package topology

import (
	"sort"

	"github.com/google/uuid"
)

// Snapshot is the immutable set of live ring members at a given version.
// Once published it is never mutated; a new Snapshot replaces it.
// Readers hold a reference and never lock.
type Snapshot struct {
	Version uint64
	Nodes   []Node // sorted by Order ascending
}

// Empty is the zero-member snapshot at version 0, the state of a brand
// new coordinator before any join completes.
var Empty = Snapshot{Version: 0, Nodes: nil}

// newSnapshot builds a Snapshot from nodes, normalizing order.
func newSnapshot(version uint64, nodes []Node) Snapshot {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	sort.Sort(ByOrder(out))
	return Snapshot{Version: version, Nodes: out}
}

// Coordinator returns the smallest-order live server node, and false
// if the snapshot has no server members. Client nodes never hold the
// coordinator role: they occupy no ring position.
func (s Snapshot) Coordinator() (Node, bool) {
	for _, n := range s.Nodes {
		if !n.Client {
			return n, true
		}
	}
	return Node{}, false
}

// CoordinatorExcluding returns the node that would be coordinator if
// exclude were removed from the live set. The failure detector uses it
// to decide who emits the authoritative NodeFailed when the current
// coordinator is itself the suspect.
func (s Snapshot) CoordinatorExcluding(exclude uuid.UUID) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Client || n.ID == exclude {
			continue
		}
		return n, true
	}
	return Node{}, false
}

// IsCoordinator reports whether id is the coordinator in this snapshot.
func (s Snapshot) IsCoordinator(id uuid.UUID) bool {
	c, ok := s.Coordinator()
	return ok && c.ID == id
}

// Find returns the node with the given id, if present.
func (s Snapshot) Find(id uuid.UUID) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// servers returns the ring members in order, excluding client nodes,
// which hold no ring position.
func (s Snapshot) servers() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if !n.Client {
			out = append(out, n)
		}
	}
	return out
}

// Next returns the ring successor of id: the live server node with the
// next higher Order, wrapping to the smallest. Returns false if id is
// not a ring member or is the only one.
func (s Snapshot) Next(id uuid.UUID) (Node, bool) {
	ring := s.servers()
	if len(ring) < 2 {
		return Node{}, false
	}
	for i, n := range ring {
		if n.ID == id {
			return ring[(i+1)%len(ring)], true
		}
	}
	return Node{}, false
}

// WithAdded returns a new snapshot at version+1 containing node, used by
// the coordinator when applying NodeAdded.
func (s Snapshot) WithAdded(node Node) Snapshot {
	nodes := append([]Node(nil), s.Nodes...)
	nodes = append(nodes, node)
	return newSnapshot(s.Version+1, nodes)
}

// WithRemoved returns a new snapshot at version+1 without id, used when
// applying NodeLeft/NodeFailed.
func (s Snapshot) WithRemoved(id uuid.UUID) Snapshot {
	nodes := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	return newSnapshot(s.Version+1, nodes)
}

// WithVersionBump returns a copy of s with the version advanced by one
// and the same membership — used for custom events, which advance the
// topology-version stream without changing membership.
func (s Snapshot) WithVersionBump() Snapshot {
	return newSnapshot(s.Version+1, s.Nodes)
}

// WithVersion returns a copy of s stamped with the given version. Used
// when a message carries the coordinator's authoritative version, which
// takes precedence over the locally computed increment.
func (s Snapshot) WithVersion(version uint64) Snapshot {
	out := s
	out.Version = version
	return out
}

// New builds a Snapshot at version from a full member list, normalizing
// order — the form a joining node installs from NodeAdded's carried
// topology.
func New(version uint64, nodes []Node) Snapshot {
	return newSnapshot(version, nodes)
}

// MaxOrder returns the highest Order among all members, 0 if empty.
func (s Snapshot) MaxOrder() uint64 {
	var max uint64
	for _, n := range s.Nodes {
		if n.Order > max {
			max = n.Order
		}
	}
	return max
}

// Live reports whether id is a current member.
func (s Snapshot) Live(id uuid.UUID) bool {
	_, ok := s.Find(id)
	return ok
}
