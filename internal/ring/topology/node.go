// Package topology holds the ring's shared state: node identity, the
// immutable topology snapshot, the monotonic topology version, and the
// bounded pending-message log used to replay ensure-delivery messages
// after a ring skip.
package topology

import "github.com/google/uuid"

// Version is the distributed version of a node's product, used for the
// join-time compatibility check.
type Version struct {
	Major int
	Minor int
	Maint int
	Build string // optional build stamp
}

// Node is a cluster participant. Nodes are totally ordered by Order; the
// node with the smallest Order among the live set is the coordinator.
type Node struct {
	ID            uuid.UUID
	Attrs         map[string]any
	InternalAddrs []string
	ExternalAddrs []string
	DiscoveryPort int // 0 for client nodes
	Ver           Version
	Order         uint64 // coordinator's sequence number; 1 for the node that founded the ring
	Client        bool
	Local         bool
}

// ExtAddrsAttrKey is the recognized node attribute carrying externally
// resolved socket addresses.
const ExtAddrsAttrKey = "disc.tcp.ext-addrs"

func (n Node) String() string {
	return n.ID.String()
}

// Clone returns a deep-enough copy of n suitable for storing in an
// immutable snapshot: the Attrs map and address slices are copied so a
// caller can't mutate a published snapshot through its own Node value.
func (n Node) Clone() Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	out.InternalAddrs = append([]string(nil), n.InternalAddrs...)
	out.ExternalAddrs = append([]string(nil), n.ExternalAddrs...)
	return out
}

// ByOrder sorts nodes by ascending Order, the ring's total order.
type ByOrder []Node

func (b ByOrder) Len() int           { return len(b) }
func (b ByOrder) Less(i, j int) bool { return b[i].Order < b[j].Order }
func (b ByOrder) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
