// Package events defines the DiscoveryListener sink the core notifies
// as membership and custom events are applied.
package events

import (
	"github.com/google/uuid"

	"ringmesh/internal/ring/topology"
)

// Kind names one of the events a DiscoveryListener receives.
type Kind string

const (
	NodeJoined   Kind = "EVT_NODE_JOINED"
	NodeLeft     Kind = "EVT_NODE_LEFT"
	NodeFailed   Kind = "EVT_NODE_FAILED"
	CustomEvent  Kind = "EVT_CUSTOM_EVENT"
	Segmented    Kind = "EVT_NODE_SEGMENTED"
	Disconnected Kind = "EVT_CLIENT_DISCONNECTED"
)

// Event is a single notification delivered to a DiscoveryListener.
type Event struct {
	Kind     Kind
	Node     uuid.UUID // the subject node, for NodeJoined/NodeLeft/NodeFailed
	Snapshot topology.Snapshot
	Payload  []byte // opaque body, for CustomEvent
}

// Listener receives every event in the order the message worker applied
// it; implementations must not block.
type Listener interface {
	OnDiscoveryEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnDiscoveryEvent implements Listener.
func (f ListenerFunc) OnDiscoveryEvent(e Event) { f(e) }
