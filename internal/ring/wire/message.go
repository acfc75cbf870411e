// Package wire defines the ring's on-the-wire message set, the framed
// transport encoding, and the codec and receipt conventions the
// transport layer builds on.
package wire

import "github.com/google/uuid"

// Kind identifies one of the closed set of message variants the ring
// protocol exchanges. Unknown kinds are a decode error, never silently
// ignored.
type Kind string

const (
	KindJoinRequest       Kind = "JoinRequest"
	KindClientJoin        Kind = "ClientJoin"
	KindNodeAdded         Kind = "NodeAdded"
	KindNodeAddedFinished Kind = "NodeAddedFinished"
	KindNodeLeft          Kind = "NodeLeft"
	KindNodeFailed        Kind = "NodeFailed"
	KindNodeSuspected     Kind = "NodeSuspected"
	KindHeartbeat         Kind = "Heartbeat"
	KindStatusCheck       Kind = "StatusCheck"
	KindStatusCheckReply  Kind = "StatusCheckReply"
	KindCustomEvent       Kind = "CustomEvent"
	KindCustomEventAck    Kind = "CustomEventAck"
	KindMessageDiscard    Kind = "MessageDiscard"
)

// ensureDelivery is the static per-variant table deciding which kinds
// are retained in the pending-message log until explicitly discarded.
var ensureDelivery = map[Kind]bool{
	KindJoinRequest:       false,
	KindClientJoin:        false,
	KindNodeAdded:         true,
	KindNodeAddedFinished: true,
	KindNodeLeft:          true,
	KindNodeFailed:        true,
	KindNodeSuspected:     false,
	KindHeartbeat:         false,
	KindStatusCheck:       false,
	KindStatusCheckReply:  false,
	KindCustomEvent:       true,
	KindCustomEventAck:    true,
	KindMessageDiscard:    false,
}

// EnsureDelivery reports whether messages of kind k must be retained in
// the pending-message log until explicitly discarded.
func EnsureDelivery(k Kind) bool {
	return ensureDelivery[k]
}

// Known reports whether k is a recognized variant.
func Known(k Kind) bool {
	_, ok := ensureDelivery[k]
	return ok
}

// Envelope is the common header every message carries, regardless of
// variant. Payload holds the variant-specific body and is encoded by
// the configured Codec.
type Envelope struct {
	ID       uuid.UUID `json:"id"`
	Kind     Kind      `json:"kind"`
	Creator  uuid.UUID `json:"creator"`
	Verifier uuid.UUID `json:"verifier"`
	Version  uint64    `json:"version,omitempty"` // topology version this message produces, if any
	Payload  any       `json:"payload,omitempty"`
}

// EnsureDelivery reports whether e must be retained in the pending log.
func (e Envelope) EnsureDelivery() bool {
	return EnsureDelivery(e.Kind)
}

// JoinRequestPayload is carried by KindJoinRequest and KindClientJoin.
// LastVersion is set only on a ClientJoin reconnect, letting the router
// know the last topology version the client observed so nothing is
// silently skipped.
type JoinRequestPayload struct {
	NodeID        uuid.UUID      `json:"nodeId"`
	Attrs         map[string]any `json:"attrs,omitempty"`
	InternalAddrs []string       `json:"internalAddrs,omitempty"`
	ExternalAddrs []string       `json:"externalAddrs,omitempty"`
	DiscoveryPort int            `json:"discoveryPort"`
	VerMajor      int            `json:"verMajor"`
	VerMinor      int            `json:"verMinor"`
	VerMaint      int            `json:"verMaint"`
	VerBuild      string         `json:"verBuild,omitempty"`
	Client        bool           `json:"client"`
	Credential    []byte         `json:"credential,omitempty"`
	LastVersion   uint64         `json:"lastVersion,omitempty"`
}

// NodeEntry is one member of the topology carried inside NodeAdded, the
// full node description a joiner needs to install the membership it was
// admitted into.
type NodeEntry struct {
	NodeID        uuid.UUID      `json:"nodeId"`
	Attrs         map[string]any `json:"attrs,omitempty"`
	InternalAddrs []string       `json:"internalAddrs,omitempty"`
	ExternalAddrs []string       `json:"externalAddrs,omitempty"`
	DiscoveryPort int            `json:"discoveryPort"`
	Order         uint64         `json:"order"`
	Client        bool           `json:"client"`
}

// NodeAddedPayload is carried by KindNodeAdded. Topology is the
// complete membership after admission, so the joining node — whose
// local view is empty — installs the same snapshot every existing
// member holds").
type NodeAddedPayload struct {
	NewNode       JoinRequestPayload `json:"newNode"`
	Order         uint64             `json:"order"`
	Topology      []NodeEntry        `json:"topology"`
	DiscoveryData map[string]any     `json:"discoveryData,omitempty"`
}

// NodeAddedFinishedPayload is carried by KindNodeAddedFinished.
type NodeAddedFinishedPayload struct {
	NodeID uuid.UUID `json:"nodeId"`
}

// NodeLeftPayload is carried by KindNodeLeft.
type NodeLeftPayload struct {
	NodeID uuid.UUID `json:"nodeId"`
}

// NodeFailedPayload is carried by KindNodeFailed.
type NodeFailedPayload struct {
	NodeID uuid.UUID `json:"nodeId"`
	Forced bool      `json:"forced"`
}

// NodeSuspectedPayload is carried by KindNodeSuspected: a non-coordinator
// detector's report of an apparently-failed peer, routed around the
// ring to the coordinator for authoritative NodeFailed emission.
type NodeSuspectedPayload struct {
	NodeID uuid.UUID `json:"nodeId"`
	Forced bool      `json:"forced"`
}

// HeartbeatPayload is carried by KindHeartbeat. Metrics accumulates one
// entry per node the heartbeat has passed through.
type HeartbeatPayload struct {
	SenderID uuid.UUID                `json:"senderId"`
	Metrics  map[uuid.UUID]NodeMetric `json:"metrics"`
}

// NodeMetric is the per-node metric snapshot attached to a heartbeat as
// it circulates the ring.
type NodeMetric struct {
	QueueDepth int     `json:"queueDepth"`
	LoadAvg    float64 `json:"loadAvg"`
}

// StatusCheckPayload is carried by KindStatusCheck and KindStatusCheckReply.
type StatusCheckPayload struct {
	TargetID uuid.UUID `json:"targetId"`
}

// CustomEventPayload is carried by KindCustomEvent and KindCustomEventAck.
type CustomEventPayload struct {
	Body []byte `json:"body"`
}

// MessageDiscardPayload is carried by KindMessageDiscard, trimming the
// referenced id from every node's pending log as it circulates.
type MessageDiscardPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}
