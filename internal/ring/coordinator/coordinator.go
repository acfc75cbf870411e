// Package coordinator implements the join protocol: admission of new
// nodes, monotonic topology versioning, node-added broadcast, and
// custom-event sequencing.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ringmesh/internal/ring/auth"
	"ringmesh/internal/ring/events"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/transport"
	"ringmesh/internal/ring/wire"
)

// Coordinator applies the join protocol's semantics on the message
// worker goroutine. It is a transport.Handler for the subset of kinds
// it understands and forwards the rest untouched, so one handler chain
// can compose coordinator, failure-detector, and client-router
// handling.
type Coordinator struct {
	selfID  uuid.UUID
	version topology.Version

	broker  *topology.Broker
	auth    auth.Authenticator
	tracer  trace.Tracer
	emit    events.Listener
	forward *forwardFn

	// nextOrder is the coordinator's admission sequence. It only grows,
	// even across removals of the highest-order member, so no two
	// admissions ever share an order. Read and written exclusively on
	// the message worker goroutine.
	nextOrder uint64
}

// forwardFn lets the coordinator emit a freshly-built envelope back
// into the ring without holding a transport.Writer directly (the
// coordinator uses only transport's Handler and Decision types, and
// transport never imports coordinator).
type forwardFn func(ctx context.Context, env wire.Envelope) error

// New returns a Coordinator for selfID seeded with the broker's current
// snapshot, version triple, and a function to emit envelopes.
func New(selfID uuid.UUID, ver topology.Version, broker *topology.Broker, authn auth.Authenticator, tracer trace.Tracer, emit events.Listener, forward func(ctx context.Context, env wire.Envelope) error) *Coordinator {
	f := forwardFn(forward)
	return &Coordinator{
		selfID:  selfID,
		version: ver,
		broker:  broker,
		auth:    authn,
		tracer:  tracer,
		emit:    emit,
		forward: &f,
	}
}

var _ transport.Handler = (*Coordinator)(nil)

// Handle implements transport.Handler for coordinator-owned kinds.
func (c *Coordinator) Handle(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	switch env.Kind {
	case wire.KindJoinRequest:
		return c.handleJoinRequest(ctx, env)
	case wire.KindClientJoin:
		return c.handleClientJoin(ctx, env)
	case wire.KindNodeAdded:
		return c.handleNodeAdded(ctx, env)
	case wire.KindNodeAddedFinished:
		return c.handleNodeAddedFinished(ctx, env)
	case wire.KindCustomEvent:
		return c.handleCustomEvent(ctx, env)
	case wire.KindCustomEventAck:
		return c.handleCustomEventAck(ctx, env)
	case wire.KindNodeLeft, wire.KindNodeFailed:
		return c.handleMembershipRemoval(ctx, env)
	case wire.KindNodeSuspected:
		return c.handleNodeSuspected(ctx, env)
	default:
		return transport.Decision{Forward: true}, nil
	}
}

// IsCoordinator reports whether selfID currently holds the coordinator
// role: the smallest-order node in the live snapshot.
func (c *Coordinator) IsCoordinator() bool {
	return c.broker.Current().IsCoordinator(c.selfID)
}

// IsCoordinatorExcluding reports whether selfID would hold the
// coordinator role if exclude were removed from the live set — the rule
// that breaks the deadlock when the failed node is the coordinator
// itself: its successor assumes the role the moment it must act on the
// predecessor's failure, no election required.
func (c *Coordinator) IsCoordinatorExcluding(exclude uuid.UUID) bool {
	coord, ok := c.broker.Current().CoordinatorExcluding(exclude)
	return ok && coord.ID == c.selfID
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// handleJoinRequest admits or rejects a JoinRequest. Only the
// coordinator applies admission rules; a non-coordinator simply
// forwards the request on toward the coordinator.
func (c *Coordinator) handleJoinRequest(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	if !c.IsCoordinator() {
		return transport.Decision{Forward: true}, nil
	}

	ctx, span := c.startSpan(ctx, "ring.coordinator.join_request")
	defer span.End()

	var payload wire.JoinRequestPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode join request: %w", err)
	}

	// DUPLICATE_ID covers any joiner presenting an id already live in the
	// current topology — including the coordinator's own id, which is
	// live in its own snapshot from the moment it starts, and any
	// previously-admitted node's id. An id that has since left or failed is
	// no longer live and may rejoin.
	snap := c.broker.Current()
	if snap.Live(payload.NodeID) {
		return transport.Decision{}, fmt.Errorf("coordinator: duplicate node id %s: %w", payload.NodeID, errDuplicateID)
	}

	if !c.auth.Authenticate(payload.NodeID, payload.Credential) {
		return transport.Decision{}, fmt.Errorf("coordinator: authentication failed for %s: %w", payload.NodeID, errAuthFailed)
	}

	if payload.VerMajor != c.version.Major {
		return transport.Decision{}, fmt.Errorf("coordinator: incompatible version %d.%d.%d from %s: %w",
			payload.VerMajor, payload.VerMinor, payload.VerMaint, payload.NodeID, errVersionIncompatible)
	}

	if c.nextOrder <= snap.MaxOrder() {
		c.nextOrder = snap.MaxOrder() + 1
	}
	order := c.nextOrder
	c.nextOrder++

	newNode := topology.Node{
		ID:            payload.NodeID,
		Attrs:         payload.Attrs,
		InternalAddrs: payload.InternalAddrs,
		ExternalAddrs: payload.ExternalAddrs,
		DiscoveryPort: payload.DiscoveryPort,
		Ver:           topology.Version{Major: payload.VerMajor, Minor: payload.VerMinor, Maint: payload.VerMaint, Build: payload.VerBuild},
		Order:         order,
		Client:        payload.Client,
	}

	next := snap.WithAdded(newNode)
	c.broker.Publish(next)

	entries := make([]wire.NodeEntry, len(next.Nodes))
	for i, n := range next.Nodes {
		entries[i] = wire.NodeEntry{
			NodeID:        n.ID,
			Attrs:         n.Attrs,
			InternalAddrs: n.InternalAddrs,
			ExternalAddrs: n.ExternalAddrs,
			DiscoveryPort: n.DiscoveryPort,
			Order:         n.Order,
			Client:        n.Client,
		}
	}

	added := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeAdded,
		Creator: c.selfID,
		Version: next.Version,
		Payload: wire.NodeAddedPayload{
			NewNode:  payload,
			Order:    order,
			Topology: entries,
		},
	}
	if err := c.forwardEnvelope(ctx, added); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: emit NodeAdded: %w", err)
	}

	return transport.Decision{Forward: false}, nil
}

// handleClientJoin accepts a client-mode attachment directly from the
// client's own socket: it is never relayed around the ring under the
// ClientJoin kind itself. Instead the router that terminates the
// client's connection converts it into a fresh JoinRequest and injects
// it into the ring exactly as sendCustomEvent injects a custom event,
// then asks the worker to keep item.conn open as that client's push
// target.
func (c *Coordinator) handleClientJoin(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.JoinRequestPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode ClientJoin: %w", err)
	}
	payload.Client = true

	// A reconnect carries the client's last observed version and an id
	// already live in the topology; re-admitting it would be rejected as
	// DUPLICATE_ID, so it only needs its push target re-registered. The
	// reported version lets the router replay missed ensure-delivery
	// messages from its pending log.
	if payload.LastVersion > 0 && c.broker.Current().Live(payload.NodeID) {
		return transport.Decision{Forward: false, RegisterClient: payload.NodeID, ClientLastVersion: payload.LastVersion}, nil
	}

	req := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindJoinRequest,
		Creator: payload.NodeID,
		Payload: payload,
	}
	if c.IsCoordinator() {
		// the router is the coordinator: admission needs no ring trip.
		if _, err := c.handleJoinRequest(ctx, req); err != nil {
			return transport.Decision{}, err
		}
	} else if err := c.forwardEnvelope(ctx, req); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: relay ClientJoin as JoinRequest for %s: %w", payload.NodeID, err)
	}
	return transport.Decision{Forward: false, RegisterClient: payload.NodeID}, nil
}

// handleNodeAdded installs the carried topology in pending-visible
// state. A joining node's local view is empty, so the full member list
// travels with the message; installation is idempotent under
// pending-log replay via the version guard. When the message circles
// back to its coordinator-creator, the coordinator emits the
// ensure-delivery finish message instead.
func (c *Coordinator) handleNodeAdded(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.NodeAddedPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode NodeAdded: %w", err)
	}

	if env.Creator == c.selfID {
		finished := wire.Envelope{
			ID:      uuid.New(),
			Kind:    wire.KindNodeAddedFinished,
			Creator: c.selfID,
			Version: env.Version,
			Payload: wire.NodeAddedFinishedPayload{NodeID: payload.NewNode.NodeID},
		}
		if err := c.forwardEnvelope(ctx, finished); err != nil {
			return transport.Decision{}, fmt.Errorf("coordinator: emit NodeAddedFinished: %w", err)
		}
		return transport.Decision{Forward: false}, nil
	}

	if env.Version > c.broker.Current().Version {
		nodes := make([]topology.Node, len(payload.Topology))
		for i, e := range payload.Topology {
			nodes[i] = topology.Node{
				ID:            e.NodeID,
				Attrs:         e.Attrs,
				InternalAddrs: e.InternalAddrs,
				ExternalAddrs: e.ExternalAddrs,
				DiscoveryPort: e.DiscoveryPort,
				Order:         e.Order,
				Client:        e.Client,
				Local:         e.NodeID == c.selfID,
			}
		}
		c.broker.Publish(topology.New(env.Version, nodes))
		if c.nextOrder <= payload.Order {
			c.nextOrder = payload.Order + 1
		}
	}
	return transport.Decision{Forward: true}, nil
}

// handleNodeAddedFinished promotes the new member to fully live and
// fires EVT_NODE_JOINED.
func (c *Coordinator) handleNodeAddedFinished(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.NodeAddedFinishedPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode NodeAddedFinished: %w", err)
	}

	if c.emit != nil {
		c.emit.OnDiscoveryEvent(events.Event{
			Kind:     events.NodeJoined,
			Node:     payload.NodeID,
			Snapshot: c.broker.Current(),
		})
	}
	return transport.Decision{Forward: true}, nil
}

// handleMembershipRemoval applies a NodeLeft or NodeFailed message,
// advancing the topology and firing the matching event.
func (c *Coordinator) handleMembershipRemoval(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	var id uuid.UUID
	kind := events.NodeLeft
	if env.Kind == wire.KindNodeFailed {
		var payload wire.NodeFailedPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			return transport.Decision{}, fmt.Errorf("coordinator: decode NodeFailed: %w", err)
		}
		id = payload.NodeID
		kind = events.NodeFailed
	} else {
		var payload wire.NodeLeftPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			return transport.Decision{}, fmt.Errorf("coordinator: decode NodeLeft: %w", err)
		}
		id = payload.NodeID
	}

	snap := c.broker.Current()
	if !snap.Live(id) {
		// already applied: the message circled back to its emitter, or a
		// pending-log replay delivered it twice.
		return transport.Decision{Forward: env.Creator != c.selfID}, nil
	}

	next := snap.WithRemoved(id)
	if env.Version > next.Version {
		next = next.WithVersion(env.Version)
	}
	c.broker.Publish(next)

	if c.emit != nil {
		c.emit.OnDiscoveryEvent(events.Event{Kind: kind, Node: id, Snapshot: c.broker.Current()})
	}
	return transport.Decision{Forward: true}, nil
}

// Leave emits the ensure-delivery NodeLeft for the local node, the
// graceful half of ring departure. The emitter applies it when the
// message circles back; callers shutting down immediately afterwards
// rely on the rest of the ring applying it hop by hop.
func (c *Coordinator) Leave(ctx context.Context) error {
	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeLeft,
		Creator: c.selfID,
		Version: c.broker.Current().Version + 1,
		Payload: wire.NodeLeftPayload{NodeID: c.selfID},
	}
	if err := c.forwardEnvelope(ctx, env); err != nil {
		return fmt.Errorf("coordinator: emit NodeLeft: %w", err)
	}
	return nil
}

// handleNodeSuspected applies a non-coordinator detector's suspicion
// report: a node that would not be coordinator even with the suspect
// excluded forwards it on toward the node that would be, the same
// routing JoinRequest uses to reach admission. The exclusion matters
// when the suspect is the current coordinator — its successor must be
// able to act, or nobody ever emits the authoritative NodeFailed.
func (c *Coordinator) handleNodeSuspected(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.NodeSuspectedPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode NodeSuspected: %w", err)
	}

	if !c.broker.Current().Live(payload.NodeID) {
		// already excised by an earlier report or a graceful leave.
		return transport.Decision{Forward: false}, nil
	}

	if !c.IsCoordinatorExcluding(payload.NodeID) {
		return transport.Decision{Forward: true}, nil
	}

	failed := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeFailed,
		Creator: c.selfID,
		Version: c.broker.Current().Version + 1,
		Payload: wire.NodeFailedPayload{NodeID: payload.NodeID, Forced: payload.Forced},
	}
	if err := c.forwardEnvelope(ctx, failed); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: emit NodeFailed for %s: %w", payload.NodeID, err)
	}
	return transport.Decision{Forward: false}, nil
}

// SendCustomEvent wraps payload in a CustomEvent message with
// ensure-delivery and hands it to the ring.
func (c *Coordinator) SendCustomEvent(ctx context.Context, payload []byte) error {
	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindCustomEvent,
		Creator: c.selfID,
		Payload: wire.CustomEventPayload{Body: payload},
	}
	return c.forwardEnvelope(ctx, env)
}

func (c *Coordinator) handleCustomEvent(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	if !c.IsCoordinator() {
		return transport.Decision{Forward: true}, nil
	}

	var payload wire.CustomEventPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode CustomEvent: %w", err)
	}

	next := c.broker.Current().WithVersionBump()
	c.broker.Publish(next)

	ack := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindCustomEventAck,
		Creator: c.selfID,
		Version: next.Version,
		Payload: payload,
	}
	if err := c.forwardEnvelope(ctx, ack); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: emit CustomEventAck: %w", err)
	}
	return transport.Decision{Forward: false}, nil
}

// handleCustomEventAck delivers the event to the local listener at its
// agreed position in the topology-version stream. The coordinator
// already advanced its own version when it re-emitted the ack; every
// other node advances here.
func (c *Coordinator) handleCustomEventAck(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.CustomEventPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("coordinator: decode CustomEventAck: %w", err)
	}

	if env.Version > c.broker.Current().Version {
		c.broker.Publish(c.broker.Current().WithVersion(env.Version))
	}
	if c.emit != nil {
		c.emit.OnDiscoveryEvent(events.Event{Kind: events.CustomEvent, Payload: payload.Body, Snapshot: c.broker.Current()})
	}
	return transport.Decision{Forward: true}, nil
}

func (c *Coordinator) forwardEnvelope(ctx context.Context, env wire.Envelope) error {
	return (*c.forward)(ctx, env)
}
