package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/transport"
	"ringmesh/internal/ring/wire"
)

// clientRouter tracks locally-attached client-mode connections and
// pushes the topology and custom-event traffic they cannot observe by
// ring-forwarding, since a client is not itself a ring member.
type clientRouter struct {
	selfID  uuid.UUID
	codec   wire.Codec
	pending *topology.PendingLog
	broker  *topology.Broker
	log     *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*attachedClient
}

// attachedClient serializes writes to one client socket: pushes arrive
// from both the message worker and the heartbeat timer.
type attachedClient struct {
	wmu      sync.Mutex
	conn     *iogateway.Conn
	lastBeat time.Time
}

func (c *attachedClient) write(codec wire.Codec, env wire.Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.WriteMessage(c.conn, codec, env)
}

func newClientRouter(selfID uuid.UUID, codec wire.Codec, pending *topology.PendingLog, broker *topology.Broker) *clientRouter {
	return &clientRouter{
		selfID:  selfID,
		codec:   codec,
		pending: pending,
		broker:  broker,
		log:     slog.Default().With("component", "ring.discovery.clients"),
		clients: make(map[uuid.UUID]*attachedClient),
	}
}

var _ transport.Handler = (*clientRouter)(nil)

// Register attaches conn as the push target for id's future topology
// and custom-event traffic, called by the worker when a Handler's
// Decision asks for it. A reconnecting client reports the last topology
// version it observed; every newer ensure-delivery message still in the
// pending log is replayed down the fresh socket before live traffic so
// the client fast-forwards with no gap.
func (r *clientRouter) Register(id uuid.UUID, lastVersion uint64, conn *iogateway.Conn) {
	ac := &attachedClient{conn: conn, lastBeat: time.Now()}
	r.mu.Lock()
	r.clients[id] = ac
	r.mu.Unlock()

	if lastVersion > 0 && r.pending != nil {
		for _, entry := range r.pending.Since(lastVersion) {
			env, ok := entry.Payload.(wire.Envelope)
			if !ok {
				continue
			}
			if err := ac.write(r.codec, env); err != nil {
				r.log.Warn("pending replay to client failed", "id", id, "err", err)
				break
			}
		}
	}
	r.pushSnapshot(id, ac)

	// A fresh attach whose admission already completed locally (the
	// router is a single-server ring and applied the whole join inline)
	// would otherwise never see its own finish message: it was not yet
	// registered when the broadcast ran.
	if lastVersion == 0 && r.broker.Current().Live(id) {
		finished := wire.Envelope{
			ID:      uuid.New(),
			Kind:    wire.KindNodeAddedFinished,
			Creator: r.selfID,
			Version: r.broker.Current().Version,
			Payload: wire.NodeAddedFinishedPayload{NodeID: id},
		}
		if err := ac.write(r.codec, finished); err != nil {
			r.log.Warn("finish push to client failed", "id", id, "err", err)
		}
	}
	r.log.Debug("client attached", "id", id, "lastVersion", lastVersion)
}

// pushSnapshot sends the router's current topology down a freshly
// registered client connection so the client starts (or resumes) from
// an authoritative view even when the pending log no longer holds every
// missed event. The client's version guard makes it a no-op if the
// replay above already brought it current.
func (r *clientRouter) pushSnapshot(id uuid.UUID, ac *attachedClient) {
	snap := r.broker.Current()
	if snap.Version == 0 {
		return
	}
	entries := make([]wire.NodeEntry, len(snap.Nodes))
	for i, n := range snap.Nodes {
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
	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeAdded,
		Creator: r.selfID,
		Version: snap.Version,
		Payload: wire.NodeAddedPayload{Topology: entries},
	}
	if err := ac.write(r.codec, env); err != nil {
		r.log.Warn("snapshot push to client failed", "id", id, "err", err)
	}
}

func (r *clientRouter) unregister(id uuid.UUID) {
	r.mu.Lock()
	if c, ok := r.clients[id]; ok {
		_ = c.conn.Close()
		delete(r.clients, id)
	}
	r.mu.Unlock()
}

// Stale returns the attached clients whose last heartbeat is older than
// budget, the router-side half of the separately configured client
// heartbeat budget.
func (r *clientRouter) Stale(budget time.Duration) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, c := range r.clients {
		if time.Since(c.lastBeat) > budget {
			out = append(out, id)
		}
	}
	return out
}

// Handle pushes ring traffic attached clients need down their sockets:
// the full ensure-delivery topology stream, custom-event acks, and
// passing ring heartbeats (how a client learns its router is alive). A
// heartbeat created by one of our own clients is absorbed here — the
// client holds no ring position, so its heartbeat has no circuit to
// complete — and refreshes that client's liveness record.
func (r *clientRouter) Handle(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	fromClient := r.recordClientBeat(env.Creator)

	switch env.Kind {
	case wire.KindHeartbeat:
		if fromClient {
			return transport.Decision{Forward: false, OmitReceipt: true}, nil
		}
		r.broadcast(env)
	case wire.KindNodeAdded, wire.KindNodeAddedFinished, wire.KindCustomEventAck:
		r.broadcast(env)
	case wire.KindNodeLeft, wire.KindNodeFailed:
		r.broadcast(env)
		if id := membershipTarget(env); id != uuid.Nil {
			r.unregister(id)
		}
	}

	// Anything else a registered client injected (a custom event, a
	// forced-failure report) rides into the ring like any other message,
	// but without a receipt: the client socket is a framed push channel
	// past the join handshake. A re-sent ClientJoin is the one exception
	// — the reconnecting client is blocked on that receipt even if a
	// stale registration under its id survives from the dropped socket.
	return transport.Decision{Forward: true, OmitReceipt: fromClient && env.Kind != wire.KindClientJoin}, nil
}

// recordClientBeat refreshes the liveness record for creator, reporting
// whether creator is one of our attached clients.
func (r *clientRouter) recordClientBeat(creator uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[creator]
	if ok {
		c.lastBeat = time.Now()
	}
	return ok
}

func (r *clientRouter) broadcast(env wire.Envelope) {
	r.mu.Lock()
	targets := make(map[uuid.UUID]*attachedClient, len(r.clients))
	for id, c := range r.clients {
		targets[id] = c
	}
	r.mu.Unlock()
	for id, ac := range targets {
		if err := ac.write(r.codec, env); err != nil {
			r.log.Warn("client push failed", "client", id, "kind", env.Kind, "err", err)
		}
	}
}

func membershipTarget(env wire.Envelope) uuid.UUID {
	switch env.Kind {
	case wire.KindNodeLeft:
		var payload wire.NodeLeftPayload
		if err := wire.DecodePayload(env, &payload); err == nil {
			return payload.NodeID
		}
	case wire.KindNodeFailed:
		var payload wire.NodeFailedPayload
		if err := wire.DecodePayload(env, &payload); err == nil {
			return payload.NodeID
		}
	}
	return uuid.Nil
}
