// Package clientmode implements the non-ring client attachment: a
// single socket to a router node, topology/event receipt, and
// reconnect-with-replay on router failure.
package clientmode

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/events"
	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

// State names the client's connection lifecycle, mirroring the ring
// node state names.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// Config holds the client's reconnect and heartbeat budget.
type Config struct {
	NetworkTimeout time.Duration
	ReconnectCount int
	HeartbeatEvery time.Duration

	// MaxMissedHeartbeats is the client's own heartbeat budget: ring
	// heartbeats reach the client through its router, and missing them
	// for longer than MaxMissedHeartbeats x HeartbeatEvery means the
	// router is gone even if the socket has not errored yet.
	MaxMissedHeartbeats int

	// Credential is presented with ClientJoin for the coordinator's
	// NodeAuthenticator check.
	Credential []byte
}

// Client maintains the single router socket a non-ring participant
// uses for all discovery traffic.
type Client struct {
	selfID  uuid.UUID
	cfg     Config
	dialCfg iogateway.Config
	codec   wire.Codec
	book    *addressbook.Book
	emit    events.Listener
	broker  *topology.Broker
	log     *slog.Logger

	mu          sync.Mutex
	state       State
	conn        *iogateway.Conn
	lastVersion uint64
	lastBeat    time.Time
}

// New returns a Client for selfID attaching through peers resolved by book.
func New(selfID uuid.UUID, cfg Config, dialCfg iogateway.Config, codec wire.Codec, book *addressbook.Book, emit events.Listener, broker *topology.Broker) *Client {
	return &Client{
		selfID:  selfID,
		cfg:     cfg,
		dialCfg: dialCfg,
		codec:   codec,
		book:    book,
		emit:    emit,
		broker:  broker,
		log:     slog.Default().With("component", "ring.clientmode"),
		state:   StateConnecting,
	}
}

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the topology last replicated from the router.
func (c *Client) Snapshot() topology.Snapshot {
	return c.broker.Current()
}

// Connect selects a random router from the address book, issues
// ClientJoin, and blocks until it is accepted or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	addrs, err := c.book.ResolvedAddresses(ctx)
	if err != nil {
		return fmt.Errorf("clientmode: resolve routers: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("clientmode: no routers available")
	}
	router := addrs[rand.IntN(len(addrs))]

	conn, err := iogateway.Dial(ctx, router, c.dialCfg)
	if err != nil {
		return fmt.Errorf("clientmode: dial router %s: %w", router, err)
	}

	c.mu.Lock()
	lastVersion := c.lastVersion
	c.mu.Unlock()

	join := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindClientJoin,
		Creator: c.selfID,
		Payload: wire.JoinRequestPayload{NodeID: c.selfID, Client: true, Credential: c.cfg.Credential, LastVersion: lastVersion},
	}
	if err := wire.WriteMessage(conn, c.codec, join); err != nil {
		_ = conn.Close()
		return fmt.Errorf("clientmode: send ClientJoin: %w", err)
	}

	// the join receipt is the only read on this socket with its own
	// deadline; afterwards it becomes an open-ended push stream.
	if c.cfg.NetworkTimeout > 0 {
		_ = conn.Raw().SetReadDeadline(time.Now().Add(c.cfg.NetworkTimeout))
	}
	receipt, err := wire.ReadReceipt(conn)
	_ = conn.Raw().SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("clientmode: read join receipt: %w", err)
	}
	if receipt != wire.ReceiptOK {
		_ = conn.Close()
		return fmt.Errorf("clientmode: router rejected join with receipt %s", receipt)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.lastBeat = time.Now()
	c.mu.Unlock()
	return nil
}

// Run reads topology and custom events from the router connection until
// ctx is done or the router drops the connection, in which case it
// reconnects and replays from the last known topology version.
// Alongside the read loop it emits the client's own heartbeat every
// HeartbeatEvery and force-drops the router once ring heartbeats stop
// arriving past the missed budget.
func (c *Client) Run(ctx context.Context) error {
	hbCtx, hbStop := context.WithCancel(ctx)
	defer hbStop()
	go c.runHeartbeats(hbCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !c.reconnect(ctx) {
				c.mu.Lock()
				c.state = StateDisconnected
				c.mu.Unlock()
				if c.emit != nil {
					c.emit.OnDiscoveryEvent(events.Event{Kind: events.Disconnected, Node: c.selfID})
				}
				return fmt.Errorf("clientmode: reconnect budget exhausted: %w", err)
			}
		}
	}
}

// runHeartbeats emits the client's heartbeat through the router socket
// on every tick and watches the inbound heartbeat deadline; a silent
// router is closed so the read loop trips into reconnect.
func (c *Client) runHeartbeats(ctx context.Context) {
	if c.cfg.HeartbeatEvery <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				c.log.Debug("send heartbeat failed", "err", err)
			}
			if c.cfg.MaxMissedHeartbeats <= 0 {
				continue
			}
			budget := time.Duration(c.cfg.MaxMissedHeartbeats) * c.cfg.HeartbeatEvery
			c.mu.Lock()
			silent := c.state == StateConnected && time.Since(c.lastBeat) > budget
			conn := c.conn
			c.mu.Unlock()
			if silent && conn != nil {
				c.log.Warn("router heartbeat deadline exceeded, dropping connection")
				_ = conn.Close()
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("clientmode: not connected")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := wire.ReadMessage(conn, c.codec)
		if err != nil {
			return err
		}
		c.apply(env)
	}
}

// apply installs one router-pushed envelope into the client's local
// view. The router pushes the same ensure-delivery stream ring members
// see, so the client's snapshot versions advance in lockstep with the
// ring's.
func (c *Client) apply(env wire.Envelope) {
	switch env.Kind {
	case wire.KindHeartbeat:
		c.mu.Lock()
		c.lastBeat = time.Now()
		c.mu.Unlock()

	case wire.KindNodeAdded:
		var payload wire.NodeAddedPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			c.log.Warn("malformed NodeAdded from router", "err", err)
			return
		}
		if env.Version <= c.broker.Current().Version {
			return
		}
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
		c.setLastVersion(env.Version)

	case wire.KindNodeAddedFinished:
		var payload wire.NodeAddedFinishedPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			return
		}
		if c.emit != nil {
			c.emit.OnDiscoveryEvent(events.Event{Kind: events.NodeJoined, Node: payload.NodeID, Snapshot: c.broker.Current()})
		}

	case wire.KindNodeLeft, wire.KindNodeFailed:
		id, kind := removalSubject(env)
		if id == uuid.Nil {
			return
		}
		snap := c.broker.Current()
		if !snap.Live(id) {
			return
		}
		next := snap.WithRemoved(id)
		if env.Version > next.Version {
			next = next.WithVersion(env.Version)
		}
		c.broker.Publish(next)
		c.setLastVersion(next.Version)
		if c.emit != nil {
			c.emit.OnDiscoveryEvent(events.Event{Kind: kind, Node: id, Snapshot: c.broker.Current()})
		}

	case wire.KindCustomEventAck:
		var payload wire.CustomEventPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			return
		}
		if env.Version > c.broker.Current().Version {
			c.broker.Publish(c.broker.Current().WithVersion(env.Version))
			c.setLastVersion(env.Version)
		}
		if c.emit != nil {
			c.emit.OnDiscoveryEvent(events.Event{Kind: events.CustomEvent, Payload: payload.Body, Snapshot: c.broker.Current()})
		}
	}
}

func (c *Client) setLastVersion(v uint64) {
	c.mu.Lock()
	if v > c.lastVersion {
		c.lastVersion = v
	}
	c.mu.Unlock()
}

func removalSubject(env wire.Envelope) (uuid.UUID, events.Kind) {
	if env.Kind == wire.KindNodeFailed {
		var payload wire.NodeFailedPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			return uuid.Nil, events.NodeFailed
		}
		return payload.NodeID, events.NodeFailed
	}
	var payload wire.NodeLeftPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return uuid.Nil, events.NodeLeft
	}
	return payload.NodeID, events.NodeLeft
}

// reconnect attempts up to cfg.ReconnectCount reconnections, each
// waiting cfg.NetworkTimeout, replaying the last known topology version
// so the new router can fast-forward missed events.
func (c *Client) reconnect(ctx context.Context) bool {
	c.mu.Lock()
	c.state = StateDisconnecting
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 0; attempt < c.cfg.ReconnectCount; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.NetworkTimeout):
		}
		if err := c.Connect(ctx); err == nil {
			return true
		}
	}
	return false
}

// SendHeartbeat emits this client's heartbeat through the router
// socket.
func (c *Client) SendHeartbeat(ctx context.Context) error {
	return c.inject(wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindHeartbeat,
		Creator: c.selfID,
		Payload: wire.HeartbeatPayload{SenderID: c.selfID},
	})
}

// SendCustomEvent hands an opaque payload to the router, which injects
// it into the ring like any other custom event; the coordinator's ack
// comes back through the same socket.
func (c *Client) SendCustomEvent(ctx context.Context, payload []byte) error {
	return c.inject(wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindCustomEvent,
		Creator: c.selfID,
		Payload: wire.CustomEventPayload{Body: payload},
	})
}

// ReportFailed asks the ring to excise id under the caller's authority:
// the suspicion travels to the coordinator, which emits the
// authoritative NodeFailed.
func (c *Client) ReportFailed(ctx context.Context, id uuid.UUID) error {
	return c.inject(wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeSuspected,
		Creator: c.selfID,
		Payload: wire.NodeSuspectedPayload{NodeID: id, Forced: true},
	})
}

// inject writes one envelope on the router socket. The heartbeat timer
// and operator calls share the socket with nothing else: the read side
// is owned by readLoop, and writes are serialized here.
func (c *Client) inject(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("clientmode: not connected")
	}
	return wire.WriteMessage(c.conn, c.codec, env)
}
