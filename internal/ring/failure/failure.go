// Package failure implements the heartbeat flow, missed-heartbeat
// check, status verification, and forced exclusion.
package failure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/ring/events"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/transport"
	"ringmesh/internal/ring/wire"
)

// Config holds the failure detector's cadence and budget.
// The client heartbeat budget is enforced by the router and the client
// attachment themselves, not here: client heartbeats never circulate
// the ring.
type Config struct {
	HeartbeatFrequency  time.Duration
	MaxMissedHeartbeats int
	NetworkTimeout      time.Duration
}

// Detector runs the ring's heartbeat flow and status-check escalation.
// It is a transport.Handler for Heartbeat/StatusCheck/StatusCheckReply
// and exposes ForceFail for the operator-triggered failNode operation.
type Detector struct {
	selfID uuid.UUID
	cfg    Config

	broker  *topology.Broker
	emit    events.Listener
	forward func(ctx context.Context, env wire.Envelope) error
	log     *slog.Logger

	mu          sync.Mutex
	lastSeen    time.Time
	pendingProb map[uuid.UUID]chan struct{}
}

// New returns a Detector for selfID.
func New(selfID uuid.UUID, cfg Config, broker *topology.Broker, emit events.Listener, forward func(ctx context.Context, env wire.Envelope) error) *Detector {
	return &Detector{
		selfID:      selfID,
		cfg:         cfg,
		broker:      broker,
		emit:        emit,
		forward:     forward,
		log:         slog.Default().With("component", "ring.failure"),
		lastSeen:    time.Now(),
		pendingProb: make(map[uuid.UUID]chan struct{}),
	}
}

var _ transport.Handler = (*Detector)(nil)

// Handle implements transport.Handler.
func (d *Detector) Handle(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	switch env.Kind {
	case wire.KindHeartbeat:
		return d.handleHeartbeat(ctx, env)
	case wire.KindStatusCheck:
		return d.handleStatusCheck(ctx, env)
	case wire.KindStatusCheckReply:
		return d.handleStatusCheckReply(env)
	default:
		return transport.Decision{Forward: true}, nil
	}
}

// handleHeartbeat stamps the passing heartbeat with this node's metric
// snapshot and records that the ring is alive around to here.
func (d *Detector) handleHeartbeat(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.HeartbeatPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("failure: decode heartbeat: %w", err)
	}

	if env.Creator == d.selfID {
		d.mu.Lock()
		d.lastSeen = time.Now()
		d.mu.Unlock()
		return transport.Decision{Forward: false}, nil
	}

	if payload.Metrics == nil {
		payload.Metrics = make(map[uuid.UUID]wire.NodeMetric)
	}
	payload.Metrics[d.selfID] = wire.NodeMetric{}
	env.Payload = payload
	return transport.Decision{Forward: true, Rewrite: &env}, nil
}

// EmitHeartbeat sends this node's heartbeat around the ring, the
// periodic task posting to the message worker.
func (d *Detector) EmitHeartbeat(ctx context.Context) error {
	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindHeartbeat,
		Creator: d.selfID,
		Payload: wire.HeartbeatPayload{SenderID: d.selfID, Metrics: map[uuid.UUID]wire.NodeMetric{d.selfID: {}}},
	}
	return d.forward(ctx, env)
}

// CheckMissed reports whether the local node's own heartbeat has not
// returned within maxMissedHeartbeats x heartbeatFrequency, the trigger
// for a status check on the apparently-silent neighbor.
func (d *Detector) CheckMissed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	budget := time.Duration(d.cfg.MaxMissedHeartbeats) * d.cfg.HeartbeatFrequency
	return time.Since(d.lastSeen) > budget
}

// StatusCheck sends a StatusCheck targeted at the apparently-silent
// neighbor and waits up to networkTimeout for a reply. If no reply
// arrives, the neighbor is declared failed and NodeFailed is emitted —
// directly if this node is the coordinator, otherwise forwarded on for
// the coordinator's authoritative emission.
func (d *Detector) StatusCheck(ctx context.Context, target uuid.UUID, isCoordinator bool) error {
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.pendingProb[target] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pendingProb, target)
		d.mu.Unlock()
	}()

	probe := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindStatusCheck,
		Creator: d.selfID,
		Payload: wire.StatusCheckPayload{TargetID: target},
	}
	if err := d.forward(ctx, probe); err != nil {
		return fmt.Errorf("failure: send status check: %w", err)
	}

	select {
	case <-ch:
		return nil
	case <-time.After(d.cfg.NetworkTimeout):
		return d.declareFailed(ctx, target, isCoordinator, false)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceFail emits NodeFailed for id under the caller's authority.
func (d *Detector) ForceFail(ctx context.Context, id uuid.UUID, isCoordinator bool) error {
	return d.declareFailed(ctx, id, isCoordinator, true)
}

// declareFailed emits NodeFailed for id if this node is the coordinator
// — the sole authority for topology-version-advancing messages — and
// otherwise reports the suspicion as NodeSuspected, which the ring
// routes hop by hop until the coordinator receives it and emits the
// authoritative NodeFailed itself.
func (d *Detector) declareFailed(ctx context.Context, id uuid.UUID, isCoordinator, forced bool) error {
	if !isCoordinator {
		report := wire.Envelope{
			ID:      uuid.New(),
			Kind:    wire.KindNodeSuspected,
			Creator: d.selfID,
			Payload: wire.NodeSuspectedPayload{NodeID: id, Forced: forced},
		}
		if err := d.forward(ctx, report); err != nil {
			return fmt.Errorf("failure: report suspected node %s to coordinator: %w", id, err)
		}
		return nil
	}

	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindNodeFailed,
		Creator: d.selfID,
		Version: d.broker.Current().Version + 1,
		Payload: wire.NodeFailedPayload{NodeID: id, Forced: forced},
	}
	if err := d.forward(ctx, env); err != nil {
		return fmt.Errorf("failure: emit NodeFailed for %s: %w", id, err)
	}
	return nil
}

func (d *Detector) handleStatusCheck(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	var payload wire.StatusCheckPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("failure: decode status check: %w", err)
	}
	if payload.TargetID != d.selfID {
		return transport.Decision{Forward: true}, nil
	}

	reply := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindStatusCheckReply,
		Creator: d.selfID,
		Payload: wire.StatusCheckPayload{TargetID: d.selfID},
	}
	if err := d.forward(ctx, reply); err != nil {
		return transport.Decision{}, fmt.Errorf("failure: reply to status check: %w", err)
	}
	return transport.Decision{Forward: false}, nil
}

func (d *Detector) handleStatusCheckReply(env wire.Envelope) (transport.Decision, error) {
	var payload wire.StatusCheckPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		return transport.Decision{}, fmt.Errorf("failure: decode status check reply: %w", err)
	}
	d.mu.Lock()
	ch, ok := d.pendingProb[payload.TargetID]
	d.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		return transport.Decision{Forward: false}, nil
	}
	return transport.Decision{Forward: true}, nil
}
