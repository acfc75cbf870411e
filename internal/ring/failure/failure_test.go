package failure

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

func TestEmitHeartbeatMarksSelfMetric(t *testing.T) {
	self := uuid.New()
	var sent wire.Envelope
	d := New(self, Config{}, topology.NewBroker(), nil, func(_ context.Context, env wire.Envelope) error {
		sent = env
		return nil
	})

	assert.NilError(t, d.EmitHeartbeat(context.Background()))
	assert.Equal(t, sent.Kind, wire.KindHeartbeat)

	var payload wire.HeartbeatPayload
	assert.NilError(t, wire.DecodePayload(sent, &payload))
	_, ok := payload.Metrics[self]
	assert.Assert(t, ok)
}

func TestHandleHeartbeatOwnReturnResetsLastSeen(t *testing.T) {
	self := uuid.New()
	d := New(self, Config{MaxMissedHeartbeats: 1, HeartbeatFrequency: time.Millisecond}, topology.NewBroker(), nil, func(context.Context, wire.Envelope) error { return nil })
	d.lastSeen = time.Now().Add(-time.Hour)

	env := wire.Envelope{Kind: wire.KindHeartbeat, Creator: self, Payload: wire.HeartbeatPayload{SenderID: self}}
	decision, err := d.Handle(context.Background(), env)
	assert.NilError(t, err)
	assert.Assert(t, !decision.Forward)
	assert.Assert(t, !d.CheckMissed())
}

func TestHandleHeartbeatOtherAddsOwnMetricAndForwards(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	d := New(self, Config{}, topology.NewBroker(), nil, func(context.Context, wire.Envelope) error { return nil })

	env := wire.Envelope{Kind: wire.KindHeartbeat, Creator: other, Payload: wire.HeartbeatPayload{SenderID: other, Metrics: map[uuid.UUID]wire.NodeMetric{}}}
	decision, err := d.Handle(context.Background(), env)
	assert.NilError(t, err)
	assert.Assert(t, decision.Forward)
}

func TestStatusCheckSucceedsOnReply(t *testing.T) {
	self := uuid.New()
	target := uuid.New()

	var probe wire.Envelope
	d := New(self, Config{NetworkTimeout: time.Second}, topology.NewBroker(), nil, func(_ context.Context, env wire.Envelope) error {
		probe = env
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- d.StatusCheck(context.Background(), target, false) }()

	// let the goroutine register its pending probe
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, probe.Kind, wire.KindStatusCheck)

	reply := wire.Envelope{Kind: wire.KindStatusCheckReply, Payload: wire.StatusCheckPayload{TargetID: target}}
	_, err := d.handleStatusCheckReply(reply)
	assert.NilError(t, err)

	assert.NilError(t, <-done)
}

func TestStatusCheckDeclaresFailedOnTimeout(t *testing.T) {
	self := uuid.New()
	target := uuid.New()

	var emitted []wire.Envelope
	d := New(self, Config{NetworkTimeout: 5 * time.Millisecond}, topology.NewBroker(), nil, func(_ context.Context, env wire.Envelope) error {
		emitted = append(emitted, env)
		return nil
	})

	err := d.StatusCheck(context.Background(), target, true)
	assert.NilError(t, err)
	assert.Equal(t, len(emitted), 2) // the StatusCheck probe, then NodeFailed
	assert.Equal(t, emitted[1].Kind, wire.KindNodeFailed)
}
