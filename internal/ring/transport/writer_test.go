package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

// fakeResolver always points NextNeighbor at a dead address (dial
// failure) and NeighborAfterNext at a real listener, exercising the
// writer's skip-and-replay path without waiting out a real ack timeout.
type fakeResolver struct {
	deadID, deadAddr   string
	aliveID, aliveAddr string
}

func (f fakeResolver) NextNeighbor() (uuid.UUID, string, bool) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return id, f.deadAddr, true
}

func (f fakeResolver) NeighborAfterNext(uuid.UUID) (uuid.UUID, string, bool) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	return id, f.aliveAddr, true
}

func acceptAndAck(t *testing.T, ln net.Listener, codec wire.Codec, n int) chan wire.Envelope {
	t.Helper()
	got := make(chan wire.Envelope, n)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		conn, err := iogateway.Accept(nc, iogateway.Config{ReadTimeout: 2 * time.Second})
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			env, err := wire.ReadMessage(conn, codec)
			if err != nil {
				return
			}
			got <- env
			_ = wire.WriteReceipt(conn, wire.ReceiptOK)
		}
	}()
	return got
}

func TestWriterSkipsDeadNeighborAndReplaysPending(t *testing.T) {
	// a dead address: a listener we close immediately, guaranteeing
	// connection-refused on dial.
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	deadAddr := deadLn.Addr().String()
	deadLn.Close()

	aliveLn, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer aliveLn.Close()

	codec := wire.JSONCodec{}
	got := acceptAndAck(t, aliveLn, codec, 2) // 1 replayed pending + 1 new send

	pending := topology.NewPendingLog(10)
	pendingEnv := wire.Envelope{ID: uuid.New(), Kind: wire.KindNodeAdded, Version: 1}
	pending.Append(topology.PendingEntry{ID: pendingEnv.ID, Version: 1, Payload: pendingEnv})

	resolver := fakeResolver{deadAddr: deadAddr, aliveAddr: aliveLn.Addr().String()}
	cfg := Config{AckTimeout: 50 * time.Millisecond, MaxAckTimeout: 200 * time.Millisecond, ReconnectCount: 1}
	dialCfg := iogateway.Config{ConnectTimeout: 200 * time.Millisecond, ReadTimeout: time.Second}

	var suspected uuid.UUID
	writer := NewWriter(cfg, dialCfg, codec, resolver, pending, func(_ context.Context, id uuid.UUID) {
		suspected = id
	})

	// the in-flight message is itself ensure-delivery, so Send appends
	// it to the pending log before retrying; the new neighbor must still
	// see it exactly once, after the older pending entry. The acceptor
	// stops reading after two messages, so a duplicated send would time
	// out awaiting its ack and fail the Send.
	env := wire.Envelope{ID: uuid.New(), Kind: wire.KindCustomEvent}
	err = writer.Send(context.Background(), env)
	assert.NilError(t, err)

	first := <-got
	second := <-got
	assert.Equal(t, first.ID, pendingEnv.ID)
	assert.Equal(t, second.ID, env.ID)
	assert.Equal(t, suspected, uuid.MustParse("00000000-0000-0000-0000-000000000001"))
}

func TestWriterReturnsRejectionReceiptWithoutSkipping(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	codec := wire.JSONCodec{}
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		conn, err := iogateway.Accept(nc, iogateway.Config{ReadTimeout: 2 * time.Second})
		if err != nil {
			return
		}
		if _, err := wire.ReadMessage(conn, codec); err != nil {
			return
		}
		_ = wire.WriteReceipt(conn, wire.ReceiptDuplicateID)
	}()

	pending := topology.NewPendingLog(4)
	resolver := fakeResolver{deadAddr: ln.Addr().String(), aliveAddr: "127.0.0.1:1"}
	cfg := Config{AckTimeout: time.Second, MaxAckTimeout: time.Second, ReconnectCount: 3}
	dialCfg := iogateway.Config{ConnectTimeout: time.Second, ReadTimeout: time.Second}

	var suspected bool
	writer := NewWriter(cfg, dialCfg, codec, resolver, pending, func(context.Context, uuid.UUID) {
		suspected = true
	})

	err = writer.Send(context.Background(), wire.Envelope{ID: uuid.New(), Kind: wire.KindJoinRequest})
	var rejected *RejectedError
	assert.Assert(t, errors.As(err, &rejected))
	assert.Equal(t, rejected.Receipt, wire.ReceiptDuplicateID)
	assert.Assert(t, !suspected)
}
