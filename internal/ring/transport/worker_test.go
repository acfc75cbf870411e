package transport

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

type stubHandler struct {
	calls []wire.Envelope
	err   error
}

func (h *stubHandler) Handle(_ context.Context, env wire.Envelope) (Decision, error) {
	h.calls = append(h.calls, env)
	if h.err != nil {
		return Decision{}, h.err
	}
	return Decision{Forward: true}, nil
}

type sendRecorder struct {
	sent []wire.Envelope
}

func (s *sendRecorder) send(_ context.Context, env wire.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

func TestWorkerRunsHandlerOnCircledMessageWithoutForwarding(t *testing.T) {
	self := uuid.New()
	queue := make(chan inbound, 1)
	handler := &stubHandler{}
	sender := &sendRecorder{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	clientSide, serverSide := dialPair(t, ln)
	defer clientSide.Close()

	// a circled heartbeat: the creator's own message returning. The
	// handler must still observe it (the detector resets its
	// miss-counter on exactly this) but it is never forwarded again.
	queue <- inbound{conn: serverSide, env: wire.Envelope{ID: uuid.New(), Creator: self, Kind: wire.KindHeartbeat}}
	close(queue)

	w := NewWorker(self, queue, handler, sender.send, topology.NewPendingLog(4), nil)
	w.Run(context.Background())

	assert.Equal(t, len(handler.calls), 1)
	assert.Equal(t, len(sender.sent), 0)
}

func TestWorkerForwardsOtherCreatorsMessageStampingVerifier(t *testing.T) {
	self := uuid.New()
	queue := make(chan inbound, 1)
	handler := &stubHandler{}
	sender := &sendRecorder{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	clientSide, serverSide := dialPair(t, ln)
	defer clientSide.Close()

	queue <- inbound{conn: serverSide, env: wire.Envelope{ID: uuid.New(), Creator: uuid.New(), Kind: wire.KindHeartbeat}}
	close(queue)

	w := NewWorker(self, queue, handler, sender.send, topology.NewPendingLog(4), nil)
	w.Run(context.Background())

	assert.Equal(t, len(sender.sent), 1)
	assert.Equal(t, sender.sent[0].Verifier, self)
}

func TestWorkerWritesDuplicateIDReceiptForRejectedAdmission(t *testing.T) {
	self := uuid.New()
	queue := make(chan inbound, 1)
	handler := &stubHandler{err: fmt.Errorf("coordinator: duplicate node id: %w", errdefs.ErrAlreadyExists)}
	sender := &sendRecorder{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	clientSide, serverSide := dialPair(t, ln)
	defer clientSide.Close()

	queue <- inbound{conn: serverSide, env: wire.Envelope{Creator: uuid.New(), Kind: wire.KindJoinRequest}}
	close(queue)

	w := NewWorker(self, queue, handler, sender.send, topology.NewPendingLog(4), nil)
	w.Run(context.Background())

	receipt, err := wire.ReadReceipt(clientSide)
	assert.NilError(t, err)
	assert.Equal(t, receipt, wire.ReceiptDuplicateID)
	assert.Equal(t, len(sender.sent), 0)
}

func TestWorkerEmitsDiscardWhenEnsureDeliveryCircuitCompletes(t *testing.T) {
	self := uuid.New()
	queue := make(chan inbound, 1)
	handler := &stubHandler{}
	sender := &sendRecorder{}
	pending := topology.NewPendingLog(4)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	clientSide, serverSide := dialPair(t, ln)
	defer clientSide.Close()

	msgID := uuid.New()
	pending.Append(topology.PendingEntry{ID: msgID, Version: 2})
	queue <- inbound{conn: serverSide, env: wire.Envelope{ID: msgID, Creator: self, Kind: wire.KindNodeAddedFinished}}
	close(queue)

	w := NewWorker(self, queue, handler, sender.send, pending, nil)
	w.Run(context.Background())

	assert.Equal(t, len(sender.sent), 1)
	assert.Equal(t, sender.sent[0].Kind, wire.KindMessageDiscard)
	assert.Equal(t, pending.Len(), 0)
}

func TestWorkerTrimsPendingLogOnInboundDiscard(t *testing.T) {
	self := uuid.New()
	queue := make(chan inbound, 1)
	handler := &stubHandler{}
	sender := &sendRecorder{}
	pending := topology.NewPendingLog(4)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	clientSide, serverSide := dialPair(t, ln)
	defer clientSide.Close()

	msgID := uuid.New()
	pending.Append(topology.PendingEntry{ID: msgID, Version: 3})
	queue <- inbound{conn: serverSide, env: wire.Envelope{
		ID:      uuid.New(),
		Creator: uuid.New(),
		Kind:    wire.KindMessageDiscard,
		Payload: wire.MessageDiscardPayload{MessageID: msgID},
	}}
	close(queue)

	w := NewWorker(self, queue, handler, sender.send, pending, nil)
	w.Run(context.Background())

	assert.Equal(t, pending.Len(), 0)
	// the signal keeps circulating toward its creator, untouched by the
	// handler chain
	assert.Equal(t, len(sender.sent), 1)
	assert.Equal(t, sender.sent[0].Kind, wire.KindMessageDiscard)
	assert.Equal(t, len(handler.calls), 0)
}

func dialPair(t *testing.T, ln net.Listener) (*iogateway.Conn, *iogateway.Conn) {
	t.Helper()
	accepted := make(chan *iogateway.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		conn, err := iogateway.Accept(nc, iogateway.Config{ReadTimeout: time.Second})
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	client, err := iogateway.Dial(context.Background(), ln.Addr().String(), iogateway.Config{ConnectTimeout: time.Second, ReadTimeout: time.Second})
	assert.NilError(t, err)
	server := <-accepted
	assert.Assert(t, server != nil)
	return client, server
}
