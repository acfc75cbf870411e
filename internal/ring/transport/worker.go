package transport

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

// Worker is the single-threaded message worker: it drains the server's
// inbound queue, applies a Handler's semantics, writes the acceptance
// receipt, and hands forwardable envelopes to the writer. All topology
// mutation happens on this goroutine.
type Worker struct {
	selfID         uuid.UUID
	queue          <-chan inbound
	handler        Handler
	send           SendFunc
	pending        *topology.PendingLog
	registerClient func(id uuid.UUID, lastVersion uint64, conn *iogateway.Conn)
	log            *slog.Logger
}

// NewWorker returns a Worker draining queue and dispatching to handler.
// registerClient may be nil if the node never attaches client-mode
// participants; otherwise it is invoked whenever a Handler's Decision
// asks the worker to keep an inbound connection open as a push target.
func NewWorker(selfID uuid.UUID, queue <-chan inbound, handler Handler, send SendFunc, pending *topology.PendingLog, registerClient func(id uuid.UUID, lastVersion uint64, conn *iogateway.Conn)) *Worker {
	return &Worker{
		selfID:         selfID,
		queue:          queue,
		handler:        handler,
		send:           send,
		pending:        pending,
		registerClient: registerClient,
		log:            slog.Default().With("component", "ring.transport.worker"),
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-w.queue:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

// QueueSize reports the current depth of the inbound queue.
func (w *Worker) QueueSize() int {
	return len(w.queue)
}

func (w *Worker) process(ctx context.Context, item inbound) {
	verdict := classify(item.env, w.selfID)

	if item.env.Kind == wire.KindMessageDiscard {
		w.handleDiscard(ctx, item, verdict)
		return
	}

	// The handler runs even for a message that has circled back to its
	// creator: the circle-back is the coordinator's signal to emit the
	// follow-up (NodeAddedFinished, CustomEventAck) and the failure
	// detector's signal that its own heartbeat survived the ring. Only
	// the forwarding decision is suppressed for absorbed messages.
	decision, err := w.handler.Handle(ctx, item.env)
	if err != nil {
		receipt := wire.ReceiptForError(err)
		w.log.Warn("handler rejected message", "kind", item.env.Kind, "id", item.env.ID, "receipt", receipt, "err", err)
		w.ack(item, receipt)
		return
	}
	if !decision.OmitReceipt {
		w.ack(item, wire.ReceiptOK)
	}

	if decision.RegisterClient != uuid.Nil && w.registerClient != nil {
		w.registerClient(decision.RegisterClient, decision.ClientLastVersion, item.conn)
	}

	switch {
	case verdict == VerdictForward && decision.Forward:
		env := item.env
		if decision.Rewrite != nil {
			env = *decision.Rewrite
		}
		env.Verifier = w.selfID
		if err := w.send(ctx, env); err != nil {
			w.log.Warn("forward failed", "kind", env.Kind, "id", env.ID, "err", err)
		}
	case verdict == VerdictAbsorb && item.env.EnsureDelivery():
		// The circuit is complete: every live node has accepted this
		// ensure-delivery message, so a discard signal trims it from
		// every pending log.
		w.emitDiscard(ctx, item.env.ID)
	}
}

// handleDiscard trims the referenced message from the local pending log
// and keeps the signal circulating until it returns to its creator.
func (w *Worker) handleDiscard(ctx context.Context, item inbound, verdict Verdict) {
	var payload wire.MessageDiscardPayload
	if err := wire.DecodePayload(item.env, &payload); err != nil {
		w.log.Warn("malformed discard signal", "id", item.env.ID, "err", err)
		w.ack(item, wire.ReceiptOK)
		return
	}
	if w.pending != nil {
		w.pending.Discard(payload.MessageID)
	}
	w.ack(item, wire.ReceiptOK)

	if verdict == VerdictForward {
		env := item.env
		env.Verifier = w.selfID
		if err := w.send(ctx, env); err != nil {
			w.log.Debug("discard forward failed", "id", payload.MessageID, "err", err)
		}
	}
}

func (w *Worker) emitDiscard(ctx context.Context, messageID uuid.UUID) {
	if w.pending != nil {
		w.pending.Discard(messageID)
	}
	env := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindMessageDiscard,
		Creator: w.selfID,
		Payload: wire.MessageDiscardPayload{MessageID: messageID},
	}
	if err := w.send(ctx, env); err != nil {
		w.log.Debug("emit discard failed", "message", messageID, "err", err)
	}
}

// ack writes r, the acceptance-into-ring receipt for item, once the
// handler has run. A rejected admission carries its own receipt code so the
// joiner on the other end of item.conn can report and exit rather than
// proceed as if it had been admitted.
func (w *Worker) ack(item inbound, r wire.Receipt) {
	if err := wire.WriteReceipt(item.conn, r); err != nil {
		w.log.Debug("failed to write receipt", "err", err)
	}
}
