package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/wire"
)

// Writer is the single outbound writer to the ring's current next
// neighbor. All sends are serialized through it by design: the ring
// writer owns the outbound socket.
type Writer struct {
	mu sync.Mutex

	cfg     Config
	dialCfg iogateway.Config
	codec   wire.Codec

	resolver NeighborResolver
	suspect  SuspectNotifier
	pending  *topology.PendingLog

	conn         *iogateway.Conn
	neighborID   uuid.UUID
	neighborAddr string
}

// NewWriter returns a Writer with no established connection; the first
// Send dials the current next neighbor.
func NewWriter(cfg Config, dialCfg iogateway.Config, codec wire.Codec, resolver NeighborResolver, pending *topology.PendingLog, suspect SuspectNotifier) *Writer {
	return &Writer{
		cfg:      cfg,
		dialCfg:  dialCfg,
		codec:    codec,
		resolver: resolver,
		pending:  pending,
		suspect:  suspect,
	}
}

// Send forwards env to the next neighbor, retrying with doubling
// ack-timeout up to cfg.ReconnectCount times. If every attempt fails,
// the neighbor is declared suspect and Send re-targets the
// neighbor-after-next, replaying the pending-message log ahead of env.
func (w *Writer) Send(ctx context.Context, env wire.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if env.EnsureDelivery() {
		w.pending.Append(topology.PendingEntry{ID: env.ID, Version: env.Version, Kind: string(env.Kind), Payload: env})
	}

	ackTimeout := w.cfg.AckTimeout
	var lastErr error
	for attempt := 0; attempt <= w.cfg.ReconnectCount; attempt++ {
		if err := w.ensureConnected(ctx); err != nil {
			lastErr = err
			ackTimeout = nextAckTimeout(ackTimeout, w.cfg.MaxAckTimeout)
			continue
		}
		if err := w.sendOnce(env, ackTimeout); err != nil {
			// A rejection receipt means the neighbor read the message
			// and refused it; retrying or skipping cannot change the
			// outcome, so it surfaces to the caller as-is.
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				return err
			}
			lastErr = err
			w.closeConn()
			ackTimeout = nextAckTimeout(ackTimeout, w.cfg.MaxAckTimeout)
			continue
		}
		return nil
	}

	return w.skipAndReplay(ctx, env, lastErr)
}

// ensureConnected dials the current next neighbor if not already connected.
func (w *Writer) ensureConnected(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	id, addr, ok := w.resolver.NextNeighbor()
	if !ok {
		return fmt.Errorf("transport: no live next neighbor")
	}
	// record the target before dialing, so a neighbor that refuses every
	// dial is the one skipAndReplay reports as suspect.
	w.neighborID = id
	w.neighborAddr = addr
	conn, err := iogateway.Dial(ctx, addr, w.dialCfg)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *Writer) sendOnce(env wire.Envelope, ackTimeout time.Duration) error {
	deadline := time.Now().Add(ackTimeout)
	_ = w.conn.Raw().SetWriteDeadline(deadline)
	_ = w.conn.Raw().SetReadDeadline(deadline)
	defer func() {
		_ = w.conn.Raw().SetWriteDeadline(time.Time{})
		_ = w.conn.Raw().SetReadDeadline(time.Time{})
	}()

	if err := wire.WriteMessage(w.conn, w.codec, env); err != nil {
		return err
	}
	// read the receipt off the raw socket: the ack deadline set above
	// must govern, not the connection's general-purpose read timeout.
	receipt, err := wire.ReadReceipt(w.conn.Raw())
	if err != nil {
		return err
	}
	if receipt != wire.ReceiptOK {
		return &RejectedError{Receipt: receipt}
	}
	return nil
}

// RejectedError reports that a neighbor read a message and answered
// with a non-OK receipt — a protocol-level refusal, distinct from the
// retryable transport failures the writer's skip logic handles.
type RejectedError struct {
	Receipt wire.Receipt
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transport: neighbor rejected message with receipt %s", e.Receipt)
}

func (w *Writer) closeConn() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// skipAndReplay suspects the current neighbor, opens a connection to
// the neighbor-after-next, and replays every still-pending
// ensure-delivery message ahead of env.
func (w *Writer) skipAndReplay(ctx context.Context, env wire.Envelope, cause error) error {
	skipped := w.neighborID
	w.closeConn()

	if w.suspect != nil && skipped != uuid.Nil {
		w.suspect(ctx, skipped)
	}

	id, addr, ok := w.resolver.NeighborAfterNext(skipped)
	if !ok {
		return fmt.Errorf("transport: no reachable neighbor after skipping %s: %w", skipped, cause)
	}
	conn, err := iogateway.Dial(ctx, addr, w.dialCfg)
	if err != nil {
		return fmt.Errorf("transport: reconnect to neighbor-after-next failed: %w", err)
	}
	w.conn = conn
	w.neighborID = id
	w.neighborAddr = addr

	// env itself is the log's newest entry when it is ensure-delivery
	// (Send appended it before the retry loop); it must go out exactly
	// once, as the final send below, not again during the replay.
	for _, entry := range w.pending.All() {
		replayed, ok := entry.Payload.(wire.Envelope)
		if !ok || replayed.ID == env.ID {
			continue
		}
		if err := w.sendOnce(replayed, w.cfg.AckTimeout); err != nil {
			return fmt.Errorf("transport: pending-log replay to new neighbor failed: %w", err)
		}
	}

	return w.sendOnce(env, w.cfg.AckTimeout)
}

// Close releases the writer's outbound connection, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeConn()
	return nil
}
