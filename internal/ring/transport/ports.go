// Package transport maintains the outbound connection to the ring's
// next neighbor, forwards messages around the ring with guaranteed
// delivery, and runs the inbound reader and message worker that apply
// message semantics in arrival order.
package transport

import (
	"context"

	"github.com/google/uuid"

	"ringmesh/internal/ring/wire"
)

// Handler applies a received envelope's semantics: install topology
// changes, invoke listeners, and so on. It runs exclusively on the
// message worker goroutine, which is the serialization point that
// yields the ring's total order. Handlers are supplied by
// the coordinator, failure detector, and clientmode packages; the
// transport itself is policy-free about message content.
type Handler interface {
	// Handle applies env's semantics and reports whether it should
	// continue around the ring.
	Handle(ctx context.Context, env wire.Envelope) (Decision, error)
}

// Decision is a Handler's forwarding verdict for one envelope.
type Decision struct {
	// Forward, if true, hands env back to the writer for the next hop.
	Forward bool

	// RegisterClient, if non-nil, tells the worker to keep item.conn open
	// and register it under this id as a client-mode push target instead
	// of treating the envelope as an ordinary ring message.
	RegisterClient uuid.UUID

	// ClientLastVersion is the last topology version the registering
	// client reports having observed; the router replays newer pending
	// ensure-delivery messages to it on registration.
	ClientLastVersion uint64

	// OmitReceipt suppresses the acceptance receipt. Set for messages a
	// registered client injects after its join: the client connection
	// doubles as the router's framed push channel, and a raw receipt
	// byte would desynchronize it.
	OmitReceipt bool

	// Rewrite, when non-nil, replaces the envelope for the next hop —
	// how a heartbeat accumulates each member's metric snapshot as it
	// passes.
	Rewrite *wire.Envelope
}

// SendFunc emits an envelope toward the next ring neighbor. The
// worker's instance is backed by Writer.Send; tests substitute their
// own.
type SendFunc func(ctx context.Context, env wire.Envelope) error

// NeighborResolver locates the ring addresses transport needs: the
// immediate next neighbor, and the neighbor-after-next used when the
// immediate neighbor is suspected unreachable.
type NeighborResolver interface {
	// NextNeighbor returns the address to dial for the local node's
	// immediate successor. ok is false if the local node has no live
	// successor (a single-member ring).
	NextNeighbor() (id uuid.UUID, addr string, ok bool)

	// NeighborAfterNext returns the address of the ring member after
	// skip, used once skip has been declared suspect.
	NeighborAfterNext(skip uuid.UUID) (id uuid.UUID, addr string, ok bool)
}

// SuspectNotifier is invoked when the writer gives up on a neighbor
// after exhausting its retry budget — the signal the failure detector
// turns into a NodeFailed emission.
type SuspectNotifier func(ctx context.Context, suspectID uuid.UUID)
