package transport

import (
	"github.com/google/uuid"

	"ringmesh/internal/ring/wire"
)

// Verdict classifies an inbound envelope for the forwarding rule: a
// message is forwarded to the next neighbor unless it has circled back
// to its creator (absorbed) or its handler terminates forwarding via
// the Decision. Messages addressed to the local node specifically (a
// status-check reply, a join reply) are terminated by the handler that
// knows the addressing, not here.
type Verdict int

const (
	// VerdictForward hands the envelope to the writer for the next hop.
	VerdictForward Verdict = iota
	// VerdictAbsorb drops the envelope: it has returned to its creator.
	VerdictAbsorb
)

// classify applies the forwarding rule. selfID is the local node's id.
func classify(env wire.Envelope, selfID uuid.UUID) Verdict {
	if env.Creator == selfID {
		return VerdictAbsorb
	}
	return VerdictForward
}
