// Package discovery is the façade the rest of an application embeds:
// a single SPI capability interface selected at construction between a
// server (ring) implementation and a client (router-attached)
// implementation, with no inheritance between them.
package discovery

import (
	"context"

	"github.com/google/uuid"

	"ringmesh/internal/ring/topology"
)

// SPI is the capability every embedder of ringmesh's core talks to,
// regardless of whether the local node occupies a ring position or
// attaches as a client.
type SPI interface {
	// Start begins the join process and blocks until this node is
	// fully live, the join fails, or ctx is done.
	Start(ctx context.Context) error

	// Ping probes target with an application-level status check. A
	// ring node declares a target that does not answer in time failed
	// and returns nil once that declaration is sent; an error means the
	// probe or the declaration could not be sent. A client attachment
	// does not support Ping and always returns an error.
	Ping(ctx context.Context, target uuid.UUID) error

	// SendCustomEvent wraps payload in the ensure-delivery custom event
	// channel.
	SendCustomEvent(ctx context.Context, payload []byte) error

	// FailNode forces id to be declared failed under the caller's
	// authority.
	FailNode(ctx context.Context, id uuid.UUID) error

	// GetRemoteNodes returns the current topology snapshot.
	GetRemoteNodes() topology.Snapshot

	// Disconnect stops every worker and releases sockets.
	Disconnect(ctx context.Context) error
}
