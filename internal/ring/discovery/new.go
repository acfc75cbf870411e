package discovery

import "github.com/google/uuid"

// New builds the SPI for selfID, selecting the server (ring) or client
// (router-attached) implementation at construction time per opts,
// never by runtime type-switching. cfg.ForceServerMode overrides
// AsClient, letting an operator pin a node into the ring regardless of
// how it was launched.
func New(selfID uuid.UUID, opts ...Option) (SPI, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.client && !o.cfg.ForceServerMode {
		return newClientSPI(selfID, o)
	}
	return newServerSPI(selfID, o)
}
