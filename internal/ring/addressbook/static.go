package addressbook

import "context"

// StaticProvider is a fixed candidate list set once at construction —
// the simplest AddressBook provider, used in tests and single-process
// demos.
type StaticProvider struct {
	addrs []string
}

var _ Provider = (*StaticProvider)(nil)

// NewStatic returns a StaticProvider over addrs.
func NewStatic(addrs ...string) *StaticProvider {
	return &StaticProvider{addrs: append([]string(nil), addrs...)}
}

// Addresses returns the fixed list unchanged.
func (p *StaticProvider) Addresses(context.Context) ([]string, error) {
	return append([]string(nil), p.addrs...), nil
}
