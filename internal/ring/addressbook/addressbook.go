// Package addressbook resolves candidate ring-peer endpoints from a
// pluggable provider into the deduplicated, shuffled, locally-excluded
// list the join protocol dials in turn.
package addressbook

import (
	"context"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"time"
)

// Provider is the pluggable capability the core consumes: a raw list of
// candidate endpoints, which may be bare hostnames, "host:port" pairs,
// or host-only entries awaiting the local discovery port. Providers may
// be static (fixed at construction) or shared (mutable, cluster-wide —
// e.g. multicast, a shared file, a JDBC/SQL table).
type Provider interface {
	// Addresses returns the provider's current candidate list.
	Addresses(ctx context.Context) ([]string, error)
}

// Cleaner is implemented by shared providers whose entries can go
// stale; the coordinator prunes them periodically, keeping only the
// addresses of currently live members.
type Cleaner interface {
	CleanStale(live []string) error
}

// Registrar is implemented by shared providers a node can publish its
// own endpoint to, so later joiners discover it without static
// configuration.
type Registrar interface {
	Register(ctx context.Context, addr string) error
}

// Book wraps a Provider with the resolution contract:
// port-0 rewrite, DNS resolution, local-address exclusion, and uniform
// shuffling.
type Book struct {
	provider   Provider
	localPort  int
	clientPort int
	localAddrs map[string]struct{}
	isClient   bool
}

// Option configures a Book.
type Option func(*Book)

// WithLocalAddrs records the hosts of addrs (host or host:port form;
// any port given is ignored) as local. A resolved entry on one of those
// hosts at the local discovery port is excluded from every resolved
// list, so a server node never dials itself; a client Book excludes
// nothing.
func WithLocalAddrs(addrs ...string) Option {
	return func(b *Book) {
		for _, a := range addrs {
			b.localAddrs[normalizeHost(a)] = struct{}{}
		}
	}
}

// WithClientDefaultPort sets the port used to rewrite a port-0 entry
// when the local node is itself a client.
func WithClientDefaultPort(port int) Option {
	return func(b *Book) { b.clientPort = port }
}

// New returns a Book over provider. localPort is the local node's
// discovery port, used to rewrite port-0 entries for server nodes.
func New(provider Provider, localPort int, isClient bool, opts ...Option) *Book {
	b := &Book{
		provider:   provider,
		localPort:  localPort,
		clientPort: localPort,
		localAddrs: make(map[string]struct{}),
		isClient:   isClient,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResolvedAddresses implements the resolvedAddresses() contract:
// port-0 rewrite, DNS resolution (entries that fail to resolve are
// still returned so the caller may retry later), local-address
// exclusion, deduplication, and uniform shuffling. A provider that
// cannot be contacted is retried every RetryInterval with no upper
// bound; the caller's join timeout is the only thing that stops the
// loop.
func (b *Book) ResolvedAddresses(ctx context.Context) ([]string, error) {
	var raw []string
	for {
		var err error
		raw, err = b.provider.Addresses(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryInterval):
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		addr := b.rewritePort(entry)
		addr = b.resolve(addr)

		if b.isLocal(addr) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// isLocal reports whether addr names the local node's own discovery
// endpoint: the host matches one of the local addresses and the port is
// the local discovery port. A peer that happens to share the host but
// listens on a different port is a distinct node and stays in the list.
func (b *Book) isLocal(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}
	if _, ok := b.localAddrs[strings.ToLower(host)]; !ok {
		return false
	}
	if b.isClient || b.localPort == 0 {
		return false
	}
	return port == strconv.Itoa(b.localPort)
}

// rewritePort rewrites a bare host or a host:0 entry to carry the
// node's effective discovery port.
func (b *Book) rewritePort(entry string) string {
	host, port, err := net.SplitHostPort(entry)
	if err != nil {
		host = entry
		port = "0"
	}
	if port == "0" || port == "" {
		effective := b.localPort
		if b.isClient {
			effective = b.clientPort
		}
		port = strconv.Itoa(effective)
	}
	return net.JoinHostPort(host, port)
}

// resolve performs DNS resolution on the host portion of addr. If
// resolution fails, addr is returned unchanged so a caller can retry
// later.
func (b *Book) resolve(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if net.ParseIP(host) != nil {
		return addr
	}
	ips, err := net.LookupHost(host)
	if err != nil || len(ips) == 0 {
		return addr
	}
	return net.JoinHostPort(ips[0], port)
}

func normalizeHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return strings.ToLower(host)
}
