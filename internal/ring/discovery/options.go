package discovery

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/auth"
	"ringmesh/internal/ring/events"
	"ringmesh/internal/ring/metrics"
	"ringmesh/internal/ring/testkit"
	"ringmesh/internal/ring/wire"
)

// Config holds the discovery daemon's recognized tunables.
type Config struct {
	LocalAddress   string
	LocalPort      int
	LocalPortRange int

	HeartbeatFrequency        time.Duration
	MaxMissedHeartbeats       int
	MaxMissedClientHeartbeats int

	NetworkTimeout time.Duration
	SocketTimeout  time.Duration
	AckTimeout     time.Duration
	MaxAckTimeout  time.Duration
	ReconnectCount int

	JoinTimeout time.Duration

	IPFinderCleanFrequency time.Duration
	StatisticsPrintFreq    time.Duration
	TopologyHistorySize    int
	ForceServerMode        bool

	// ThreadPriority is the OS scheduling hint named in the recognized
	// options. The Go runtime does not expose per-thread priorities, so
	// it is recorded and reported but otherwise advisory.
	ThreadPriority int

	ProductVersionMajor int
	ProductVersionMinor int
	ProductVersionMaint int
	ProductVersionBuild string
}

// DefaultConfig returns the configuration defaults a new node starts
// from absent explicit overrides.
func DefaultConfig() Config {
	return Config{
		LocalPort:                 47500,
		LocalPortRange:            100,
		HeartbeatFrequency:        2 * time.Second,
		MaxMissedHeartbeats:       3,
		MaxMissedClientHeartbeats: 5,
		NetworkTimeout:            5 * time.Second,
		SocketTimeout:             5 * time.Second,
		AckTimeout:                2 * time.Second,
		MaxAckTimeout:             30 * time.Second,
		ReconnectCount:            3,
		JoinTimeout:               0,
		IPFinderCleanFrequency:    60 * time.Second,
		TopologyHistorySize:       1000,
	}
}

// Option configures a node's discovery façade before Start.
type Option func(*options)

type options struct {
	cfg      Config
	client   bool
	provider addressbook.Provider
	codec    wire.Codec
	authn    auth.Authenticator
	metrics  metrics.Sink
	tracer   trace.Tracer
	listener events.Listener
	hooks    *testkit.Hooks
}

func newOptions() *options {
	return &options{
		cfg:      DefaultConfig(),
		codec:    wire.JSONCodec{},
		authn:    auth.AllowAll{},
		metrics:  metrics.Noop{},
		provider: addressbook.NewStatic(),
	}
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option { return func(o *options) { o.cfg = cfg } }

// AsClient selects the client (non-ring) implementation, unless
// cfg.ForceServerMode overrides it.
func AsClient() Option { return func(o *options) { o.client = true } }

// WithProvider sets the AddressBook provider.
func WithProvider(p addressbook.Provider) Option { return func(o *options) { o.provider = p } }

// WithCodec overrides the default JSONCodec.
func WithCodec(c wire.Codec) Option { return func(o *options) { o.codec = c } }

// WithAuthenticator overrides the default AllowAll authenticator.
func WithAuthenticator(a auth.Authenticator) Option { return func(o *options) { o.authn = a } }

// WithMetrics sets the Metrics sink.
func WithMetrics(m metrics.Sink) Option { return func(o *options) { o.metrics = m } }

// WithTracer sets the otel tracer used for coordinator spans.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithListener sets the DiscoveryListener sink.
func WithListener(l events.Listener) Option { return func(o *options) { o.listener = l } }

// WithTestHooks binds the FOR-TEST-ONLY fault and observation
// capability to the node under construction. Production wiring never
// passes one; the injectors are bound only when a test asks for them.
func WithTestHooks(h *testkit.Hooks) Option { return func(o *options) { o.hooks = h } }
