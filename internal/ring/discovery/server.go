package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/auth"
	"ringmesh/internal/ring/coordinator"
	"ringmesh/internal/ring/events"
	"ringmesh/internal/ring/failure"
	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/metrics"
	"ringmesh/internal/ring/testkit"
	"ringmesh/internal/ring/topology"
	"ringmesh/internal/ring/transport"
	"ringmesh/internal/ring/wire"
)

// serverSPI is the ring-position implementation of SPI: it owns a
// listening socket, an outbound ring writer, the message worker that
// serializes every topology mutation, and the coordinator/failure
// handlers that apply message semantics.
type serverSPI struct {
	selfID uuid.UUID
	cfg    Config
	book   *addressbook.Book
	authn  auth.Authenticator
	codec  wire.Codec
	sink   metrics.Sink
	log    *slog.Logger

	broker      *topology.Broker
	pending     *topology.PendingLog
	coord       *coordinator.Coordinator
	detector    *failure.Detector
	clients     *clientRouter
	resolver    *transport.SnapshotResolver
	writer      *transport.Writer
	server      *transport.Server
	worker      *transport.Worker
	handler     transport.Handler
	provider    addressbook.Provider
	listener    events.Listener
	ln          net.Listener
	dialCfg     iogateway.Config
	listenAddr  string
	discoveryPt int

	// joined is the one-shot latch closed when NodeAddedFinished for the
	// local node has been observed; Start blocks on it.
	joined     chan struct{}
	joinedOnce sync.Once

	segmentedOnce sync.Once

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// chainHandler composes handlers without a shared base type: every
// handler observes every envelope (the client router must see even the
// messages the coordinator terminates, to push them to attached
// clients), the message is forwarded only if no handler objected, and
// the first error aborts the chain.
type chainHandler struct {
	handlers []transport.Handler
}

func (c chainHandler) Handle(ctx context.Context, env wire.Envelope) (transport.Decision, error) {
	combined := transport.Decision{Forward: true}
	for _, h := range c.handlers {
		decision, err := h.Handle(ctx, env)
		if err != nil {
			return decision, err
		}
		combined.Forward = combined.Forward && decision.Forward
		combined.OmitReceipt = combined.OmitReceipt || decision.OmitReceipt
		if decision.Rewrite != nil {
			env = *decision.Rewrite
			combined.Rewrite = decision.Rewrite
		}
		if decision.RegisterClient != uuid.Nil {
			combined.RegisterClient = decision.RegisterClient
			combined.ClientLastVersion = decision.ClientLastVersion
		}
	}
	return combined, nil
}

func newServerSPI(selfID uuid.UUID, o *options) (*serverSPI, error) {
	host := o.cfg.LocalAddress
	advertise := host
	if advertise == "" {
		advertise = iogateway.DefaultLocalAddress()
	}

	ln, port, err := iogateway.Listen(host, o.cfg.LocalPort, o.cfg.LocalPortRange)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind discovery listener: %w", err)
	}

	dialCfg := iogateway.Config{
		ConnectTimeout: o.cfg.NetworkTimeout,
		SocketTimeout:  o.cfg.SocketTimeout,
		ReadTimeout:    o.cfg.NetworkTimeout,
	}

	broker := topology.NewBroker()
	pending := topology.NewPendingLog(o.cfg.TopologyHistorySize)
	resolver := transport.NewSnapshotResolver(selfID, broker)

	s := &serverSPI{
		selfID:      selfID,
		cfg:         o.cfg,
		book:        addressbook.New(o.provider, port, false, addressbook.WithLocalAddrs(advertise, "127.0.0.1", "localhost")),
		authn:       o.authn,
		codec:       o.codec,
		sink:        o.metrics,
		log:         slog.Default().With("component", "ring.discovery.server"),
		broker:      broker,
		pending:     pending,
		resolver:    resolver,
		provider:    o.provider,
		listener:    o.listener,
		ln:          ln,
		dialCfg:     dialCfg,
		listenAddr:  net.JoinHostPort(advertise, fmt.Sprintf("%d", port)),
		discoveryPt: port,
		joined:      make(chan struct{}),
	}

	// Inbound connections are long-lived and may sit idle between
	// messages; only the handshake and per-operation deadlines apply,
	// never an idle-read timeout (silence is the failure detector's
	// business, not the reader's).
	serveCfg := dialCfg
	serveCfg.ReadTimeout = 0
	s.server = transport.NewServer(ln, serveCfg, o.codec, 256)

	// The writer invokes the notifier while holding its send lock, and
	// ForceFail emits through that same writer, so the declaration runs
	// on its own goroutine.
	var suspect transport.SuspectNotifier = func(ctx context.Context, suspectID uuid.UUID) {
		go func() {
			_ = s.detector.ForceFail(ctx, suspectID, s.coord.IsCoordinatorExcluding(suspectID))
		}()
	}
	s.writer = transport.NewWriter(transport.Config{
		AckTimeout:     o.cfg.AckTimeout,
		MaxAckTimeout:  o.cfg.MaxAckTimeout,
		ReconnectCount: o.cfg.ReconnectCount,
	}, dialCfg, o.codec, resolver, pending, suspect)

	// the wrapped listener observes the local node's own join completion
	// before handing the event to the embedder's sink.
	notify := events.ListenerFunc(func(e events.Event) {
		if e.Kind == events.NodeJoined && e.Node == selfID {
			s.joinedOnce.Do(func() { close(s.joined) })
		}
		if s.listener != nil {
			s.listener.OnDiscoveryEvent(e)
		}
	})

	ver := topology.Version{Major: o.cfg.ProductVersionMajor, Minor: o.cfg.ProductVersionMinor, Maint: o.cfg.ProductVersionMaint, Build: o.cfg.ProductVersionBuild}
	s.coord = coordinator.New(selfID, ver, broker, o.authn, o.tracer, notify, s.send)
	s.detector = failure.New(selfID, failure.Config{
		HeartbeatFrequency:  o.cfg.HeartbeatFrequency,
		MaxMissedHeartbeats: o.cfg.MaxMissedHeartbeats,
		NetworkTimeout:      o.cfg.NetworkTimeout,
	}, broker, notify, s.send)

	s.clients = newClientRouter(selfID, o.codec, pending, broker)
	handlers := []transport.Handler{s.coord, s.detector, s.clients}
	if o.hooks != nil {
		handlers = append([]transport.Handler{hookObserver{hooks: o.hooks}}, handlers...)
		o.hooks.BindBreakConnection(func() { _ = s.writer.Close() })
		o.hooks.BindForceNextNodeFailure(func(ctx context.Context) error {
			next, _, ok := s.resolver.NextNeighbor()
			if !ok {
				return fmt.Errorf("discovery: no next neighbor to fail")
			}
			return s.FailNode(ctx, next)
		})
	}
	s.handler = chainHandler{handlers: handlers}
	s.worker = transport.NewWorker(selfID, s.server.Queue(), s.handler, s.send, pending, s.clients.Register)

	return s, nil
}

// hookObserver feeds every processed envelope to the test-only message
// listeners; it never alters the forwarding decision.
type hookObserver struct {
	hooks *testkit.Hooks
}

func (h hookObserver) Handle(_ context.Context, env wire.Envelope) (transport.Decision, error) {
	h.hooks.ObserveMessage(env)
	return transport.Decision{Forward: true}, nil
}

// send is the single path every component emits ring messages through.
// On a single-server ring there is no successor to dial: emission and
// circle-back collapse into one pass over the local handler chain, so
// the coordinator's follow-up emissions and attached-client pushes
// still happen. Otherwise a failure that is not a protocol-level
// rejection means the writer exhausted its retry and skip budget: the
// local node cannot reach any successor and is segmented from the ring.
func (s *serverSPI) send(ctx context.Context, env wire.Envelope) error {
	if !s.hasRingNeighbors() {
		_, err := s.handler.Handle(ctx, env)
		return err
	}
	err := s.writer.Send(ctx, env)
	if err == nil {
		return nil
	}
	var rejected *transport.RejectedError
	if !errors.As(err, &rejected) && s.hasRingNeighbors() {
		s.segmentedOnce.Do(func() {
			s.log.Error("local node segmented from ring", "err", err)
			if s.listener != nil {
				s.listener.OnDiscoveryEvent(events.Event{Kind: events.Segmented, Node: s.selfID, Snapshot: s.broker.Current()})
			}
		})
	}
	return err
}

func (s *serverSPI) hasRingNeighbors() bool {
	_, ok := s.broker.Current().Next(s.selfID)
	return ok
}

// Start binds the local node into the ring: it launches the accept
// loop, message worker, and periodic tasks, publishes a single-member
// snapshot if the address book lists no peer, and otherwise issues a
// JoinRequest toward each address-book entry in turn, cycling the list
// every RetryInterval until the ring answers with NodeAddedFinished for
// this node, a peer rejects the join, or the join timeout expires.
func (s *serverSPI) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("discovery: already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.running = true
	s.group = group
	s.mu.Unlock()

	// The long-lived goroutines run as one errgroup so a fatal error in
	// any of them unblocks the others' context and is observable from
	// Disconnect, rather than each goroutine silently logging its own
	// exit.
	group.Go(func() error {
		if err := s.server.Serve(groupCtx); err != nil {
			s.log.Warn("accept loop stopped", "err", err)
			return fmt.Errorf("accept loop: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		s.worker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runHeartbeatLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runStatisticsLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runAddressBookCleanLoop(groupCtx)
		return nil
	})

	// publish our own endpoint to a shared address book so later joiners
	// can find us without static configuration.
	if reg, ok := s.provider.(addressbook.Registrar); ok {
		if err := reg.Register(ctx, s.listenAddr); err != nil {
			s.log.Warn("publish own address failed", "err", err)
		}
	}

	joinCtx := ctx
	if s.cfg.JoinTimeout > 0 {
		var joinCancel context.CancelFunc
		joinCtx, joinCancel = context.WithTimeout(ctx, s.cfg.JoinTimeout)
		defer joinCancel()
	}

	peers, err := s.book.ResolvedAddresses(joinCtx)
	if err != nil {
		return fmt.Errorf("discovery: resolve address book: %w", err)
	}
	if len(peers) == 0 {
		// The address book lists nobody but (possibly) this node's own
		// excluded endpoint: this is how the first member of a fresh
		// cluster discovers it is first.
		s.bootstrap()
		return nil
	}

	// Somebody is (or was) out there. Keep cycling the candidate list —
	// a rejection is final, a transport failure is retried every
	// RetryInterval — until admission completes or joinTimeout expires.
	for {
		var joinErr error
		for _, addr := range peers {
			if err := s.attemptJoin(joinCtx, addr); err != nil {
				var rejected *joinRejectedError
				if errors.As(err, &rejected) {
					return err
				}
				joinErr = err
				continue
			}
			select {
			case <-s.joined:
				return nil
			case <-joinCtx.Done():
				return fmt.Errorf("discovery: join timed out awaiting NodeAddedFinished: %w", joinCtx.Err())
			}
		}

		select {
		case <-joinCtx.Done():
			return fmt.Errorf("discovery: join timed out: %w", errors.Join(joinCtx.Err(), joinErr))
		case <-time.After(addressbook.RetryInterval):
		}

		if peers, err = s.book.ResolvedAddresses(joinCtx); err != nil {
			return fmt.Errorf("discovery: resolve address book: %w", err)
		}
		if len(peers) == 0 {
			s.bootstrap()
			return nil
		}
	}
}

type joinRejectedError struct {
	addr    string
	receipt wire.Receipt
}

func (e *joinRejectedError) Error() string {
	return fmt.Sprintf("discovery: join rejected by %s with receipt %s", e.addr, e.receipt)
}

// bootstrap publishes the founding single-member snapshot, making this
// node coordinator at order 1, version 1.
func (s *serverSPI) bootstrap() {
	s.broker.Publish(topology.Empty.WithAdded(topology.Node{
		ID:            s.selfID,
		InternalAddrs: []string{s.listenAddr},
		DiscoveryPort: s.discoveryPt,
		Ver:           topology.Version{Major: s.cfg.ProductVersionMajor, Minor: s.cfg.ProductVersionMinor, Maint: s.cfg.ProductVersionMaint, Build: s.cfg.ProductVersionBuild},
		Order:         1,
		Local:         true,
	}))
	s.joinedOnce.Do(func() { close(s.joined) })
	s.log.Info("bootstrapped new ring", "addr", s.listenAddr)
}

// runHeartbeatLoop drives the failure detector's active side: emitting
// this node's own heartbeat every cfg.HeartbeatFrequency and, once it
// has missed its own return past the configured budget, escalating a
// status check against the next neighbor. It also enforces the router-side client
// heartbeat budget, excising clients that have gone silent.
func (s *serverSPI) runHeartbeatLoop(ctx context.Context) {
	if s.cfg.HeartbeatFrequency <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HeartbeatFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hasRingNeighbors() {
				if err := s.detector.EmitHeartbeat(ctx); err != nil {
					s.log.Debug("emit heartbeat failed", "err", err)
				}
				if s.detector.CheckMissed() {
					if target, _, ok := s.resolver.NextNeighbor(); ok {
						if err := s.Ping(ctx, target); err != nil {
							s.log.Warn("status check escalation failed", "target", target, "err", err)
						}
					}
				}
			} else {
				// a single-server ring has no circuit to send heartbeats
				// around, but attached clients still need proof of life.
				s.clients.broadcast(wire.Envelope{
					ID:      uuid.New(),
					Kind:    wire.KindHeartbeat,
					Creator: s.selfID,
					Payload: wire.HeartbeatPayload{SenderID: s.selfID},
				})
			}

			if s.cfg.MaxMissedClientHeartbeats > 0 {
				budget := time.Duration(s.cfg.MaxMissedClientHeartbeats) * s.cfg.HeartbeatFrequency
				for _, id := range s.clients.Stale(budget) {
					s.log.Warn("client heartbeat budget exhausted", "client", id)
					if err := s.FailNode(ctx, id); err != nil {
						s.log.Warn("excise stale client failed", "client", id, "err", err)
					}
				}
			}
		}
	}
}

// runStatisticsLoop reports queue depth, topology version, and
// pending-log length at the configured cadence; 0 disables it.
func (s *serverSPI) runStatisticsLoop(ctx context.Context) {
	if s.cfg.StatisticsPrintFreq <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.StatisticsPrintFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.broker.Current()
			queue := s.worker.QueueSize()
			s.sink.SetGauge("ring.worker.queue", int64(queue))
			s.sink.SetGauge("ring.topology.version", int64(snap.Version))
			s.sink.SetGauge("ring.topology.size", int64(len(snap.Nodes)))
			s.sink.SetGauge("ring.pending.len", int64(s.pending.Len()))
			s.log.Info("ring statistics",
				"version", snap.Version,
				"members", len(snap.Nodes),
				"queue", queue,
				"pending", s.pending.Len(),
				"pendingDropped", s.pending.Dropped(),
			)
		}
	}
}

// runAddressBookCleanLoop prunes stale entries from a shared address
// book while this node is coordinator; 0 disables it.
func (s *serverSPI) runAddressBookCleanLoop(ctx context.Context) {
	cleaner, ok := s.provider.(addressbook.Cleaner)
	if !ok || s.cfg.IPFinderCleanFrequency <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.IPFinderCleanFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.coord.IsCoordinator() {
				continue
			}
			snap := s.broker.Current()
			live := make([]string, 0, len(snap.Nodes))
			for _, n := range snap.Nodes {
				live = append(live, n.InternalAddrs...)
			}
			if err := cleaner.CleanStale(live); err != nil {
				s.log.Warn("address book prune failed", "err", err)
			}
		}
	}
}

func (s *serverSPI) attemptJoin(ctx context.Context, addr string) error {
	conn, err := iogateway.Dial(ctx, addr, s.dialCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var credential []byte
	if signer, ok := s.authn.(interface{ Sign(uuid.UUID) []byte }); ok {
		credential = signer.Sign(s.selfID)
	}

	req := wire.Envelope{
		ID:      uuid.New(),
		Kind:    wire.KindJoinRequest,
		Creator: s.selfID,
		Payload: wire.JoinRequestPayload{
			NodeID:        s.selfID,
			InternalAddrs: []string{s.listenAddr},
			DiscoveryPort: s.discoveryPt,
			VerMajor:      s.cfg.ProductVersionMajor,
			VerMinor:      s.cfg.ProductVersionMinor,
			VerMaint:      s.cfg.ProductVersionMaint,
			VerBuild:      s.cfg.ProductVersionBuild,
			Credential:    credential,
		},
	}
	if err := wire.WriteMessage(conn, s.codec, req); err != nil {
		return err
	}
	receipt, err := wire.ReadReceipt(conn)
	if err != nil {
		return err
	}
	if receipt != wire.ReceiptOK {
		return &joinRejectedError{addr: addr, receipt: receipt}
	}
	return nil
}

// Ping issues a status check against target and waits for its reply or
// timeout. On timeout target is declared failed, and Ping returns nil
// once that declaration has been sent.
func (s *serverSPI) Ping(ctx context.Context, target uuid.UUID) error {
	return s.detector.StatusCheck(ctx, target, s.coord.IsCoordinatorExcluding(target))
}

// SendCustomEvent wraps payload in the ensure-delivery custom event
// channel.
func (s *serverSPI) SendCustomEvent(ctx context.Context, payload []byte) error {
	return s.coord.SendCustomEvent(ctx, payload)
}

// FailNode forces id to be declared failed.
func (s *serverSPI) FailNode(ctx context.Context, id uuid.UUID) error {
	return s.detector.ForceFail(ctx, id, s.coord.IsCoordinatorExcluding(id))
}

// GetRemoteNodes returns the current topology snapshot.
func (s *serverSPI) GetRemoteNodes() topology.Snapshot {
	return s.broker.Current()
}

// QueueSize reports the message worker's inbound queue depth.
func (s *serverSPI) QueueSize() int {
	return s.worker.QueueSize()
}

// Disconnect announces a graceful NodeLeft, then stops the accept loop
// and message worker and releases the outbound connection.
func (s *serverSPI) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	if s.hasRingNeighbors() {
		leaveCtx, leaveCancel := context.WithTimeout(ctx, s.cfg.NetworkTimeout)
		if err := s.coord.Leave(leaveCtx); err != nil {
			s.log.Warn("graceful leave failed", "err", err)
		}
		leaveCancel()
	}

	if cancel != nil {
		cancel()
	}
	_ = s.ln.Close()
	_ = s.writer.Close()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("shutdown worker error", "err", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("discovery: shutdown timed out")
	}
}
