package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/clientmode"
	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/topology"
)

// clientSPI is the router-attached implementation of SPI: a single
// socket to a router node maintained by clientmode.Client, with no ring
// position of its own.
type clientSPI struct {
	client *clientmode.Client

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newClientSPI(selfID uuid.UUID, o *options) (*clientSPI, error) {
	book := addressbook.New(o.provider, 0, true, addressbook.WithClientDefaultPort(o.cfg.LocalPort))
	var credential []byte
	if signer, ok := o.authn.(interface{ Sign(uuid.UUID) []byte }); ok {
		credential = signer.Sign(selfID)
	}
	// the router socket doubles as a push stream and may sit idle between
	// events; the heartbeat deadline, not a read timeout, detects a
	// silent router.
	dialCfg := iogateway.Config{
		ConnectTimeout: o.cfg.NetworkTimeout,
		SocketTimeout:  o.cfg.SocketTimeout,
	}
	client := clientmode.New(selfID, clientmode.Config{
		NetworkTimeout:      o.cfg.NetworkTimeout,
		ReconnectCount:      o.cfg.ReconnectCount,
		HeartbeatEvery:      o.cfg.HeartbeatFrequency,
		MaxMissedHeartbeats: o.cfg.MaxMissedClientHeartbeats,
		Credential:          credential,
	}, dialCfg, o.codec, book, o.listener, topology.NewBroker())

	return &clientSPI{client: client}, nil
}

// Start connects to a router and begins the background read loop that
// applies topology and custom-event traffic.
func (c *clientSPI) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("discovery: already started")
	}
	if err := c.client.Connect(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	// the read loop outlives Start's (possibly deadline-bound) context;
	// only Disconnect stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.client.Run(runCtx)
	}()
	return nil
}

// Ping is not meaningful for a router-attached client: liveness of the
// local attachment is the router connection itself.
func (c *clientSPI) Ping(context.Context, uuid.UUID) error {
	return fmt.Errorf("discovery: Ping is not supported for a client attachment")
}

// SendCustomEvent hands the payload to the router, which injects it
// into the ring; the coordinator's ack returns through the same socket.
func (c *clientSPI) SendCustomEvent(ctx context.Context, payload []byte) error {
	return c.client.SendCustomEvent(ctx, payload)
}

// FailNode reports id as failed under the caller's authority; the
// suspicion travels through the router to the coordinator for the
// authoritative emission.
func (c *clientSPI) FailNode(ctx context.Context, id uuid.UUID) error {
	return c.client.ReportFailed(ctx, id)
}

// GetRemoteNodes returns the topology last replicated from the router.
func (c *clientSPI) GetRemoteNodes() topology.Snapshot {
	return c.client.Snapshot()
}

// Disconnect stops the read loop and closes the router socket.
func (c *clientSPI) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("discovery: shutdown timed out")
	}
}
