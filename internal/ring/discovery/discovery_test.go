package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"ringmesh/internal/ring/addressbook"
	"ringmesh/internal/ring/testkit"
	"ringmesh/internal/ring/wire"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LocalAddress = "127.0.0.1"
	cfg.LocalPort = 0
	cfg.LocalPortRange = 200
	cfg.NetworkTimeout = time.Second
	cfg.SocketTimeout = time.Second
	cfg.AckTimeout = 200 * time.Millisecond
	cfg.MaxAckTimeout = time.Second
	cfg.ReconnectCount = 1
	cfg.ProductVersionMajor = 1
	return cfg
}

func TestNewDefaultsToServerImplementation(t *testing.T) {
	spi, err := New(uuid.New(), WithConfig(testConfig()))
	assert.NilError(t, err)
	defer spi.Disconnect(context.Background())

	_, ok := spi.(*serverSPI)
	assert.Assert(t, ok)
}

func TestNewAsClientReturnsClientImplementation(t *testing.T) {
	spi, err := New(uuid.New(), AsClient(), WithConfig(testConfig()))
	assert.NilError(t, err)

	_, ok := spi.(*clientSPI)
	assert.Assert(t, ok)

	err = spi.Ping(context.Background(), uuid.New())
	assert.Assert(t, err != nil)
}

func TestForceServerModeOverridesAsClient(t *testing.T) {
	spi, err := New(uuid.New(), AsClient(), WithConfig(func() Config {
		cfg := testConfig()
		cfg.ForceServerMode = true
		return cfg
	}()))
	assert.NilError(t, err)
	defer spi.Disconnect(context.Background())

	_, ok := spi.(*serverSPI)
	assert.Assert(t, ok)
}

func TestServerBootstrapsSingleMemberRingWhenNoPeers(t *testing.T) {
	self := uuid.New()
	spi, err := New(self, WithConfig(testConfig()))
	assert.NilError(t, err)
	defer spi.Disconnect(context.Background())

	assert.NilError(t, spi.Start(context.Background()))

	snap := spi.GetRemoteNodes()
	assert.Equal(t, len(snap.Nodes), 1)
	assert.Assert(t, snap.IsCoordinator(self))
}

func TestHooksObserveInboundJoinTraffic(t *testing.T) {
	hooks := testkit.NewHooks()
	var mu sync.Mutex
	var kinds []wire.Kind
	hooks.AddMessageListener(func(env wire.Envelope) {
		mu.Lock()
		kinds = append(kinds, env.Kind)
		mu.Unlock()
	})

	a := uuid.New()
	spiA, err := New(a, WithConfig(testConfig()), WithTestHooks(hooks))
	assert.NilError(t, err)
	defer spiA.Disconnect(context.Background())
	assert.NilError(t, spiA.Start(context.Background()))

	nodeA := spiA.(*serverSPI)

	b := uuid.New()
	spiB, err := New(b, WithConfig(testConfig()), WithProvider(addressbook.NewStatic(nodeA.listenAddr)))
	assert.NilError(t, err)
	defer spiB.Disconnect(context.Background())
	assert.NilError(t, spiB.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		seen := len(kinds) > 0
		mu.Unlock()
		if seen {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawJoin bool
	for _, k := range kinds {
		if k == wire.KindJoinRequest {
			sawJoin = true
		}
	}
	assert.Assert(t, sawJoin)
}

func TestClientAttachReceivesTopologyFromRouter(t *testing.T) {
	a := uuid.New()
	spiA, err := New(a, WithConfig(testConfig()))
	assert.NilError(t, err)
	defer spiA.Disconnect(context.Background())
	assert.NilError(t, spiA.Start(context.Background()))

	nodeA := spiA.(*serverSPI)

	x := uuid.New()
	spiX, err := New(x, AsClient(), WithConfig(testConfig()), WithProvider(addressbook.NewStatic(nodeA.listenAddr)))
	assert.NilError(t, err)
	defer spiX.Disconnect(context.Background())
	assert.NilError(t, spiX.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := spiX.GetRemoteNodes()
		if snap.Live(a) && snap.Live(x) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := spiX.GetRemoteNodes()
	assert.Assert(t, snap.Live(a))
	assert.Assert(t, snap.Live(x))
	assert.Assert(t, snap.IsCoordinator(a))

	node, ok := snap.Find(x)
	assert.Assert(t, ok)
	assert.Assert(t, node.Client)
}

func TestServerJoinRequestAdmittedByExistingCoordinator(t *testing.T) {
	a := uuid.New()
	spiA, err := New(a, WithConfig(testConfig()))
	assert.NilError(t, err)
	defer spiA.Disconnect(context.Background())
	assert.NilError(t, spiA.Start(context.Background()))

	nodeA := spiA.(*serverSPI)

	b := uuid.New()
	spiB, err := New(b, WithConfig(testConfig()), WithProvider(addressbook.NewStatic(nodeA.listenAddr)))
	assert.NilError(t, err)
	defer spiB.Disconnect(context.Background())

	assert.NilError(t, spiB.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(nodeA.broker.Current().Nodes) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, len(nodeA.broker.Current().Nodes), 2)
}
