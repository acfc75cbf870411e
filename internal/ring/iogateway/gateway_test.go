package iogateway

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestListenFindsFreePort(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	busy := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	ln, port, err := Listen("127.0.0.1", busy, 5)
	assert.NilError(t, err)
	defer ln.Close()
	assert.Assert(t, port >= busy)
}

func TestDialAndAcceptHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		_, err = Accept(nc, Config{ReadTimeout: 2 * time.Second})
		accepted <- err
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), Config{ConnectTimeout: 2 * time.Second, ReadTimeout: 2 * time.Second})
	assert.NilError(t, err)
	defer c.Close()

	assert.NilError(t, <-accepted)
}

func TestTimeoutObjectCancelBeforeFire(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	nc, err := net.Dial("tcp", ln.Addr().String())
	assert.NilError(t, err)
	defer nc.Close()

	guard := Arm(nc, time.Second)
	ok := guard.Cancel()
	assert.Assert(t, ok)
	assert.Assert(t, !guard.Fired())
}

func TestTimeoutObjectForceClosesOnFire(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	nc, err := net.Dial("tcp", ln.Addr().String())
	assert.NilError(t, err)
	defer nc.Close()

	guard := Arm(nc, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	ok := guard.Cancel()
	assert.Assert(t, !ok)
	assert.Assert(t, guard.Fired())

	_, err = nc.Write([]byte("x"))
	assert.Assert(t, err != nil)
}
