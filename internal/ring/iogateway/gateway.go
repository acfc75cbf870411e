// Package iogateway provides timed, deadline-aware socket primitives
// used by the ring transport: connect with a bounded deadline, reads
// guarded by the connection's native read deadline, and writes guarded
// by an out-of-band TimeoutObject that force-closes the socket on
// expiry.
package iogateway

import (
	"context"
	"net"
	"time"

	"ringmesh/internal/ring/wire"
)

// Config holds the per-operation deadlines the gateway enforces.
type Config struct {
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration // write guard duration
	ReadTimeout    time.Duration
}

// Conn wraps a net.Conn with the gateway's timed Read/Write/Handshake
// operations. A Conn is owned by exactly one goroutine at a time; the
// ring writer and an inbound reader never share one.
type Conn struct {
	nc  net.Conn
	cfg Config
}

// Dial connects to addr within cfg.ConnectTimeout, disables Nagle, and
// performs the initiator side of the magic-header handshake before
// returning.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Classify(err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c := &Conn{nc: nc, cfg: cfg}
	if err := wire.HandshakeInitiate(c); err != nil {
		_ = nc.Close()
		return nil, Classify(err)
	}
	return c, nil
}

// Accept wraps an already-accepted net.Conn, disables Nagle, and
// performs the responder side of the handshake.
func Accept(nc net.Conn, cfg Config) (*Conn, error) {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c := &Conn{nc: nc, cfg: cfg}
	if err := wire.HandshakeRespond(c); err != nil {
		_ = nc.Close()
		return nil, Classify(err)
	}
	return c, nil
}

// Read implements io.Reader using the connection's native read
// deadline, saved and restored around the call.
func (c *Conn) Read(b []byte) (int, error) {
	if c.cfg.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		defer c.nc.SetReadDeadline(time.Time{})
	}
	n, err := c.nc.Read(b)
	if err != nil {
		return n, Classify(err)
	}
	return n, nil
}

// Write implements io.Writer. It arms an out-of-band TimeoutObject for
// cfg.SocketTimeout before issuing the write and cancels it on return;
// if the guard fires mid-write the underlying socket is force-closed
// and the in-flight Write returns an error that classifies as Timeout.
func (c *Conn) Write(b []byte) (int, error) {
	if c.cfg.SocketTimeout <= 0 {
		n, err := c.nc.Write(b)
		return n, Classify(err)
	}

	guard := Arm(c.nc, c.cfg.SocketTimeout)
	n, err := c.nc.Write(b)
	if !guard.Cancel() {
		return n, Classify(ErrTimeoutOnForceClose)
	}
	if err != nil {
		return n, Classify(err)
	}
	return n, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Raw exposes the underlying net.Conn for callers (e.g. the transport
// layer) that need SetDeadline directly around multi-step operations.
func (c *Conn) Raw() net.Conn {
	return c.nc
}
