package transport

import (
	"context"
	"log/slog"
	"net"

	"ringmesh/internal/ring/iogateway"
	"ringmesh/internal/ring/wire"
)

// inbound is one decoded envelope handed from a reader task to the
// message worker, paired with the connection it arrived on so the
// worker can write the acceptance receipt.
type inbound struct {
	conn *iogateway.Conn
	env  wire.Envelope
}

// Server accepts inbound ring connections, feeding every decoded
// envelope onto a single FIFO queue the message worker drains.
type Server struct {
	ln      net.Listener
	dialCfg iogateway.Config
	codec   wire.Codec
	queue   chan inbound
	log     *slog.Logger
}

// NewServer wraps ln, decoding inbound frames with codec and enqueuing
// them on a channel of the given depth.
func NewServer(ln net.Listener, dialCfg iogateway.Config, codec wire.Codec, queueDepth int) *Server {
	return &Server{
		ln:      ln,
		dialCfg: dialCfg,
		codec:   codec,
		queue:   make(chan inbound, queueDepth),
		log:     slog.Default().With("component", "ring.transport.server"),
	}
}

// Queue returns the channel the message worker reads from.
func (s *Server) Queue() <-chan inbound {
	return s.queue
}

// Serve runs the single-threaded accept loop until ctx is cancelled or
// the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn, err := iogateway.Accept(nc, s.dialCfg)
		if err != nil {
			s.log.Warn("inbound handshake failed", "remote", nc.RemoteAddr(), "err", err)
			continue
		}
		go s.readLoop(ctx, conn)
	}
}

func (s *Server) readLoop(ctx context.Context, conn *iogateway.Conn) {
	defer conn.Close()
	// inbound reads carry no idle deadline; shutdown unblocks them by
	// closing the socket.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		if ctx.Err() != nil {
			return
		}
		env, err := wire.ReadMessage(conn, s.codec)
		if err != nil {
			s.log.Debug("inbound connection closed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		select {
		case s.queue <- inbound{conn: conn, env: env}:
		case <-ctx.Done():
			return
		}
	}
}
