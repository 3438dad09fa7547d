// Package rendezvous implements the server-side half of the system: the
// per-connection state machine (Socket -> Authorized -> PortForward), the
// raw-copy splice that follows it, and the accept loop that ties both to a
// listening socket. Grounded on the teacher's socks.Server (semaphore-bounded
// accept loop, per-connection goroutine, deadline discipline).
package rendezvous

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/arkwright/portrelay/registry"
	"github.com/arkwright/portrelay/store"
	"github.com/arkwright/portrelay/tunnel"
)

// maxConns bounds concurrently in-flight connections, mirroring the
// teacher's socks.Server semaphore. A forwarded circuit holds its slot for
// the circuit's lifetime, not just its handshake, so this is sized
// generously relative to the teacher's SOCKS proxy use.
const maxConns = 4096

// acceptedSocketTTL is the IP TTL applied to every accepted socket
// (spec.md §4.4), bounding how far a stray forwarded packet can travel if
// routing goes wrong. Preserved verbatim from the source design (spec.md §9:
// "appears to be a deliberate anti-amplification measure; preserve it").
const acceptedSocketTTL = 16

// Server owns the rendezvous registry and accepts control connections,
// handing each off to its own Connection FSM task.
type Server struct {
	Addr       string
	PrivateKey *rsa.PrivateKey
	Store      store.Store
	Registry   *registry.Registry
	Log        zerolog.Logger

	metrics *serverMetrics
	ln      net.Listener
	sem     chan struct{}
}

// ListenAndServe binds Addr and runs the accept loop until the listener is
// closed or a fatal accept error occurs. It never returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("rendezvous: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, spawning one Connection FSM task per
// socket. The loop never blocks on per-connection work (spec.md §4.6).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	s.sem = make(chan struct{}, maxConns)
	if s.metrics == nil {
		s.metrics = newServerMetrics()
	}
	s.Log.Info().Str("addr", ln.Addr().String()).Msg("rendezvous server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("rendezvous: accept: %w", err)
		}
		setAcceptedTTL(conn, s.Log)

		s.metrics.connections_accepted_total.Inc()
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections are
// unaffected.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	tun := tunnel.New(conn, s.PrivateKey)
	c := newConnection(tun, s.Store, s.Registry, s.metrics, s.Log)
	c.run(ctx)
}

// setAcceptedTTL applies acceptedSocketTTL to conn if it is a TCP/IPv4
// socket. Failure is logged and otherwise ignored (spec.md §4.6: "continue
// on error").
func setAcceptedTTL(conn net.Conn, log zerolog.Logger) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := ipv4.NewConn(tcpConn).SetTTL(acceptedSocketTTL); err != nil {
		log.Debug().Err(err).Msg("failed to set accepted socket TTL")
	}
}
