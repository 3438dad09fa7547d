package rendezvous

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkwright/portrelay/command"
	"github.com/arkwright/portrelay/registry"
	"github.com/arkwright/portrelay/store"
	"github.com/arkwright/portrelay/tunnel"
)

// getPortPollInterval and sharePortPollInterval are spec.md §4.5's 1 Hz /
// 10 Hz polling rates. Absence of the peer side is a deliberate wait, not
// an error.
const (
	getPortPollInterval   = 1 * time.Second
	sharePortPollInterval = 100 * time.Millisecond

	// handshakeTimeout bounds only the initial public-key exchange, mirroring
	// the teacher's link.Handshake deadline convention; the command loop
	// that follows has no deadline of its own.
	handshakeTimeout = 30 * time.Second
)

type socketState int

const (
	stateSocket socketState = iota
	stateAuthorized
	statePortForward
)

// forwardKind distinguishes the two sides of a paired forwarded circuit.
type forwardKind int

const (
	forwardReceive forwardKind = iota
	forwardShare
)

// connection runs the per-accepted-socket state machine of spec.md §4.4:
// Socket -> Authorized -> PortForward, dispatching one command per Tunnel
// frame until it either exits to splice or the Tunnel fails.
type connection struct {
	tun      *tunnel.Tunnel
	store    store.Store
	registry *registry.Registry
	metrics  *serverMetrics
	log      zerolog.Logger

	state      socketState
	hostname   string
	permission command.Permission

	// registered is true only for the connection that actually holds this
	// hostname's entry in the node registry. A second control connection
	// authenticating with the same token still reaches Authorized (it must,
	// to later dispatch SharePort — see authenticate's doc comment) but
	// registered stays false, so it never unregisters the live owner on
	// exit.
	registered bool
}

func newConnection(tun *tunnel.Tunnel, st store.Store, reg *registry.Registry, m *serverMetrics, log zerolog.Logger) *connection {
	return &connection{tun: tun, store: st, registry: reg, metrics: m, log: log, state: stateSocket}
}

// run drives the connection to completion: a dropped socket (handshake
// failure or a failed receive), or a successful handoff to splice. A failed
// authentication does not end it; the connection stays in Socket.
func (c *connection) run(ctx context.Context) {
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := c.tun.Handshake(handshakeCtx); err != nil {
		c.log.Debug().Err(err).Msg("handshake failed")
		c.metrics.connections_terminated_total.handshake_failed.Inc()
		return
	}

	for {
		payload, err := c.tun.Receive()
		if err != nil {
			c.log.Debug().Err(err).Str("hostname", c.hostname).Msg("tunnel receive failed")
			c.teardown()
			return
		}

		cmd, err := command.Decode(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("malformed command, ignoring")
			continue
		}

		if done := c.dispatch(ctx, cmd); done {
			return
		}
	}
}

// dispatch handles one command and reports whether the command loop should
// exit (the connection has entered PortForward).
func (c *connection) dispatch(ctx context.Context, cmd command.Command) bool {
	switch m := cmd.(type) {
	case command.Authenticate:
		if c.state != stateSocket {
			return false
		}
		c.authenticate(ctx, m)
		return false

	case command.GetPort:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.Standard) {
			return false
		}
		c.getPort(ctx, m)
		return true

	case command.SharePort:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.Node) {
			return false
		}
		c.sharePort(m)
		return true

	case command.AddClient:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.MinPermission(m)) {
			return false
		}
		if err := c.store.InsertClient(ctx, m.Username, m.Permission, m.Token); err != nil {
			c.log.Debug().Err(err).Str("username", m.Username).Msg("add client rejected")
		}
		return false

	case command.RemoveNode:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.Admin(0)) {
			return false
		}
		if victim, ok := c.registry.EvictNode(m.Hostname); ok {
			_ = victim.Close()
		}
		return false

	case command.ListNodes:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.Standard) {
			return false
		}
		c.listNodes(m)
		return false

	case command.AddNode:
		if c.state != stateAuthorized || !c.permission.AtLeast(command.Admin(0)) {
			return false
		}
		// Reserved: pre-declaring a hostname/token pair in the credential
		// store is an operator concern (token generation and out-of-band
		// delivery), out of core scope beyond the permission gate above.
		return false

	default:
		// ListClients, RemoveClient: specified by the credential store's
		// contract, out of core scope (spec.md §4.4: "any other
		// combination — ignored").
		return false
	}
}

// listNodes answers ListNodes with the registry's current hostnames,
// honoring the after cursor and limit (SPEC_FULL.md §3).
func (c *connection) listNodes(m command.ListNodes) {
	hostnames := c.registry.Hostnames(m.After, m.Limit)
	if err := c.tun.Send(command.NodeList{Hostnames: hostnames}.Encode(nil)); err != nil {
		c.log.Debug().Err(err).Msg("failed to send NodeList response")
	}
}

// authenticate handles Socket + Authenticate{token}. A successful lookup
// always admits the connection to Authorized: a second control connection
// presenting the same node's token is how that node carries a forwarded
// circuit (it must itself reach Authorized to later send SharePort). Only
// the registry's hostname->Tunnel entry is first-wins; a losing connection
// is simply not discoverable via GetPort, and its eventual exit does not
// evict the entry that did win (see registered).
func (c *connection) authenticate(ctx context.Context, m command.Authenticate) {
	hostname, perm, ok, err := c.store.LookupByToken(ctx, m.Token)
	if err != nil || !ok {
		// Token lookup miss (or store error, treated identically per
		// spec.md §4.5): remain in Socket; the peer eventually closes.
		c.metrics.connections_terminated_total.auth_rejected.Inc()
		return
	}

	c.hostname = hostname
	c.permission = perm
	c.state = stateAuthorized
	c.registered = c.registry.RegisterNode(hostname, c.tun)
	if !c.registered {
		c.metrics.connections_terminated_total.node_duplicate.Inc()
	}
	c.metrics.nodes_registered.Set(float64(c.registry.NodeCount()))
}

func (c *connection) getPort(ctx context.Context, m command.GetPort) {
	id := randomID()

	var target *tunnel.Tunnel
	for {
		if t, ok := c.registry.LookupNode(m.Hostname); ok {
			target = t
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(getPortPollInterval):
		}
	}

	if err := target.Send(command.SharePort{Port: m.Port, ID: id}.Encode(nil)); err != nil {
		c.log.Debug().Err(err).Str("target", m.Hostname).Msg("failed to dispatch SharePort to node")
		return
	}

	c.enterPortForward(forwardReceive, id)
}

func (c *connection) sharePort(m command.SharePort) {
	c.enterPortForward(forwardShare, m.ID)
}

// enterPortForward consumes the Tunnel into raw halves and performs the
// pairing discipline of spec.md §4.5.
func (c *connection) enterPortForward(kind forwardKind, id uint64) {
	if c.registered {
		c.registry.UnregisterNode(c.hostname)
		c.metrics.nodes_registered.Set(float64(c.registry.NodeCount()))
	}

	read, write := c.tun.IntoHalves()

	switch kind {
	case forwardReceive:
		c.registry.PutPending(id, registry.Halves{Read: read, Write: write})
		c.metrics.pending_forwards_registered.Set(float64(c.registry.PendingCount()))
		// Ownership now sits in the registry; this task's job is done.

	case forwardShare:
		var peer registry.Halves
		for {
			if h, ok := c.registry.ClaimPending(id); ok {
				peer = h
				break
			}
			time.Sleep(sharePortPollInterval)
		}
		c.metrics.pending_forwards_registered.Set(float64(c.registry.PendingCount()))
		n := Splice(peer.Read, peer.Write, read, write)
		c.metrics.splice_bytes_total.Add(int(n))
		c.metrics.connections_terminated_total.splice_completed.Inc()
	}
}

// teardown releases registry state on an abnormal exit (Tunnel failure
// while Authorized, before reaching PortForward).
func (c *connection) teardown() {
	if c.registered && c.state == stateAuthorized {
		c.registry.UnregisterNode(c.hostname)
		c.metrics.nodes_registered.Set(float64(c.registry.NodeCount()))
	}
}

func randomID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
