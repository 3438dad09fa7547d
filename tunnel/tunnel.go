package tunnel

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
)

// State is the channel state of a Tunnel.
type State int

const (
	AwaitingPublicKey State = iota
	Authenticated
	TransmitError
)

func (s State) String() string {
	switch s {
	case AwaitingPublicKey:
		return "AwaitingPublicKey"
	case Authenticated:
		return "Authenticated"
	case TransmitError:
		return "TransmitError"
	default:
		return "Unknown"
	}
}

// Sentinel errors, mirroring the upstream Rust Error enum (see
// original_source/util/src/mtls/error.rs and SPEC_FULL.md §7).
var (
	ErrNotReady   = errors.New("tunnel: not ready (handshake incomplete)")
	ErrSocketDied = errors.New("tunnel: socket died")
	ErrTimeout    = errors.New("tunnel: handshake timed out")
)

// Tunnel is a framed, RSA-encrypted bidirectional message channel over one
// duplex stream. Exactly one send and one receive may be in flight at a
// time; send and receive may run concurrently with each other.
type Tunnel struct {
	conn       net.Conn
	privateKey *rsa.PrivateKey

	stateMu sync.Mutex
	state   State
	peerKey *rsa.PublicKey

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// New constructs a Tunnel in state AwaitingPublicKey, with no peer key.
func New(conn net.Conn, privateKey *rsa.PrivateKey) *Tunnel {
	return &Tunnel{
		conn:       conn,
		privateKey: privateKey,
		state:      AwaitingPublicKey,
	}
}

// State returns the current channel state.
func (t *Tunnel) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// SetPublicKey installs a hard-coded peer key and transitions to
// Authenticated. Used to anchor trust on whichever side pre-installs the
// other's key (see SPEC_FULL.md §9).
func (t *Tunnel) SetPublicKey(pub *rsa.PublicKey) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.peerKey = pub
	t.state = Authenticated
}

func (t *Tunnel) setTransmitError() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.state = TransmitError
}

// SendPublicKey serializes the local public key as PKCS#1 DER and sends it.
// The peer key must already be set (Send encrypts to it).
func (t *Tunnel) SendPublicKey() error {
	der := x509.MarshalPKCS1PublicKey(&t.privateKey.PublicKey)
	return t.Send(der)
}

// Handshake performs a single Receive, parses the payload as a PKCS#1 DER
// public key, and installs it as the peer key, transitioning to
// Authenticated. If ctx carries a deadline and it elapses first, Handshake
// transitions to TransmitError and returns ErrTimeout.
func (t *Tunnel) Handshake(ctx context.Context) error {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := t.Receive()
		done <- result{payload, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		pub, err := x509.ParsePKCS1PublicKey(r.payload)
		if err != nil {
			t.setTransmitError()
			return fmt.Errorf("tunnel: parse peer public key: %w", err)
		}
		t.SetPublicKey(pub)
		return nil
	case <-ctx.Done():
		t.setTransmitError()
		return ErrTimeout
	}
}

// Send frames and transmits data. Only valid in state Authenticated; any
// I/O or encryption error transitions the channel to TransmitError.
func (t *Tunnel) Send(data []byte) error {
	t.stateMu.Lock()
	state, peerKey := t.state, t.peerKey
	t.stateMu.Unlock()

	switch state {
	case Authenticated:
		t.writeMu.Lock()
		err := EncodeFrame(t.conn, peerKey, data)
		t.writeMu.Unlock()
		if err != nil {
			t.setTransmitError()
			return err
		}
		return nil
	case TransmitError:
		return ErrSocketDied
	default:
		return ErrNotReady
	}
}

// Receive reads and decrypts one frame. Allowed in any state except
// TransmitError; decryption uses the local private key regardless of
// channel state.
func (t *Tunnel) Receive() ([]byte, error) {
	if t.State() == TransmitError {
		return nil, ErrSocketDied
	}

	t.readMu.Lock()
	payload, err := DecodeFrame(t.conn, t.privateKey)
	t.readMu.Unlock()
	if err != nil {
		t.setTransmitError()
		return nil, err
	}
	return payload, nil
}

// Close closes the underlying connection directly, without going through
// framed I/O. Used to forcibly evict a registered node (SPEC_FULL.md §3's
// RemoveNode).
func (t *Tunnel) Close() error {
	return t.conn.Close()
}

// IntoHalves consumes the Tunnel and returns its underlying raw duplex
// stream as independent read and write halves, for handoff to Splice once
// the control FSM has committed to PortForward. No further framed I/O is
// possible on this Tunnel afterward: it is left in TransmitError, so Send
// and Receive return ErrSocketDied.
func (t *Tunnel) IntoHalves() (ReadHalf, WriteHalf) {
	t.setTransmitError()
	return ReadHalf{conn: t.conn}, WriteHalf{conn: t.conn}
}
