package tunnel

import (
	"net"
)

// ReadHalf and WriteHalf are the two independently-closable ends of a
// Tunnel's underlying stream, handed out by IntoHalves once the Tunnel has
// been torn down for raw splicing. Both wrap the same net.Conn; each Close
// half-closes its own direction where the transport supports it (e.g.
// *net.TCPConn) and falls back to a single shared full close otherwise.

// NewHalves wraps a plain net.Conn (e.g. the locally forwarded service a
// node dials, or the local listener a client's get accepts from) in the
// same ReadHalf/WriteHalf pair IntoHalves hands out, so Splice can join it
// against a Tunnel's raw stream.
func NewHalves(conn net.Conn) (ReadHalf, WriteHalf) {
	return ReadHalf{conn: conn}, WriteHalf{conn: conn}
}

// ReadHalf is the readable half of a spliced connection.
type ReadHalf struct {
	conn net.Conn
}

func (r ReadHalf) Read(p []byte) (int, error) { return r.conn.Read(p) }

func (r ReadHalf) Close() error {
	if half, ok := r.conn.(interface{ CloseRead() error }); ok {
		return half.CloseRead()
	}
	return r.conn.Close()
}

// WriteHalf is the writable half of a spliced connection.
type WriteHalf struct {
	conn net.Conn
}

func (w WriteHalf) Write(p []byte) (int, error) { return w.conn.Write(p) }

func (w WriteHalf) Close() error {
	if half, ok := w.conn.(interface{ CloseWrite() error }); ok {
		return half.CloseWrite()
	}
	return w.conn.Close()
}
