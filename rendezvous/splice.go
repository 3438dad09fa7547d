package rendezvous

import (
	"io"
	"sync"

	"github.com/arkwright/portrelay/tunnel"
)

// Splice joins two duplex half-pairs with raw bidirectional copy, grounded
// on the teacher's socks.Server.handleConn data-relay phase. Each direction
// terminates independently on its source's EOF or its sink's write error;
// Splice itself returns once both directions have terminated, reporting the
// total bytes copied across both directions for the caller's metrics.
func Splice(a tunnel.ReadHalf, aw tunnel.WriteHalf, b tunnel.ReadHalf, bw tunnel.WriteHalf) int64 {
	var wg sync.WaitGroup
	wg.Add(2)

	var aToB, bToA int64
	go func() {
		defer wg.Done()
		aToB, _ = io.Copy(bw, a)
		_ = bw.Close()
	}()

	go func() {
		defer wg.Done()
		bToA, _ = io.Copy(aw, b)
		_ = aw.Close()
	}()

	wg.Wait()
	return aToB + bToA
}
