package registry

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"sync"
	"testing"

	"github.com/arkwright/portrelay/tunnel"
)

func testTunnel(t *testing.T) *tunnel.Tunnel {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 512)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	conn, _ := net.Pipe()
	t.Cleanup(func() { conn.Close() })
	return tunnel.New(conn, key)
}

func TestRegisterNodeRejectsDuplicateHostname(t *testing.T) {
	r := New()
	first := testTunnel(t)
	second := testTunnel(t)

	if !r.RegisterNode("node-a", first) {
		t.Fatal("expected first registration to succeed")
	}
	if r.RegisterNode("node-a", second) {
		t.Fatal("expected second registration for the same hostname to be rejected")
	}

	got, ok := r.LookupNode("node-a")
	if !ok {
		t.Fatal("expected node-a to be registered")
	}
	if got != first {
		t.Fatal("expected the original registration to remain in place")
	}
}

func TestUnregisterNodeAllowsReRegistration(t *testing.T) {
	r := New()
	first := testTunnel(t)
	second := testTunnel(t)

	r.RegisterNode("node-a", first)
	r.UnregisterNode("node-a")

	if !r.RegisterNode("node-a", second) {
		t.Fatal("expected re-registration after unregister to succeed")
	}
	if _, ok := r.LookupNode("node-a"); !ok {
		t.Fatal("expected node-a to be registered again")
	}
}

func TestLookupNodeMiss(t *testing.T) {
	r := New()
	if _, ok := r.LookupNode("nonexistent"); ok {
		t.Fatal("expected no match for an unregistered hostname")
	}
}

func TestEvictNode(t *testing.T) {
	r := New()
	tun := testTunnel(t)
	r.RegisterNode("node-a", tun)

	got, ok := r.EvictNode("node-a")
	if !ok || got != tun {
		t.Fatal("expected EvictNode to return the registered tunnel")
	}
	if _, ok := r.LookupNode("node-a"); ok {
		t.Fatal("expected node-a to be gone after eviction")
	}
	if _, ok := r.EvictNode("node-a"); ok {
		t.Fatal("expected a second eviction to report absent")
	}
}

// TestPendingClaimedExactlyOnce is spec.md §8 invariant covering the
// pending registry: concurrent claimants for the same id, only one wins.
func TestPendingClaimedExactlyOnce(t *testing.T) {
	r := New()
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	tun := tunnel.New(serverConn, nil)
	read, write := tun.IntoHalves()
	r.PutPending(42, Halves{Read: read, Write: write})

	const attempts = 16
	var wg sync.WaitGroup
	claims := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := r.ClaimPending(42)
			claims[i] = ok
		}(i)
	}
	wg.Wait()

	var wins int
	for _, claimed := range claims {
		if claimed {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", wins)
	}
}

func TestHostnames(t *testing.T) {
	r := New()
	r.RegisterNode("c", testTunnel(t))
	r.RegisterNode("a", testTunnel(t))
	r.RegisterNode("b", testTunnel(t))

	got := r.Hostnames("", 0)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Hostnames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Hostnames = %v, want %v", got, want)
		}
	}
}

func TestHostnamesAfterCursor(t *testing.T) {
	r := New()
	r.RegisterNode("a", testTunnel(t))
	r.RegisterNode("b", testTunnel(t))
	r.RegisterNode("c", testTunnel(t))

	got := r.Hostnames("a", 0)
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Hostnames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Hostnames = %v, want %v", got, want)
		}
	}
}

func TestHostnamesLimit(t *testing.T) {
	r := New()
	r.RegisterNode("a", testTunnel(t))
	r.RegisterNode("b", testTunnel(t))
	r.RegisterNode("c", testTunnel(t))

	got := r.Hostnames("", 2)
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Hostnames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Hostnames = %v, want %v", got, want)
		}
	}
}

func TestHostnamesEmpty(t *testing.T) {
	r := New()
	if got := r.Hostnames("", 0); len(got) != 0 {
		t.Fatalf("expected no hostnames, got %v", got)
	}
}

func TestClaimPendingMiss(t *testing.T) {
	r := New()
	if _, ok := r.ClaimPending(1); ok {
		t.Fatal("expected no entry for an unregistered id")
	}
}

func TestNodeAndPendingCounts(t *testing.T) {
	r := New()
	if r.NodeCount() != 0 || r.PendingCount() != 0 {
		t.Fatal("expected a fresh Registry to report zero counts")
	}

	r.RegisterNode("node-a", testTunnel(t))
	if r.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d, want 1", r.NodeCount())
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	tun := tunnel.New(serverConn, nil)
	read, write := tun.IntoHalves()
	r.PutPending(1, Halves{Read: read, Write: write})
	if r.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", r.PendingCount())
	}
}
