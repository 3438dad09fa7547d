// Package registry implements the server's in-memory rendezvous state: the
// table of currently authenticated nodes, and the short-lived table of
// forward halves waiting to be claimed by their Share-side counterpart.
package registry

import (
	"sort"
	"strconv"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/arkwright/portrelay/tunnel"
)

// pendingTTL bounds how long a Receive-side half-pair waits in pending for
// its Share counterpart before it is evicted from the table. Eviction only
// drops the entry; the evicted halves are not closed. The happy path
// claims entries within milliseconds (the Share side polls at 10 Hz); this
// only guards against an abandoned Receive whose Share never arrives.
const pendingTTL = 2 * time.Minute

// Halves is a claimed pair of raw connection halves awaiting a splice
// partner.
type Halves struct {
	Read  tunnel.ReadHalf
	Write tunnel.WriteHalf
}

// Registry owns the nodes and pending tables described in spec §3. The zero
// value is not usable; construct with New.
type Registry struct {
	mu    sync.RWMutex // guards nodes only; never held across Tunnel I/O
	nodes map[string]*tunnel.Tunnel

	pendingMu sync.Mutex   // serializes claim-or-absent checks on pending
	pending   *cache.Cache // id (string) -> Halves
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		nodes:   make(map[string]*tunnel.Tunnel),
		pending: cache.New(pendingTTL, pendingTTL/2),
	}
}

// RegisterNode adds hostname's Tunnel to the live node table. It reports
// false, leaving the existing entry untouched, if hostname is already
// registered (spec §3: "a second attempt for the same hostname is rejected
// silently").
func (r *Registry) RegisterNode(hostname string, t *tunnel.Tunnel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[hostname]; exists {
		return false
	}
	r.nodes[hostname] = t
	return true
}

// UnregisterNode removes hostname from the node table, if present. Called
// when a node's per-connection task exits.
func (r *Registry) UnregisterNode(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, hostname)
}

// LookupNode returns the live Tunnel registered for hostname, if any.
func (r *Registry) LookupNode(hostname string) (*tunnel.Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.nodes[hostname]
	return t, ok
}

// EvictNode forcibly removes and returns hostname's Tunnel, for
// RemoveNode-driven teardown (SPEC_FULL.md §3 supplement).
func (r *Registry) EvictNode(hostname string) (*tunnel.Tunnel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.nodes[hostname]
	if ok {
		delete(r.nodes, hostname)
	}
	return t, ok
}

// NodeCount reports the number of currently live node registrations, for
// metrics.
func (r *Registry) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Hostnames returns up to limit live node hostnames, sorted, strictly after
// the cursor after (SPEC_FULL.md §3's ListNodes: "lists currently-registered
// hostnames from the in-memory nodes registry"). limit==0 means unbounded.
func (r *Registry) Hostnames(after string, limit uint64) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.nodes))
	for hostname := range r.nodes {
		if hostname > after {
			names = append(names, hostname)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	if limit > 0 && uint64(len(names)) > limit {
		names = names[:limit]
	}
	return names
}

func pendingKey(id uint64) string {
	// go-cache keys on string; format once here rather than scattering
	// strconv calls across callers.
	return strconv.FormatUint(id, 10)
}

// PutPending inserts a Receive-side half-pair under id, to be claimed by the
// matching Share side.
func (r *Registry) PutPending(id uint64, h Halves) {
	r.pending.Set(pendingKey(id), h, cache.DefaultExpiration)
}

// ClaimPending removes and returns the half-pair registered under id, if
// present. Get-then-Delete is serialized under pendingMu so only the first
// caller to observe an entry present ever claims it (spec §3: pending
// entries are "moved out exactly once").
func (r *Registry) ClaimPending(id uint64) (Halves, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	v, ok := r.pending.Get(pendingKey(id))
	if !ok {
		return Halves{}, false
	}
	r.pending.Delete(pendingKey(id))
	return v.(Halves), true
}

// PendingCount reports the number of half-pairs currently waiting to be
// claimed, for metrics.
func (r *Registry) PendingCount() int {
	return r.pending.ItemCount()
}
