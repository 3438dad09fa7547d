package rendezvous

import "github.com/VictoriaMetrics/metrics"

// serverMetrics mirrors the per-package *metrics.Set convention from
// R2Northstar-Atlas's api0 package: one Set owning a field per
// counter/gauge, each constructed once in newServerMetrics.
type serverMetrics struct {
	set *metrics.Set

	connections_accepted_total   *metrics.Counter
	connections_terminated_total struct {
		handshake_failed *metrics.Counter
		auth_rejected    *metrics.Counter
		node_duplicate   *metrics.Counter
		splice_completed *metrics.Counter
	}
	nodes_registered            *metrics.Gauge
	pending_forwards_registered *metrics.Gauge
	splice_bytes_total          *metrics.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{set: metrics.NewSet()}
	m.connections_accepted_total = m.set.NewCounter(`portrelay_connections_accepted_total`)
	m.connections_terminated_total.handshake_failed = m.set.NewCounter(`portrelay_connections_terminated_total{reason="handshake_failed"}`)
	m.connections_terminated_total.auth_rejected = m.set.NewCounter(`portrelay_connections_terminated_total{reason="auth_rejected"}`)
	m.connections_terminated_total.node_duplicate = m.set.NewCounter(`portrelay_connections_terminated_total{reason="node_duplicate"}`)
	m.connections_terminated_total.splice_completed = m.set.NewCounter(`portrelay_connections_terminated_total{reason="splice_completed"}`)
	m.splice_bytes_total = m.set.NewCounter(`portrelay_splice_bytes_total`)

	m.nodes_registered = m.set.NewGauge(`portrelay_nodes_registered`, nil)
	m.pending_forwards_registered = m.set.NewGauge(`portrelay_pending_forwards_registered`, nil)
	return m
}
