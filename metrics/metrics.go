// Package metrics defines the prometheus collectors the tcp package
// increments as connections run, and a small per-endpoint handle that
// points every connection at the same package-level collectors so
// activity folds into overall rates instead of registering a new
// label set per socket.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SegmentsIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_segments_in_total",
		Help: "TCP segments delivered to an endpoint.",
	})

	SegmentsOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_segments_out_total",
		Help: "TCP segments transmitted by an endpoint.",
	})

	SegmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_segments_dropped_total",
		Help: "Inbound segments dropped as unacceptable, checksum-invalid, or unmatched.",
	})

	RetransmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_retransmits_total",
		Help: "Segments resent by the retransmit timer.",
	})

	FastRetransmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_fast_retransmits_total",
		Help: "Segments resent by the third-duplicate-ACK fast retransmit path.",
	})

	ConnectionsEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_connections_established_total",
		Help: "Connections that completed the three-way handshake.",
	})

	ConnectionsResetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcpcore_connections_reset_total",
		Help: "Connections torn down by a received RST.",
	})

	RTOHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tcpcore_rto_seconds",
		Help:    "Retransmission timeout value in effect when the timer fires.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Endpoint bundles the counters one connection touches. Every field
// aliases a package-level collector; there is deliberately no
// per-connection label, since a long-lived core can spawn far more
// connections than prometheus's cardinality budget tolerates.
type Endpoint struct {
	SegmentsIn      prometheus.Counter
	SegmentsOut     prometheus.Counter
	SegmentsDropped prometheus.Counter
	Retransmits     prometheus.Counter
	FastRetransmits prometheus.Counter
	Established     prometheus.Counter
	Reset           prometheus.Counter
	RTO             prometheus.Histogram
}

// NewEndpoint returns a handle wired to the package's shared
// collectors, ready to hand to tcp.NewEndpoint.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		SegmentsIn:      SegmentsIn,
		SegmentsOut:     SegmentsOut,
		SegmentsDropped: SegmentsDropped,
		Retransmits:     RetransmitsTotal,
		FastRetransmits: FastRetransmitsTotal,
		Established:     ConnectionsEstablishedTotal,
		Reset:           ConnectionsResetTotal,
		RTO:             RTOHistogram,
	}
}
