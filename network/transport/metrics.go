package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one Network. A nil *Metrics
// records nothing.
type Metrics struct {
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	datagramsSent     prometheus.Counter
	datagramsReceived prometheus.Counter
	datagramsDropped  *prometheus.CounterVec
	packetsResent     prometheus.Counter
	timeouts          prometheus.Counter
	roundTrips        prometheus.Histogram
	connections       *prometheus.GaugeVec
}

// NewMetrics registers the transport collectors on reg under namespace
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the UDP socket",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the UDP socket",
		}),
		datagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "datagrams_sent_total",
			Help:      "Total datagrams sent",
		}),
		datagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Total datagrams received",
		}),
		datagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams discarded on receive, by reason",
		}, []string{"reason"}),
		packetsResent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "packets_resent_total",
			Help:      "Reliable packets queued again after presumed loss",
		}),
		timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "timeouts_total",
			Help:      "Peers that stopped answering",
		}),
		roundTrips: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "round_trip_seconds",
			Help:      "Time from sending a datagram to its acknowledgement",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Live peers by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
	m.datagramsSent.Inc()
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
	m.datagramsReceived.Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.datagramsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) resent(n int) {
	if m == nil || n == 0 {
		return
	}
	m.packetsResent.Add(float64(n))
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) roundTrip(d time.Duration) {
	if m == nil {
		return
	}
	m.roundTrips.Observe(d.Seconds())
}

// observe publishes the number of peers in each live status
func (m *Metrics) observe(counts map[Status]int) {
	if m == nil {
		return
	}
	for _, s := range []Status{StatusDisconnected, StatusHandshake, StatusConnected} {
		m.connections.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
