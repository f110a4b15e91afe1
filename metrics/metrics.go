// Package metrics implements ambient concern A3: a per-connection
// Prometheus counters view, registered under the connection's
// correlation id so multiple concurrent connections can share a
// registry without collisions. No teacher file in the retrieved pack
// exercises prometheus directly (katzenpost's observability is
// log-only), so this follows the upstream client_golang idiom of a
// small struct of Counter/Gauge collectors, constant-labeled
// per instance, the same shape client_golang's own examples use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps one connection's Prometheus collectors, labeled with
// its correlation id so distinct connections register independently.
type Registry struct {
	CorrelationID string

	PacketsSent       prometheus.Counter
	PacketsReceived   prometheus.Counter
	PacketsRetransmitted prometheus.Counter
	PacketsDuplicate  prometheus.Counter
	PacketsDroppedLate prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter

	CongestionWindow prometheus.Gauge
	SRTTMicroseconds prometheus.Gauge
	InFlightPackets  prometheus.Gauge
}

// NewRegistry constructs a Registry's collectors labeled with
// correlationID, without registering them.
func NewRegistry(correlationID string) *Registry {
	labels := prometheus.Labels{"connection": correlationID}
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "srt",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	mkGauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "srt",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &Registry{
		CorrelationID:        correlationID,
		PacketsSent:          mk("packets_sent_total", "data packets sent"),
		PacketsReceived:      mk("packets_received_total", "data packets received"),
		PacketsRetransmitted: mk("packets_retransmitted_total", "data packets retransmitted"),
		PacketsDuplicate:     mk("packets_duplicate_total", "duplicate data packets dropped"),
		PacketsDroppedLate:   mk("packets_dropped_late_total", "TSBPD packets dropped for arriving too late"),
		BytesSent:            mk("bytes_sent_total", "payload bytes sent"),
		BytesReceived:        mk("bytes_received_total", "payload bytes received"),
		CongestionWindow:     mkGauge("congestion_window_packets", "current AIMD congestion window"),
		SRTTMicroseconds:     mkGauge("srtt_microseconds", "current smoothed RTT estimate"),
		InFlightPackets:      mkGauge("in_flight_packets", "currently unacknowledged packets"),
	}
}

// Collectors returns every collector in r, for bulk registration.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.PacketsSent, r.PacketsReceived, r.PacketsRetransmitted,
		r.PacketsDuplicate, r.PacketsDroppedLate, r.BytesSent, r.BytesReceived,
		r.CongestionWindow, r.SRTTMicroseconds, r.InFlightPackets,
	}
}

// Register adds every collector in r to reg. Because each collector
// carries a unique "connection" const label, registering two
// connections' Registrys on the same prometheus.Registry does not
// collide even though the metric names are shared.
func (r *Registry) Register(reg prometheus.Registerer) error {
	for _, c := range r.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes every collector in r from reg, for connection
// teardown.
func (r *Registry) Unregister(reg prometheus.Registerer) {
	for _, c := range r.Collectors() {
		reg.Unregister(c)
	}
}
