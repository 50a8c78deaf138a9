package meter

import "github.com/prometheus/client_golang/prometheus"

// Registerer is re-exported so callers configuring metrics don't need to
// import the prometheus client themselves.
type Registerer = prometheus.Registerer

type metrics struct {
	packets prometheus.CounterFunc
	skipped prometheus.CounterFunc
	emitted prometheus.CounterFunc
	active  prometheus.GaugeFunc
}

// newMetrics registers the run's counters with reg. A nil registerer
// disables metrics entirely.
func newMetrics(m *Meter, reg Registerer) *metrics {
	if reg == nil {
		return nil
	}
	ret := &metrics{
		packets: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gometer",
			Name:      "packets_total",
			Help:      "Packets read from the source.",
		}, func() float64 { return float64(m.packets.Load()) }),
		skipped: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gometer",
			Name:      "skipped_packets_total",
			Help:      "Malformed packets skipped during decoding.",
		}, func() float64 { return float64(m.skipped.Load()) }),
		emitted: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gometer",
			Name:      "emitted_flows_total",
			Help:      "Flow records emitted into the merge stream.",
		}, func() float64 { return float64(m.emitted.Load()) }),
		active: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gometer",
			Name:      "active_flows",
			Help:      "Flows currently tracked across all workers.",
		}, func() float64 { return float64(m.activeFlows()) }),
	}
	reg.MustRegister(ret.packets, ret.skipped, ret.emitted, ret.active)
	return ret
}
