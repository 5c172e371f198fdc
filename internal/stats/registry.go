package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the Prometheus collectors shared by every handler's
// Clock, plus the daemon-wide tickets_active gauge that the /info/
// endpoint updates.
type Registry struct {
	Reg          *prometheus.Registry
	OpDuration   *prometheus.HistogramVec
	TicketsGauge prometheus.Gauge
	BytesTotal   *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Reg: reg,
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imageio",
			Name:      "operation_duration_seconds",
			Help:      "Duration of named transfer operations (read, write, zero, flush, checksum).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		TicketsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imageio",
			Name:      "tickets_active",
			Help:      "Number of tickets currently held by the authorizer.",
		}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageio",
			Name:      "bytes_total",
			Help:      "Total bytes moved per operation kind.",
		}, []string{"op"}),
	}
	reg.MustRegister(r.OpDuration, r.TicketsGauge, r.BytesTotal)
	return r
}

// NewTimer returns a Clock that records into this registry.
func (r *Registry) NewTimer() *Clock {
	return NewClock(r.OpDuration)
}
