// Package slmetrics exposes Prometheus instrumentation for shared streams.
//
// A nil *Metrics is valid and records nothing,
// so a share without metrics configured pays only a nil check.
package slmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reset mode label values.
const (
	ResetModeLevel = "level"
	ResetModeEdge  = "edge"
)

// Metrics is the set of collectors for one share.
type Metrics struct {
	Connects     prometheus.Counter
	Values       prometheus.Counter
	Replays      prometheus.Counter
	Completions  prometheus.Counter
	Errors       prometheus.Counter
	Expirations  prometheus.Counter
	Resets       *prometheus.CounterVec
	Subscribers  prometheus.Gauge
	GracePending prometheus.Gauge
}

// Config is the configuration for [New].
type Config struct {
	// Registerer to register the collectors with.
	// Required.
	Registerer prometheus.Registerer

	Namespace string

	// Identifies the share in the "share" const label,
	// so that several shares can register against one registry.
	ShareName string
}

// New creates and registers the collectors described by cfg.
// It returns an error if registration fails,
// for instance because a share with the same name is already registered.
func New(cfg Config) (*Metrics, error) {
	labels := prometheus.Labels{"share": cfg.ShareName}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "sharelatest",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "sharelatest",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		Connects:    counter("upstream_connects_total", "Upstream connections opened."),
		Values:      counter("upstream_values_total", "Values relayed from the upstream."),
		Replays:     counter("replays_total", "Buffered values replayed to new subscribers."),
		Completions: counter("upstream_completions_total", "Upstream runs that completed."),
		Errors:      counter("upstream_errors_total", "Upstream runs that failed."),
		Expirations: counter("grace_expirations_total", "Grace periods that expired and discarded the cache."),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "sharelatest",
			Name:        "buffer_resets_total",
			Help:        "Buffer invalidations caused by a reset signal.",
			ConstLabels: labels,
		}, []string{"mode"}),
		Subscribers:  gauge("subscribers", "Current number of subscribers."),
		GracePending: gauge("grace_pending", "1 while a grace timer is pending, otherwise 0."),
	}

	for _, c := range []prometheus.Collector{
		m.Connects, m.Values, m.Replays, m.Completions, m.Errors,
		m.Expirations, m.Resets, m.Subscribers, m.GracePending,
	} {
		if err := cfg.Registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.Connects.Inc()
}

func (m *Metrics) Relayed() {
	if m == nil {
		return
	}
	m.Values.Inc()
}

func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.Replays.Inc()
}

// UpstreamEnded records the end of an upstream run
// that was not caused by the share tearing it down.
func (m *Metrics) UpstreamEnded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Errors.Inc()
	} else {
		m.Completions.Inc()
	}
}

func (m *Metrics) Expired() {
	if m == nil {
		return
	}
	m.Expirations.Inc()
}

// Reset records a buffer invalidation; mode is [ResetModeLevel] or [ResetModeEdge].
func (m *Metrics) Reset(mode string) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(mode).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) SetGracePending(pending bool) {
	if m == nil {
		return
	}
	if pending {
		m.GracePending.Set(1)
	} else {
		m.GracePending.Set(0)
	}
}
