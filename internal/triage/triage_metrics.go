package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	SkipsTotal         *prometheus.CounterVec
	ColumnFetchTotal   *prometheus.CounterVec
	ColumnFetchTime    prometheus.Histogram
	InsuranceUpdates   *prometheus.CounterVec
	OwnerUpdates       *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewqueue_transitions_total",
			Help: "Status transitions issued, by source slug, target slug and outcome.",
		}, []string{"from", "to", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewqueue_transition_duration_seconds",
			Help:    "Duration of status update writes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"outcome"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewqueue_transition_skips_total",
			Help: "Transition attempts ignored without a write, by reason.",
		}, []string{"reason"}),
		ColumnFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewqueue_column_fetches_total",
			Help: "Column list reads by outcome.",
		}, []string{"outcome"}),
		ColumnFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewqueue_column_fetch_duration_seconds",
			Help:    "Duration of column list reads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
		InsuranceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewqueue_insurance_updates_total",
			Help: "Insurance verification writes by field and outcome.",
		}, []string{"field", "outcome"}),
		OwnerUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewqueue_owner_updates_total",
			Help: "Ownership writes by action and outcome.",
		}, []string{"action", "outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reviewqueue_active_sessions",
			Help: "Board sessions currently mounted.",
		}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.TransitionDuration,
		m.SkipsTotal,
		m.ColumnFetchTotal,
		m.ColumnFetchTime,
		m.InsuranceUpdates,
		m.OwnerUpdates,
		m.ActiveSessions,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnTransition: func(e *TransitionEvent) {
			o := outcome(e.Err)
			m.TransitionsTotal.WithLabelValues(e.From, e.To, o).Inc()
			m.TransitionDuration.WithLabelValues(o).Observe(e.Duration)
		},
		OnSkip: func(reason string) {
			m.SkipsTotal.WithLabelValues(reason).Inc()
		},
	}
}

// ObserveFetch records one column read.
func (m *Metrics) ObserveFetch(duration float64, err error) {
	m.ColumnFetchTotal.WithLabelValues(outcome(err)).Inc()
	m.ColumnFetchTime.Observe(duration)
}

// ObserveInsurance records one insurance field write.
func (m *Metrics) ObserveInsurance(field string, err error) {
	m.InsuranceUpdates.WithLabelValues(field, outcome(err)).Inc()
}

// ObserveOwner records one ownership write.
func (m *Metrics) ObserveOwner(action string, err error) {
	m.OwnerUpdates.WithLabelValues(action, outcome(err)).Inc()
}
