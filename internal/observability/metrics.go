package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	InboundEvents   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Recordings      *prometheus.CounterVec
	PoolRecycles    *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	LedgerAppend    prometheus.Histogram
	ActiveMailboxes prometheus.Gauge
	Stages          *StageWindow
}

// NewMetrics registers the instruments on reg, or on the default registry
// when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound chat events by kind.",
		}, []string{"kind"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session actions by action and result.",
		}, []string{"action", "result"}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Confirmed recordings by language and decision.",
		}, []string{"language", "decision"}),
		PoolRecycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_recycles_total",
			Help:      "Sentence pool recycles by language.",
		}, []string{"language"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Outbound chat transport failures by channel and operation.",
		}, []string{"channel", "op"}),
		LedgerAppend: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_append_seconds",
			Help:      "Latency of metadata ledger appends.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		ActiveMailboxes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_mailboxes",
			Help:      "Users with queued or running events.",
		}),
		Stages: NewStageWindow(256),
	}
}

func (m *Metrics) ObserveInbound(kind string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTransition(action, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveRecording(language, decision string) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(language, decision).Inc()
}

func (m *Metrics) ObserveRecycle(language string) {
	if m == nil {
		return
	}
	m.PoolRecycles.WithLabelValues(language).Inc()
	m.Stages.ObserveIndicator("pool_recycled")
}

func (m *Metrics) ObserveTransportError(channel, op string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(channel, op).Inc()
}

func (m *Metrics) ObserveLedgerAppend(d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerAppend.Observe(d.Seconds())
	m.Stages.Observe("ledger_append", float64(d.Microseconds())/1000)
}

// ObserveStage records one sample of a named pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stages.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveIndicator counts a named pipeline event.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.Stages.ObserveIndicator(name)
}

func (m *Metrics) MailboxOpened() {
	if m == nil {
		return
	}
	m.ActiveMailboxes.Inc()
}

func (m *Metrics) MailboxClosed() {
	if m == nil {
		return
	}
	m.ActiveMailboxes.Dec()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves the instruments registered on g.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
