package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass outcomes used as the result label.
const (
	resultOK      = "ok"
	resultAborted = "aborted"
	resultFailed  = "failed"
)

// Metrics holds the tracker's prometheus collectors.
type Metrics struct {
	passes        *prometheus.CounterVec
	queued        prometheus.Counter
	fetchFailures *prometheus.CounterVec
	parseFailures prometheus.Counter
	passDuration  prometheus.Histogram
}

// NewMetrics registers the tracker collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tveebot",
			Subsystem: "tracker",
			Name:      "passes_total",
			Help:      "Tracking passes by result.",
		}, []string{"result"}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tveebot",
			Subsystem: "tracker",
			Name:      "episodes_queued_total",
			Help:      "Episodes discovered and handed to the downloader.",
		}),
		fetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tveebot",
			Subsystem: "tracker",
			Name:      "fetch_failures_total",
			Help:      "Feed fetch failures by reason.",
		}, []string{"reason"}),
		parseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tveebot",
			Subsystem: "tracker",
			Name:      "parse_failures_total",
			Help:      "Feed entries whose title could not be parsed.",
		}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tveebot",
			Subsystem: "tracker",
			Name:      "pass_duration_seconds",
			Help:      "Duration of tracking passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// A nil *Metrics records nothing.

func (m *Metrics) pass(result string, seconds float64) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	m.passDuration.Observe(seconds)
}

func (m *Metrics) episodeQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

func (m *Metrics) fetchFailed(reason string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) parseFailed() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}
