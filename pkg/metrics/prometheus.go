package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pairResults    *prometheus.CounterVec
	barsWritten    *prometheus.CounterVec
	mergeWarnings  *prometheus.CounterVec
	timeouts       prometheus.Counter
	protocolErrors *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	queueSize      *prometheus.GaugeVec
}

// New creates a recorder registered with the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		pairResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barharvest_pairs_total",
				Help: "Pairs processed by result status",
			},
			[]string{"interval", "status"},
		),
		barsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barharvest_bars_written_total",
				Help: "Bars appended to series files",
			},
			[]string{"interval"},
		),
		mergeWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barharvest_merge_warnings_total",
				Help: "Appends whose overlap disagreed with stored rows",
			},
			[]string{"interval"},
		),
		timeouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "barharvest_protocol_timeouts_total",
				Help: "Receive timeouts on quote connections",
			},
		),
		protocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barharvest_protocol_errors_total",
				Help: "Error events received from the quote service",
			},
			[]string{"event"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barharvest_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barharvest_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"operation"},
		),
		queueSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barharvest_scheduler_pairs",
				Help: "Pairs per scheduler state",
			},
			[]string{"state"},
		),
	}
}

func (r *Recorder) RecordPairResult(interval, status string) {
	r.pairResults.WithLabelValues(interval, status).Inc()
}

func (r *Recorder) RecordBarsWritten(interval string, n int) {
	r.barsWritten.WithLabelValues(interval).Add(float64(n))
}

func (r *Recorder) RecordMergeWarning(interval string) {
	r.mergeWarnings.WithLabelValues(interval).Inc()
}

func (r *Recorder) RecordTimeout() {
	r.timeouts.Inc()
}

func (r *Recorder) RecordProtocolError(event string) {
	r.protocolErrors.WithLabelValues(event).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetQueueSizes(ready, waiting, errored int) {
	r.queueSize.WithLabelValues("ready").Set(float64(ready))
	r.queueSize.WithLabelValues("waiting").Set(float64(waiting))
	r.queueSize.WithLabelValues("error").Set(float64(errored))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordPairResult(string, string) {}
func (Nop) RecordBarsWritten(string, int) {}
func (Nop) RecordMergeWarning(string) {}
func (Nop) RecordTimeout() {}
func (Nop) RecordProtocolError(string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) SetQueueSizes(int, int, int) {}
