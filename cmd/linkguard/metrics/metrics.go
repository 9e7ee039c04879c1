// Package metrics provides Prometheus metrics instrumentation for linkguard.
//
// It exposes the health of every stage of the control loop: telemetry samples
// and gaps per source, forecast latency and cache effectiveness, the predicted
// demand and chosen tier per link, and the outcome of enforcement calls. All
// metrics are exposed via the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - linkguard_samples_total: Counter of delta samples per source
//   - linkguard_sample_gaps_total: Counter of missed samples per source and reason
//   - linkguard_forecast_seconds: Histogram of per-source forecast duration
//   - linkguard_forecast_cache_hits_total / _misses_total: Forecast cache lookups
//   - linkguard_predicted_bps: Gauge of predicted demand per link and group
//   - linkguard_tier: Gauge of the tier chosen per link (0 hold, 1 relax, 2 shape)
//   - linkguard_ceiling_bps: Gauge of the ceiling applied per link and class
//   - linkguard_decision_seconds: Histogram of decision cycle duration
//   - linkguard_last_decision_timestamp_seconds: Gauge of the last cycle per link
//   - linkguard_enforcement_calls_total: Counter of enforcement calls by result
//   - linkguard_history_resets_total: Counter of long-horizon history resets
//   - linkguard_errors_total: Counter of errors by component and reason
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/linkguard/pkg/telemetry"
)

// Metrics holds all Prometheus metrics for the controller.
type Metrics struct {
	SamplesTotal       *prometheus.CounterVec
	SampleGapsTotal    *prometheus.CounterVec
	ForecastSeconds    *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	PredictedBps       *prometheus.GaugeVec
	Tier               *prometheus.GaugeVec
	CeilingBps         *prometheus.GaugeVec
	DecisionSeconds    *prometheus.HistogramVec
	LastDecision       *prometheus.GaugeVec
	EnforcementCalls   *prometheus.CounterVec
	HistoryResetsTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

var _ telemetry.Observer = (*Metrics)(nil)

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SamplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkguard_samples_total",
			Help: "Total number of delta samples recorded per source",
		}, []string{"source"}),

		SampleGapsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkguard_sample_gaps_total",
			Help: "Total number of missed samples per source and reason",
		}, []string{"source", "reason"}),

		ForecastSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkguard_forecast_seconds",
			Help:    "Time spent forecasting one source",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"model"}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "linkguard_forecast_cache_hits_total",
			Help: "Forecasts served from the window cache",
		}),

		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "linkguard_forecast_cache_misses_total",
			Help: "Forecasts computed because the window cache missed",
		}),

		PredictedBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkguard_predicted_bps",
			Help: "Predicted demand for the current segment in bits per second",
		}, []string{"link", "group"}),

		Tier: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkguard_tier",
			Help: "Tier chosen in the last decision cycle (0 hold, 1 relax, 2 shape)",
		}, []string{"link"}),

		CeilingBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkguard_ceiling_bps",
			Help: "Ceiling in force per shaping class in bits per second",
		}, []string{"link", "class"}),

		DecisionSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkguard_decision_seconds",
			Help:    "Time spent in one decision cycle per link",
			Buckets: prometheus.DefBuckets,
		}, []string{"link"}),

		LastDecision: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkguard_last_decision_timestamp_seconds",
			Help: "Unix time of the last completed decision cycle",
		}, []string{"link"}),

		EnforcementCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkguard_enforcement_calls_total",
			Help: "Enforcement calls by result (applied, failed)",
		}, []string{"link", "result"}),

		HistoryResetsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "linkguard_history_resets_total",
			Help: "Long-horizon resets of sample history and forecast cache",
		}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkguard_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// ObserveSample counts one delta sample.
func (m *Metrics) ObserveSample(id telemetry.SourceID, _ uint64) {
	m.SamplesTotal.WithLabelValues(string(id)).Inc()
}

// ObserveGap counts one missed sample.
func (m *Metrics) ObserveGap(id telemetry.SourceID, err error) {
	m.SampleGapsTotal.WithLabelValues(string(id), GapReason(err)).Inc()
}

// GapReason classifies a sampling error for metric labels.
func GapReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrCounterReset):
		return "counter_reset"
	case errors.Is(err, telemetry.ErrMalformedTelemetry):
		return "malformed"
	case errors.Is(err, telemetry.ErrSourceUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// RecordForecast records the time spent forecasting one source.
func (m *Metrics) RecordForecast(model string, seconds float64) {
	m.ForecastSeconds.WithLabelValues(model).Observe(seconds)
}

// AddCacheStats adds cache lookups observed since the previous call.
func (m *Metrics) AddCacheStats(hits, misses uint64) {
	m.CacheHitsTotal.Add(float64(hits))
	m.CacheMissesTotal.Add(float64(misses))
}

// SetPredicted sets the predicted demand of a link's protected and contending
// groups.
func (m *Metrics) SetPredicted(link string, protectedBps, contendingBps float64) {
	m.PredictedBps.WithLabelValues(link, "protected").Set(protectedBps)
	m.PredictedBps.WithLabelValues(link, "contending").Set(contendingBps)
}

// SetTier sets the tier chosen for a link.
func (m *Metrics) SetTier(link string, tier int) {
	m.Tier.WithLabelValues(link).Set(float64(tier))
}

// SetCeiling sets the ceiling in force on a class.
func (m *Metrics) SetCeiling(link string, classID uint16, bps uint64) {
	m.CeilingBps.WithLabelValues(link, strconv.Itoa(int(classID))).Set(float64(bps))
}

// RecordDecision records a completed decision cycle.
func (m *Metrics) RecordDecision(link string, seconds float64, unix float64) {
	m.DecisionSeconds.WithLabelValues(link).Observe(seconds)
	m.LastDecision.WithLabelValues(link).Set(unix)
}

// RecordEnforcement counts an enforcement call on a link.
func (m *Metrics) RecordEnforcement(link string, ok bool) {
	result := "applied"
	if !ok {
		result = "failed"
	}
	m.EnforcementCalls.WithLabelValues(link, result).Inc()
}

// RecordReset counts a long-horizon history reset.
func (m *Metrics) RecordReset() {
	m.HistoryResetsTotal.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
