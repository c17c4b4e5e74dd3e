// Package observability provides logging and metrics for the pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures telemetry.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console
}

// Metrics holds Prometheus metrics for the collection and analysis pipeline.
type Metrics struct {
	// Collection metrics
	EventsCollected *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	CyclesFailed    *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	LastCollection  *prometheus.GaugeVec

	// Bus metrics
	MessagesPublished *prometheus.CounterVec
	MessagesConsumed  *prometheus.CounterVec
	MessagesNacked    *prometheus.CounterVec

	// Analysis metrics
	AnalysesCompleted prometheus.Counter
	AnalysesFallback  prometheus.Counter
	AnalysisDuration  prometheus.Histogram

	// Notification metrics
	AlertsSent   *prometheus.CounterVec
	AlertsFailed *prometheus.CounterVec
}

// NewLogger builds a structured logger from logging settings.
func NewLogger(level, format string) (*zap.Logger, error) {
	var config zap.Config

	if format == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return config.Build()
}

// NewMetrics registers and returns the pipeline metrics.
func NewMetrics() *Metrics {
	namespace := "sentinelsoc"

	return &Metrics{
		EventsCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_collected_total",
				Help:      "Canonical events collected by connector and service",
			},
			[]string{"connector", "service"},
		),
		RecordsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Native records dropped during translation",
			},
			[]string{"connector"},
		),
		CyclesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collection_cycles_failed_total",
				Help:      "Connector cycles aborted by a connector-level failure",
			},
			[]string{"connector", "stage"},
		),
		CycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "collection_cycle_duration_seconds",
				Help:      "Collection cycle duration by connector",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"connector"},
		),
		LastCollection: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_collection_timestamp_seconds",
				Help:      "Unix time of each connector's last successful cycle",
			},
			[]string{"connector"},
		),
		MessagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_published_total",
				Help:      "Messages published by queue",
			},
			[]string{"queue"},
		),
		MessagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_consumed_total",
				Help:      "Messages acknowledged by queue",
			},
			[]string{"queue"},
		),
		MessagesNacked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_nacked_total",
				Help:      "Messages negatively acknowledged by queue",
			},
			[]string{"queue"},
		),
		AnalysesCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_completed_total",
				Help:      "Events analyzed, including fallback results",
			},
		),
		AnalysesFallback: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_fallback_total",
				Help:      "Analyses that produced the fallback result",
			},
		),
		AnalysisDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end analysis duration per event",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		AlertsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_sent_total",
				Help:      "Alert deliveries by channel",
			},
			[]string{"channel"},
		),
		AlertsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_failed_total",
				Help:      "Failed alert deliveries by channel",
			},
			[]string{"channel"},
		),
	}
}

// The methods below satisfy the sink interfaces declared by the bus,
// scheduler, analysis and notify packages.

func (m *Metrics) MessagePublished(queue string) {
	m.MessagesPublished.WithLabelValues(queue).Inc()
}

func (m *Metrics) MessageConsumed(queue string) {
	m.MessagesConsumed.WithLabelValues(queue).Inc()
}

func (m *Metrics) MessageNacked(queue string) {
	m.MessagesNacked.WithLabelValues(queue).Inc()
}

func (m *Metrics) EventCollected(connector, service string) {
	m.EventsCollected.WithLabelValues(connector, service).Inc()
}

func (m *Metrics) RecordDropped(connector string) {
	m.RecordsDropped.WithLabelValues(connector).Inc()
}

func (m *Metrics) CycleFailed(connector, stage string) {
	m.CyclesFailed.WithLabelValues(connector, stage).Inc()
}

func (m *Metrics) CycleCompleted(connector string, duration time.Duration) {
	m.CycleDuration.WithLabelValues(connector).Observe(duration.Seconds())
	m.LastCollection.WithLabelValues(connector).SetToCurrentTime()
}

func (m *Metrics) AnalysisCompleted(duration time.Duration, fallback bool) {
	m.AnalysesCompleted.Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	if fallback {
		m.AnalysesFallback.Inc()
	}
}

func (m *Metrics) AlertSent(channel string) {
	m.AlertsSent.WithLabelValues(channel).Inc()
}

func (m *Metrics) AlertFailed(channel string) {
	m.AlertsFailed.WithLabelValues(channel).Inc()
}
