// Package ui provides a reference UserInterface implementation (console,
// colorized by severity) plus the pluggable instrumentation chain —
// structured logging, Prometheus, SigNoz — that observes each root tick.
package ui

import (
	"io"
	"time"

	"github.com/sup-oac/oactree"
)

// Logger captures structured log output from the engine and its
// instrumentation observers.
type Logger interface {
	With(key string, value any) Logger
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// TickSummary captures execution metadata for one Runner tick.
type TickSummary struct {
	ProcedureName string
	Tick          uint64
	Duration      time.Duration
	RootStatus    oactree.ExecutionStatus
	Error         error
}

// Observer receives a summary after each root tick completes.
type Observer interface {
	TickCompleted(summary TickSummary)
}

// ObservationLogFormat controls structured logging encoding.
type ObservationLogFormat uint8

const (
	ObservationLogFormatJSON ObservationLogFormat = iota
	ObservationLogFormatKeyValue
)

// InstrumentationConfig configures logging, metrics, and tracing sinks for
// a ConsoleUserInterface.
type InstrumentationConfig struct {
	Observer    Observer
	Observation ObservationSettings
}

// ObservationSettings toggles built-in observer integrations.
type ObservationSettings struct {
	EnableStructuredLogging bool
	LoggingFormat           ObservationLogFormat
	StructuredLogger        Logger
	EnablePrometheus        bool
	PrometheusCollector     PrometheusCollector
	PrometheusOptions       *PrometheusCollectorOptions
	EnableSigNoz            bool
	SigNozExporter          SigNozExporter
	SigNozOptions           *SigNozOptions
}

// PrometheusCollector handles tick summaries for Prometheus-style metrics.
type PrometheusCollector interface {
	ObserveTick(summary TickSummary)
	WriteMetrics(w io.Writer) error
}

// PrometheusCollectorOptions configures a PrometheusCollector.
type PrometheusCollectorOptions struct {
	Writer          io.Writer
	DurationBuckets []time.Duration
}

// SigNozExporter handles tick summaries for SigNoz-style tracing platforms.
type SigNozExporter interface {
	ExportTick(summary TickSummary)
}

// SigNozOptions configures a SigNozExporter.
type SigNozOptions struct {
	Writer      io.Writer
	ServiceName string
}
