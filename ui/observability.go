package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type compositeObserver struct {
	observers []Observer
}

func (c compositeObserver) TickCompleted(summary TickSummary) {
	for _, observer := range c.observers {
		observer.TickCompleted(summary)
	}
}

type noopObserver struct{}

func (noopObserver) TickCompleted(TickSummary) {}

type loggingObserver struct {
	logger Logger
	format ObservationLogFormat
}

func newLoggingObserver(logger Logger, format ObservationLogFormat) Observer {
	if logger == nil {
		return noopObserver{}
	}
	if format != ObservationLogFormatKeyValue {
		format = ObservationLogFormatJSON
	}
	return loggingObserver{logger: logger, format: format}
}

func (o loggingObserver) TickCompleted(summary TickSummary) {
	switch o.format {
	case ObservationLogFormatKeyValue:
		o.logKeyValue(summary)
	default:
		o.logJSON(summary)
	}
}

func (o loggingObserver) logJSON(summary TickSummary) {
	payload := map[string]any{
		"procedure":   summary.ProcedureName,
		"tick":        summary.Tick,
		"duration_ms": float64(summary.Duration) / float64(time.Millisecond),
		"root_status": summary.RootStatus.String(),
	}
	if summary.Error != nil {
		payload["error"] = summary.Error.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.With("procedure", summary.ProcedureName).Error("tick summary marshal error", "err", err)
		return
	}
	o.logger.Info(string(data))
}

func (o loggingObserver) logKeyValue(summary TickSummary) {
	builder := o.logger.With("procedure", summary.ProcedureName)
	args := []any{
		"tick", summary.Tick,
		"duration", summary.Duration,
		"root_status", summary.RootStatus.String(),
	}
	if summary.Error != nil {
		args = append(args, "error", summary.Error.Error())
	}
	builder.Info("tick summary", args...)
}

type prometheusObserver struct {
	collector PrometheusCollector
}

func newPrometheusObserver(collector PrometheusCollector) Observer {
	if collector == nil {
		return noopObserver{}
	}
	return prometheusObserver{collector: collector}
}

func (o prometheusObserver) TickCompleted(summary TickSummary) {
	o.collector.ObserveTick(summary)
}

type sigNozObserver struct {
	exporter SigNozExporter
}

func newSigNozObserver(exporter SigNozExporter) Observer {
	if exporter == nil {
		return noopObserver{}
	}
	return sigNozObserver{exporter: exporter}
}

func (o sigNozObserver) TickCompleted(summary TickSummary) {
	o.exporter.ExportTick(summary)
}

// buildObserverChain assembles the composite Observer requested by cfg:
// a caller-supplied observer plus any of structured logging / Prometheus /
// SigNoz the caller enabled, wired to sensible defaults when no collector
// or exporter was supplied (§9 ambient instrumentation, carried regardless
// of feature Non-goals).
func buildObserverChain(logger Logger, cfg InstrumentationConfig) Observer {
	var observers []Observer

	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}

	obs := cfg.Observation

	if obs.EnableStructuredLogging {
		structuredLogger := obs.StructuredLogger
		if structuredLogger == nil {
			structuredLogger = logger
		}
		observers = append(observers, newLoggingObserver(structuredLogger, obs.LoggingFormat))
	}

	if obs.EnablePrometheus {
		collector := obs.PrometheusCollector
		if collector == nil {
			collector = NewPrometheusTickCollector(obs.PrometheusOptions)
		}
		if collector != nil {
			observers = append(observers, newPrometheusObserver(collector))
		}
	}

	if obs.EnableSigNoz {
		exporter := obs.SigNozExporter
		if exporter == nil {
			exporter = NewSigNozSpanExporter(obs.SigNozOptions)
		}
		if exporter != nil {
			observers = append(observers, newSigNozObserver(exporter))
		}
	}

	if len(observers) == 0 {
		return noopObserver{}
	}
	if len(observers) == 1 {
		return observers[0]
	}
	return compositeObserver{observers: observers}
}

// PrometheusTickCollector renders tick summaries as text-exposition metrics.
type PrometheusTickCollector struct {
	options *PrometheusCollectorOptions
	mu      sync.Mutex
	samples map[string]*prometheusSample
}

type prometheusSample struct {
	durationSum   float64
	durationCount float64
	buckets       []float64
	errors        float64
}

// NewPrometheusTickCollector constructs a collector keyed per procedure name.
func NewPrometheusTickCollector(opts *PrometheusCollectorOptions) PrometheusCollector {
	if opts == nil {
		opts = &PrometheusCollectorOptions{}
	}
	return &PrometheusTickCollector{
		options: opts,
		samples: make(map[string]*prometheusSample),
	}
}

func (c *PrometheusTickCollector) ObserveTick(summary TickSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sample, ok := c.samples[summary.ProcedureName]
	if !ok {
		sample = &prometheusSample{}
		if buckets := c.options.DurationBuckets; len(buckets) > 0 {
			sample.buckets = make([]float64, len(buckets))
		}
		c.samples[summary.ProcedureName] = sample
	}
	durSeconds := summary.Duration.Seconds()
	sample.durationSum += durSeconds
	sample.durationCount++
	for i := range sample.buckets {
		if durSeconds <= c.options.DurationBuckets[i].Seconds() {
			sample.buckets[i]++
		}
	}
	if summary.Error != nil {
		sample.errors++
	}

	if writer := c.options.Writer; writer != nil {
		_ = c.writeMetricsLocked(writer)
	}
}

func (c *PrometheusTickCollector) WriteMetrics(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMetricsLocked(w)
}

func (c *PrometheusTickCollector) writeMetricsLocked(w io.Writer) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("# HELP oactree_tick_duration_seconds Root tick execution duration.\n")
	buf.WriteString("# TYPE oactree_tick_duration_seconds summary\n")
	names := make([]string, 0, len(c.samples))
	for name := range c.samples {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sample := c.samples[name]
		labels := fmt.Sprintf("procedure=%q", name)
		buf.WriteString(fmt.Sprintf("oactree_tick_duration_seconds_sum{%s} %f\n", labels, sample.durationSum))
		buf.WriteString(fmt.Sprintf("oactree_tick_duration_seconds_count{%s} %f\n", labels, sample.durationCount))
		for i, bucket := range sample.buckets {
			le := c.options.DurationBuckets[i].Seconds()
			buf.WriteString(fmt.Sprintf("oactree_tick_duration_seconds_bucket{%s,le=\"%.6f\"} %f\n", labels, le, bucket))
		}
	}

	buf.WriteString("# HELP oactree_tick_errors_total Root tick error count.\n")
	buf.WriteString("# TYPE oactree_tick_errors_total counter\n")
	for _, name := range names {
		sample := c.samples[name]
		buf.WriteString(fmt.Sprintf("oactree_tick_errors_total{procedure=%q} %f\n", name, sample.errors))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// SigNozSpanExporter emits one JSON span line per tick to opts.Writer.
type SigNozSpanExporter struct {
	opts *SigNozOptions
	mu   sync.Mutex
}

// NewSigNozSpanExporter constructs an exporter, defaulting the service name.
func NewSigNozSpanExporter(opts *SigNozOptions) SigNozExporter {
	if opts == nil {
		opts = &SigNozOptions{}
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "oactree-runner"
	}
	return &SigNozSpanExporter{opts: opts}
}

func (e *SigNozSpanExporter) ExportTick(summary TickSummary) {
	if e.opts.Writer == nil {
		return
	}
	span := map[string]any{
		"service_name": e.opts.ServiceName,
		"name":         fmt.Sprintf("tick:%s", summary.ProcedureName),
		"timestamp":    time.Now().UnixNano(),
		"duration_ms":  float64(summary.Duration) / float64(time.Millisecond),
		"attributes": map[string]any{
			"procedure":   summary.ProcedureName,
			"tick":        summary.Tick,
			"root_status": summary.RootStatus.String(),
		},
	}
	if summary.Error != nil {
		span["error"] = summary.Error.Error()
	}
	payload, err := json.Marshal(span)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.opts.Writer.Write(append(payload, '\n'))
}
