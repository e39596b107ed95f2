package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Run statuses used as metric labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Collector records engine and batch metrics on a private prometheus registry.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	engineRuns     *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	configsWritten prometheus.Counter
	batches        *prometheus.CounterVec
}

// NewCollector creates a collector. A disabled collector accepts every call and records nothing.
func NewCollector(enabled bool) *Collector {
	c := &Collector{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
		engineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sputra_engine_runs_total",
			Help: "Engine processes finished, by backend and status.",
		}, []string{"backend", "status"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sputra_engine_run_duration_seconds",
			Help:    "Wall time of single engine runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"backend"}),
		configsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sputra_config_files_written_total",
			Help: "Configuration files written to the scratch directory.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sputra_batches_total",
			Help: "Simulation batches, by final status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(c.engineRuns, c.engineDuration, c.configsWritten, c.batches)
	return c
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.enabled }

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// EngineRun records one finished engine process.
func (c *Collector) EngineRun(backend string, d time.Duration, err error) {
	if !c.enabled {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	c.engineRuns.WithLabelValues(backend, status).Inc()
	c.engineDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// ConfigWritten counts one configuration file.
func (c *Collector) ConfigWritten() {
	if !c.enabled {
		return
	}
	c.configsWritten.Inc()
}

// Batch records the final status of a simulate call.
func (c *Collector) Batch(err error) {
	if !c.enabled {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	c.batches.WithLabelValues(status).Inc()
}

// WriteTextfile writes all metrics in text exposition format, for the
// node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if !c.enabled {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// LogSummary logs every counter sample at debug level.
func (c *Collector) LogSummary() {
	if !c.enabled {
		return
	}
	families, err := c.registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Gather telemetry metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			ev := log.Debug().Str("name", mf.GetName()).Interface("labels", labels)
			switch {
			case m.GetCounter() != nil:
				ev = ev.Float64("value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				ev = ev.Uint64("count", m.GetHistogram().GetSampleCount()).
					Float64("sum", m.GetHistogram().GetSampleSum())
			}
			ev.Msg("telemetry_metric")
		}
	}
}

var (
	globalMu        sync.Mutex
	globalCollector *Collector
)

// InitGlobal initializes the global telemetry collector
func InitGlobal(enabled bool) *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = NewCollector(enabled)
	return globalCollector
}

// GetGlobal returns the global collector
func GetGlobal() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(false)
	}
	return globalCollector
}
