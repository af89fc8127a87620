package monitor

import (
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's monotonic counters. Plain atomics are the
// source of truth rather than prometheus.Counter, because Reset needs to
// zero them in place — something a registered Counter cannot do without
// re-registering itself.
type Metrics struct {
	busErrors        atomic.Uint64
	restarts         atomic.Uint64
	decodingFailures atomic.Uint64

	outputFile string
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot is the JSON-serializable view of Metrics.
type Snapshot struct {
	BusErrors        uint64 `json:"bus_errors"`
	Restarts         uint64 `json:"restarts"`
	DecodingFailures uint64 `json:"decoding_failures"`
}

func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		BusErrors:        m.busErrors.Load(),
		Restarts:         m.restarts.Load(),
		DecodingFailures: m.decodingFailures.Load(),
	}
}

func (m *Metrics) RecordBusError() {
	m.busErrors.Add(1)
	m.write()
}

func (m *Metrics) RecordRestart() {
	m.restarts.Add(1)
	m.write()
}

func (m *Metrics) RecordDecodingFailure() {
	m.decodingFailures.Add(1)
	m.write()
}

// Reset zeroes every counter and rewrites the output file, if any.
func (m *Metrics) Reset() {
	m.busErrors.Store(0)
	m.restarts.Store(0)
	m.decodingFailures.Store(0)
	m.write()
}

// SetOutputFile enables rewriting the JSON snapshot to path on every
// mutation. An empty path disables it.
func (m *Metrics) SetOutputFile(path string) {
	m.outputFile = path
	m.write()
}

func (m *Metrics) write() {
	if m.outputFile == "" {
		return
	}
	data, err := json.Marshal(m.GetSnapshot())
	if err != nil {
		return
	}
	_ = os.WriteFile(m.outputFile, data, 0o644)
}

// ServeHTTP answers GET / with the current JSON snapshot, the plain
// surface the specification calls for alongside the Prometheus collector.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.GetSnapshot())
}

// PrometheusCollector adapts Metrics to prometheus.Collector, so the same
// atomic counters can be scraped alongside the bare JSON endpoint.
type PrometheusCollector struct {
	metrics *Metrics

	busErrorsDesc        *prometheus.Desc
	restartsDesc         *prometheus.Desc
	decodingFailuresDesc *prometheus.Desc
}

func NewPrometheusCollector(metrics *Metrics) *PrometheusCollector {
	return &PrometheusCollector{
		metrics:              metrics,
		busErrorsDesc:        prometheus.NewDesc("candiag_bus_errors_total", "Number of bus errors observed.", nil, nil),
		restartsDesc:         prometheus.NewDesc("candiag_restarts_total", "Number of pipeline restarts.", nil, nil),
		decodingFailuresDesc: prometheus.NewDesc("candiag_decoding_failures_total", "Number of frame decode failures.", nil, nil),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.busErrorsDesc
	ch <- c.restartsDesc
	ch <- c.decodingFailuresDesc
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.GetSnapshot()
	ch <- prometheus.MustNewConstMetric(c.busErrorsDesc, prometheus.CounterValue, float64(snap.BusErrors))
	ch <- prometheus.MustNewConstMetric(c.restartsDesc, prometheus.CounterValue, float64(snap.Restarts))
	ch <- prometheus.MustNewConstMetric(c.decodingFailuresDesc, prometheus.CounterValue, float64(snap.DecodingFailures))
}
