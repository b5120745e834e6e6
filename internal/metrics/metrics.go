package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Recorder collects metrics for a single inventory run. Runs are one-shot, so
// metrics are exported through the node_exporter textfile collector rather
// than an HTTP endpoint.
type Recorder struct {
	registry *prometheus.Registry

	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
	hosts         prometheus.Gauge
	groups        prometheus.Gauge
	cacheResult   *prometheus.GaugeVec
	queries       *prometheus.CounterVec
	queryFailures *prometheus.CounterVec
	runSuccess    prometheus.Gauge
}

// CacheResult labels how a --list run was served.
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheRefresh  CacheResult = "refresh"
	CacheStale    CacheResult = "stale"
	CacheDisabled CacheResult = "disabled"
)

var cacheResults = []CacheResult{CacheHit, CacheRefresh, CacheStale, CacheDisabled}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_run_duration_seconds",
			Help: "Wall time of the last inventory run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_last_run_timestamp_seconds",
			Help: "Unix time the last inventory run finished",
		}),
		hosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_hosts",
			Help: "Number of hosts in the last inventory",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_groups",
			Help: "Number of groups in the last inventory, including all",
		}),
		cacheResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_cache_result",
			Help: "How the last inventory run was served (1 for the active result)",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puppetdb_inventory_queries_total",
			Help: "PuppetDB queries issued during the run by endpoint",
		}, []string{"endpoint"}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puppetdb_inventory_query_failures_total",
			Help: "Failed PuppetDB queries during the run by endpoint",
		}, []string{"endpoint"}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puppetdb_inventory_last_run_success",
			Help: "Whether the last inventory run succeeded (1) or failed (0)",
		}),
	}

	r.registry.MustRegister(
		r.runDuration,
		r.lastRun,
		r.hosts,
		r.groups,
		r.cacheResult,
		r.queries,
		r.queryFailures,
		r.runSuccess,
	)
	return r
}

// RecordQuery counts one PuppetDB query against endpoint.
func (r *Recorder) RecordQuery(endpoint string, err error) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(endpoint).Inc()
	if err != nil {
		r.queryFailures.WithLabelValues(endpoint).Inc()
	}
}

// RecordInventory records the size of a built inventory.
func (r *Recorder) RecordInventory(hosts, groups int) {
	if r == nil {
		return
	}
	r.hosts.Set(float64(hosts))
	r.groups.Set(float64(groups))
}

// RecordCacheResult marks result as the way this run was served.
func (r *Recorder) RecordCacheResult(result CacheResult) {
	if r == nil {
		return
	}
	for _, candidate := range cacheResults {
		v := 0.0
		if candidate == result {
			v = 1
		}
		r.cacheResult.WithLabelValues(string(candidate)).Set(v)
	}
}

// RecordRun records the outcome of the run.
func (r *Recorder) RecordRun(started, finished time.Time, err error) {
	if r == nil {
		return
	}
	r.runDuration.Set(finished.Sub(started).Seconds())
	r.lastRun.Set(float64(finished.Unix()))
	if err != nil {
		r.runSuccess.Set(0)
	} else {
		r.runSuccess.Set(1)
	}
}

// WriteTextfile writes the metrics in the text exposition format to path,
// atomically, for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Snapshot gathers the current values keyed by metric name (and label value
// for vectors, as name{value}).
func (r *Recorder) Snapshot() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				key = fmt.Sprintf("%s{%s}", key, labels[0].GetValue())
			}
			out[key] = metricValue(mf.GetType(), m)
		}
	}
	return out, nil
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}
