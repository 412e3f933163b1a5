package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leozw/store-monitor/internal/config"
)

type Collector struct {
	config   *config.MimirConfig
	gatherer prometheus.Gatherer
	client   httpDoer

	// Report job metrics
	reportJobsTotal    *prometheus.CounterVec
	reportJobDuration  *prometheus.HistogramVec
	reportJobsRunning  prometheus.Gauge
	reportLastStores   prometheus.Gauge
	reportLastFinished *prometheus.GaugeVec

	// Store computation metrics
	storesComputedTotal  prometheus.Counter
	storeComputeDuration prometheus.Histogram

	// Repository metrics
	repositoryRetriesTotal *prometheus.CounterVec

	// Status cache metrics
	statusCacheLookups *prometheus.CounterVec
}

// NewCollector registers all metrics on reg. reg must also be a Gatherer
// when remote write is used.
func NewCollector(cfg config.MimirConfig, reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		config:   &cfg,
		gatherer: reg,
		client:   newHTTPClient(),

		reportJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_report_jobs_total",
				Help: "Total number of finished report jobs",
			},
			[]string{"status"},
		),

		reportJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_report_job_duration_seconds",
				Help:    "Duration of report generation in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),

		reportJobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_report_jobs_running",
				Help: "Number of report jobs currently generating",
			},
		),

		reportLastStores: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_report_last_store_count",
				Help: "Number of stores in the last generated report",
			},
		),

		reportLastFinished: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "store_report_last_finished_timestamp_seconds",
				Help: "Unix time of the last finished report job",
			},
			[]string{"status"},
		),

		storesComputedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "store_uptime_computations_total",
				Help: "Total number of per-store uptime computations",
			},
		),

		storeComputeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "store_uptime_computation_duration_seconds",
				Help:    "Duration of one store's uptime computation including reads",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		repositoryRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_repository_retries_total",
				Help: "Total number of retried repository operations",
			},
			[]string{"operation"},
		),

		statusCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_report_status_cache_lookups_total",
				Help: "Report status cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

func (c *Collector) JobStarted() {
	c.reportJobsRunning.Inc()
}

func (c *Collector) JobFinished(status string, stores int, duration time.Duration) {
	c.reportJobsRunning.Dec()
	c.reportJobsTotal.WithLabelValues(status).Inc()
	c.reportJobDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.reportLastFinished.WithLabelValues(status).SetToCurrentTime()
	if stores >= 0 {
		c.reportLastStores.Set(float64(stores))
	}
}

func (c *Collector) StoreComputed(duration time.Duration) {
	c.storesComputedTotal.Inc()
	c.storeComputeDuration.Observe(duration.Seconds())
}

func (c *Collector) RepositoryRetry(operation string) {
	c.repositoryRetriesTotal.WithLabelValues(operation).Inc()
}

func (c *Collector) StatusCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.statusCacheLookups.WithLabelValues(result).Inc()
}
