package driver

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job counter names.
const (
	CounterNewVariants      = "NEW_VARIANTS"
	CounterSameVariants     = "SAME_VARIANTS"
	CounterMissingVariants  = "MISSING_VARIANTS"
	CounterArchiveVariants  = "ARCHIVE_TABLE_VARIANTS"
	CounterAnalysisVariants = "ANALYSIS_TABLE_VARIANTS"
	CounterRowsUpdated      = "ROWS_UPDATED"
	CounterRowsDeleted      = "ROWS_DELETED"
	CounterUncoveredRows    = "UNCOVERED_ROWS"
	CounterBuckets          = "BUCKETS"
	CounterExportedRecords  = "EXPORTED_RECORDS"
)

// Metrics are the process-wide job metrics.
type Metrics struct {
	Counters     *prometheus.CounterVec
	Tasks        *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	Jobs         *prometheus.CounterVec
}

// NewMetrics registers the job metrics with reg. A nil reg creates
// unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Counters: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "genostore_job_counter_total",
				Help: "Job counters such as new, same and missing variants",
			},
			[]string{"job", "counter"},
		),
		Tasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "genostore_tasks_total",
				Help: "Finished tasks by job and outcome",
			},
			[]string{"job", "status"}, // status: success/retry/error
		),
		TaskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genostore_task_duration_seconds",
				Help:    "Duration of one task attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		Jobs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "genostore_jobs_total",
				Help: "Finished jobs by type and final ledger status",
			},
			[]string{"job", "status"},
		),
	}
}

// Counters accumulates the named counters of one job and mirrors them into
// the process metrics.
type Counters struct {
	job     string
	metrics *Metrics

	mu     sync.Mutex
	values map[string]int64
}

// NewCounters returns the counters of a job. metrics may be nil.
func NewCounters(job string, metrics *Metrics) *Counters {
	return &Counters{job: job, metrics: metrics, values: make(map[string]int64)}
}

// Add increments counter name by n.
func (c *Counters) Add(name string, n int64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.values[name] += n
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.Counters.WithLabelValues(c.job, name).Add(float64(n))
	}
}

// Get returns the value of counter name.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot returns a copy of every counter.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Names returns the counter names in order.
func (c *Counters) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// merge adds the counters of a finished task attempt.
func (c *Counters) merge(o *Counters) {
	for name, v := range o.Snapshot() {
		c.Add(name, v)
	}
}
