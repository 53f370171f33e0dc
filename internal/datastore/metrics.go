package datastore

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DBNameLabel = "db_name"
	// DriverLabel is the constant label naming the store backend.
	DriverLabel = "driver"
	// QueryNameLabel is the label for DB metrics, representing the query name (e.g., "InsertMapping", "LookupMapping").
	QueryNameLabel = "query_name"
	// StatusLabel is the label for DB metrics, representing the outcome (e.g., "success", "error").
	StatusLabel = "status"

	// StatusSuccess is the label for a successful operation.
	StatusSuccess = "success"
	// StatusError is the label for a failed operation.
	StatusError = "error"
	// StatusCollision is the label for a key collision during an insert.
	StatusCollision = "collision"
	// StatusNotFound is the label for a lookup of an unknown short code.
	StatusNotFound = "not_found"
)

// Metrics contains the Prometheus collectors for store queries.
// Pool-level stats are handled by the separate PoolStatsCollector.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryTotal    *prometheus.CounterVec
}

// NewMetrics creates the query collectors for driver and registers them with
// reg. Collectors already registered by another store of the same driver are
// reused. A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer, driver string) (Metrics, error) {
	m := Metrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "db_query_duration_seconds",
			Help:        "The latency of database queries in seconds.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			ConstLabels: prometheus.Labels{DriverLabel: driver},
		}, []string{QueryNameLabel}),

		QueryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "db_query_total",
			Help:        "The total number of database queries.",
			ConstLabels: prometheus.Labels{DriverLabel: driver},
		}, []string{QueryNameLabel, StatusLabel}),
	}
	if reg == nil {
		return m, nil
	}

	if err := reg.Register(m.QueryDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return Metrics{}, err
		}
		m.QueryDuration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.QueryTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return Metrics{}, err
		}
		m.QueryTotal = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m, nil
}

// observe records one query. err is classified into a status label.
func (m Metrics) observe(queryName string, start time.Time, err error) {
	m.QueryDuration.WithLabelValues(queryName).Observe(time.Since(start).Seconds())
	m.QueryTotal.WithLabelValues(queryName, statusOf(err)).Inc()
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrURLNotFound):
		return StatusNotFound
	case errors.Is(err, ErrDuplicateKey):
		return StatusCollision
	default:
		return StatusError
	}
}

type StatsCollector interface {
	Stat() *pgxpool.Stat
}

// PoolStatsCollector collects pgxpool.Stat metrics for Prometheus.
// It implements the prometheus.Collector interface.
type PoolStatsCollector struct {
	db StatsCollector

	MaxConns        *prometheus.Desc
	TotalConns      *prometheus.Desc
	AcquiredConns   *prometheus.Desc
	IdleConns       *prometheus.Desc
	AcquireCount    *prometheus.Desc
	AcquireDuration *prometheus.Desc
}

// NewPoolStatsCollector creates a new PoolStatsCollector.
func NewPoolStatsCollector(db StatsCollector, dbName string) *PoolStatsCollector {
	labels := prometheus.Labels{DBNameLabel: dbName}
	return &PoolStatsCollector{
		db:              db,
		MaxConns:        prometheus.NewDesc("db_pool_max_conns", "Maximum number of connections in the pool.", nil, labels),
		TotalConns:      prometheus.NewDesc("db_pool_total_conns", "Total number of connections in the pool.", nil, labels),
		AcquiredConns:   prometheus.NewDesc("db_pool_acquired_conns", "Number of currently acquired connections in the pool.", nil, labels),
		IdleConns:       prometheus.NewDesc("db_pool_idle_conns", "Number of currently idle connections in the pool.", nil, labels),
		AcquireCount:    prometheus.NewDesc("db_pool_acquire_count_total", "Cumulative count of successful connection acquisitions.", nil, labels),
		AcquireDuration: prometheus.NewDesc("db_pool_acquire_duration_seconds_total", "Total time blocked waiting for a new connection, in seconds.", nil, labels),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.MaxConns
	ch <- c.TotalConns
	ch <- c.AcquiredConns
	ch <- c.IdleConns
	ch <- c.AcquireCount
	ch <- c.AcquireDuration
}

// Collect implements the prometheus.Collector interface. It is called by Prometheus
// to gather metrics.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stat()
	ch <- prometheus.MustNewConstMetric(c.MaxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.TotalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.AcquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.IdleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.AcquireCount, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.AcquireDuration, prometheus.CounterValue, stats.AcquireDuration().Seconds())
}
