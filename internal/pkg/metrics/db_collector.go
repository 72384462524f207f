package metrics

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DBPoolCollector exports pgxpool statistics at scrape time.
type DBPoolCollector struct {
	pool *pgxpool.Pool

	connections   *prometheus.Desc
	acquires      *prometheus.Desc
	emptyAcquires *prometheus.Desc
	acquireWait   *prometheus.Desc
}

// NewDBPoolCollector creates a collector for pool.
func NewDBPoolCollector(pool *pgxpool.Pool) *DBPoolCollector {
	fq := func(name string) string {
		return prometheus.BuildFQName(Namespace, "db", name)
	}
	return &DBPoolCollector{
		pool: pool,
		connections: prometheus.NewDesc(fq("pool_connections"),
			"Number of database connections by state", []string{"state"}, nil),
		acquires: prometheus.NewDesc(fq("pool_acquires_total"),
			"Connections acquired from the pool", nil, nil),
		emptyAcquires: prometheus.NewDesc(fq("pool_empty_acquires_total"),
			"Acquires that waited because the pool was empty", nil, nil),
		acquireWait: prometheus.NewDesc(fq("pool_acquire_wait_seconds_total"),
			"Time spent waiting to acquire connections", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *DBPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.acquireWait
}

// Collect implements prometheus.Collector.
func (c *DBPoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.AcquiredConns()), "in_use")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.MaxConns()), "max")
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stats.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, stats.AcquireDuration().Seconds())
}

// Register adds c to reg. Registering a second pool collector replaces
// nothing and is reported as success, so tests can build several apps.
func (c *DBPoolCollector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
