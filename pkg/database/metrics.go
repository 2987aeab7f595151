package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// PoolStats is a backend-neutral snapshot of a connection pool.
type PoolStats struct {
	Total    uint32
	Idle     uint32
	InUse    uint32
	Max      uint32
	Waits    uint64 // acquires that found no idle connection
	Timeouts uint64 // acquires that gave up waiting
}

// PgxPoolStats reads a pgx pool's counters.
func PgxPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			Total:    uint32(s.TotalConns()),
			Idle:     uint32(s.IdleConns()),
			InUse:    uint32(s.AcquiredConns()),
			Max:      uint32(s.MaxConns()),
			Waits:    uint64(s.EmptyAcquireCount()),
			Timeouts: uint64(s.CanceledAcquireCount()),
		}
	}
}

// RedisPoolStats reads a go-redis client's pool counters. Max is the
// configured pool size.
func RedisPoolStats(client *redis.Client) func() PoolStats {
	return func() PoolStats {
		s := client.PoolStats()
		return PoolStats{
			Total:    s.TotalConns,
			Idle:     s.IdleConns,
			InUse:    s.TotalConns - s.IdleConns,
			Max:      uint32(client.Options().PoolSize),
			Waits:    uint64(s.Misses),
			Timeouts: uint64(s.Timeouts),
		}
	}
}

// PoolCollector exports PoolStats as Prometheus metrics labelled by storage
// system, read on every scrape.
type PoolCollector struct {
	system string
	stats  func() PoolStats

	total    *prometheus.Desc
	idle     *prometheus.Desc
	inUse    *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
	timeouts *prometheus.Desc
}

// NewPoolCollector creates a collector for one pool.
func NewPoolCollector(system string, stats func() PoolStats) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("storage_pool_"+name, help, nil, prometheus.Labels{"system": system})
	}
	return &PoolCollector{
		system:   system,
		stats:    stats,
		total:    desc("connections", "Open connections in the pool"),
		idle:     desc("idle_connections", "Idle connections in the pool"),
		inUse:    desc("in_use_connections", "Connections currently checked out"),
		max:      desc("max_connections", "Configured maximum pool size"),
		waits:    desc("waits_total", "Acquires that had to wait for a connection"),
		timeouts: desc("timeouts_total", "Acquires that gave up waiting for a connection"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.idle, c.inUse, c.max, c.waits, c.timeouts} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	gauge := func(d *prometheus.Desc, v uint32) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(c.total, s.Total)
	gauge(c.idle, s.Idle)
	gauge(c.inUse, s.InUse)
	gauge(c.max, s.Max)
	counter(c.waits, s.Waits)
	counter(c.timeouts, s.Timeouts)
}

// RegisterPoolMetrics registers c with reg and returns a func that
// unregisters it, for use when the pool is closed.
func RegisterPoolMetrics(reg prometheus.Registerer, c *PoolCollector) (func(), error) {
	if err := reg.Register(c); err != nil {
		return func() {}, err
	}
	return func() { reg.Unregister(c) }, nil
}
