// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Deadman is a process-wide gauge tracking how long the connection pool
// has been saturated (acquire calls timing out). It trips
// /__lbheartbeat__ to 503 once that has gone on longer than TTL+jitter,
// so orchestration routes traffic away from an overloaded node.
type Deadman struct {
	mu sync.Mutex

	ttl    time.Duration
	jitter time.Duration

	saturatedSince time.Time
	tripped        bool

	now func() time.Time
}

// NewDeadman builds a Deadman with the given TTL plus a jitter drawn once,
// uniformly from [0, jitter].
func NewDeadman(ttl, jitter time.Duration) *Deadman {
	if jitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	return &Deadman{ttl: ttl, jitter: jitter, now: time.Now}
}

// ReportSaturated is called every time a pool-acquire times out. It starts
// (or continues) the saturation clock.
func (d *Deadman) ReportSaturated() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saturatedSince.IsZero() {
		d.saturatedSince = d.now()
	}
}

// ReportHealthy clears the saturation clock; called whenever an acquire
// succeeds promptly.
func (d *Deadman) ReportHealthy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saturatedSince = time.Time{}
	d.tripped = false
}

// Tripped reports whether the pool has been saturated for longer than
// ttl+jitter, i.e. whether /__lbheartbeat__ should fail.
func (d *Deadman) Tripped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saturatedSince.IsZero() {
		return false
	}
	return d.now().Sub(d.saturatedSince) > d.ttl+d.jitter
}

// DB pool gauges exported for /__heartbeat__ scraping. Prometheus sits
// alongside the statsd/monkit path so operators can scrape either.
var (
	poolOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncstorage_db_pool_open_connections",
		Help: "Current number of open connections to the storage database.",
	})
	poolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncstorage_db_pool_in_use",
		Help: "Connections currently in use.",
	})
	poolIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncstorage_db_pool_idle",
		Help: "Idle connections in the pool.",
	})
	poolWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncstorage_db_pool_wait_count",
		Help: "Total number of connections waited for.",
	})
)

func init() {
	prometheus.MustRegister(poolOpenConnections, poolInUse, poolIdle, poolWaitCount)
}

// ObserveDBStats copies database/sql pool counters onto the exported
// gauges. Called on every /__heartbeat__ poll.
func ObserveDBStats(stats sql.DBStats) {
	poolOpenConnections.Set(float64(stats.OpenConnections))
	poolInUse.Set(float64(stats.InUse))
	poolIdle.Set(float64(stats.Idle))
	poolWaitCount.Set(float64(stats.WaitCount))
}
