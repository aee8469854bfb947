/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics is a Prometheus collector over the worker's own live
// state: connection counts per RFC-793 state, pktbuf pool occupancy and
// the exmsg queue depth. It generalizes the teacher's
// TCPInfoCollector — a Collect-time pull over a map of tracked
// net.Conns, each read via getsockopt(TCP_INFO) — from observing a real
// kernel socket's tcp_info to observing this stack's own in-process
// state, since there is no kernel TCB here to ask.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
	"github.com/go-tcpstack/microtcp/pkg/mblock"
	"github.com/go-tcpstack/microtcp/pkg/platform"
	"github.com/go-tcpstack/microtcp/pkg/tcp"
)

// Collector implements prometheus.Collector, pulling a fresh snapshot
// of table/pool/bus state on every Collect call rather than caching
// counters updated as a side effect elsewhere — the same pull-on-Collect
// shape as the teacher's TCPInfoCollector.
type Collector struct {
	table   *tcp.Table
	pool    *mblock.Pool
	bus     *exmsg.Bus
	started time.Time

	connections  *prometheus.Desc
	listeners    *prometheus.Desc
	poolAvail    *prometheus.Desc
	poolCapacity *prometheus.Desc
	busDepth     *prometheus.Desc
	busCapacity  *prometheus.Desc
	uptime       *prometheus.Desc
}

// New creates a Collector reading from table, pool and bus. None of
// table, pool or bus are mutated by Collect; only their own exported
// read accessors are called, so it is safe to register this alongside
// the worker goroutine that owns them. started is stamped with
// platform.Now() so the uptime gauge reads off the same monotonic
// clock pkg/nettimer schedules deadlines against.
func New(namespace string, table *tcp.Table, pool *mblock.Pool, bus *exmsg.Bus) *Collector {
	return &Collector{
		table:   table,
		pool:    pool,
		bus:     bus,
		started: platform.Now(),
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connections"),
			"Number of tracked TCP connections by state.",
			[]string{"state"}, nil,
		),
		listeners: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "listeners"),
			"Number of LISTEN entries in the connection table.",
			nil, nil,
		),
		poolAvail: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pktbuf_pool", "available_blocks"),
			"Free blocks remaining in the packet buffer pool.",
			nil, nil,
		),
		poolCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pktbuf_pool", "block_size_bytes"),
			"Size in bytes of one packet buffer pool block.",
			nil, nil,
		),
		busDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "exmsg_queue", "depth"),
			"Number of messages currently queued for the worker.",
			nil, nil,
		),
		busCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "exmsg_queue", "capacity"),
			"Maximum number of messages the worker queue can hold.",
			nil, nil,
		),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since this Collector (and the worker it observes) started.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.connections
	descs <- c.listeners
	descs <- c.poolAvail
	descs <- c.poolCapacity
	descs <- c.busDepth
	descs <- c.busCapacity
	descs <- c.uptime
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for state, n := range c.table.StateCounts() {
		metrics <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(n), state.String())
	}
	metrics <- prometheus.MustNewConstMetric(c.listeners, prometheus.GaugeValue, float64(c.table.ListenerCount()))
	metrics <- prometheus.MustNewConstMetric(c.poolAvail, prometheus.GaugeValue, float64(c.pool.Available()))
	metrics <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(c.pool.BlockSize()))
	metrics <- prometheus.MustNewConstMetric(c.busDepth, prometheus.GaugeValue, float64(c.bus.Len()))
	metrics <- prometheus.MustNewConstMetric(c.busCapacity, prometheus.GaugeValue, float64(c.bus.Cap()))
	metrics <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, platform.Since(c.started).Seconds())
}
