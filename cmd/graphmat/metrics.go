package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/graphmat"
)

var _ graphmat.MetricsCollector = (*promCollector)(nil)

// promCollector exports run metrics to Prometheus.
type promCollector struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	items        *prometheus.CounterVec
	shards       *prometheus.CounterVec
	shardLatency prometheus.Histogram
	units        *prometheus.CounterVec
}

func newPromCollector(reg prometheus.Registerer) *promCollector {
	c := &promCollector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphmat_store_requests_total",
			Help: "Store requests by operation, index and status",
		}, []string{"op", "index", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphmat_store_request_seconds",
			Help:    "Latency of store requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphmat_store_items_total",
			Help: "Documents touched by store requests, by operation and result",
		}, []string{"op", "result"}),
		shards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphmat_shards_total",
			Help: "Finished shards by status",
		}, []string{"status"}),
		shardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphmat_shard_seconds",
			Help:    "Time spent per shard",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphmat_units_total",
			Help: "Units of finished runs by result",
		}, []string{"result"}),
	}
	reg.MustRegister(c.requests, c.latency, c.items, c.shards, c.shardLatency, c.units)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *promCollector) observe(op, index string, d time.Duration, err error) {
	c.requests.WithLabelValues(op, index, status(err)).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *promCollector) OnLookup(index string, requested, found int, d time.Duration, err error) {
	c.observe("lookup", index, d, err)
	if err == nil {
		c.items.WithLabelValues("lookup", "found").Add(float64(found))
		c.items.WithLabelValues("lookup", "missing").Add(float64(requested - found))
	}
}

func (c *promCollector) OnQuery(index, _ string, hits int, d time.Duration, err error) {
	c.observe("query", index, d, err)
	c.items.WithLabelValues("query", "hit").Add(float64(hits))
}

func (c *promCollector) OnBulk(index string, actions, failed int, d time.Duration, err error) {
	c.observe("bulk", index, d, err)
	if err == nil {
		c.items.WithLabelValues("bulk", "succeeded").Add(float64(actions - failed))
		c.items.WithLabelValues("bulk", "failed").Add(float64(failed))
	}
}

func (c *promCollector) RecordShard(_ int, d time.Duration, err error) {
	c.shards.WithLabelValues(status(err)).Inc()
	c.shardLatency.Observe(d.Seconds())
}

func (c *promCollector) RecordRun(processed int64, failed int, _ time.Duration) {
	c.units.WithLabelValues("processed").Add(float64(processed))
	c.units.WithLabelValues("failed").Add(float64(failed))
}
