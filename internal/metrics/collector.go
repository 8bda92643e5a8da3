package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats provides the collector access to in-process state.
type LiveStats interface {
	SinkCount() int
	QueueDepth() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats LiveStats

	progressSinks *prometheus.Desc
	queueDepth    *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (gauges report 0).
func NewCollector(stats LiveStats) *Collector {
	return &Collector{
		stats: stats,
		progressSinks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "progress_sinks_active"),
			"Current number of connected progress streams.",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "queue_depth"),
			"Requests waiting for a pipeline worker.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.progressSinks
	ch <- c.queueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var sinks, depth float64
	if c.stats != nil {
		sinks = float64(c.stats.SinkCount())
		depth = float64(c.stats.QueueDepth())
	}
	ch <- prometheus.MustNewConstMetric(c.progressSinks, prometheus.GaugeValue, sinks)
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, depth)
}
