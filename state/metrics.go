// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type controllerMetrics struct {
	flushes       prometheus.Counter
	flushFailures prometheus.Counter
	flushDuration prometheus.Histogram
	aborts        prometheus.Counter
	height        prometheus.Gauge
	reads         *prometheus.CounterVec
	codeCacheHits prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *controllerMetrics
)

func newControllerMetrics() *controllerMetrics {
	return &controllerMetrics{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "flushes_total",
			Help:      "Total blocks committed to the store.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "flush_failures_total",
			Help:      "Total failed attempts to commit a block.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "flush_duration_seconds",
			Help:      "Time spent committing a block.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "aborts_total",
			Help:      "Total blocks dropped without commit.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "height",
			Help:      "Last committed height.",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "reads_total",
			Help:      "Snapshot lookups by kind of state element.",
		}, []string{"kind"}),
		codeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ads",
			Subsystem: "state",
			Name:      "code_cache_hits_total",
			Help:      "Code lookups served without reading the store.",
		}),
	}
}

func defaultMetrics() *controllerMetrics {
	metricsOnce.Do(func() {
		metrics = newControllerMetrics()
	})
	return metrics
}

// RegisterMetrics registers the state metrics with the given registerer.
func RegisterMetrics(registerer prometheus.Registerer) error {
	m := defaultMetrics()
	for _, c := range []prometheus.Collector{m.flushes, m.flushFailures, m.flushDuration, m.aborts, m.height, m.reads, m.codeCacheHits} {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}
