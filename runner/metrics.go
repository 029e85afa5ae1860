// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlbench",
			Name:      "queries_total",
			Help:      "Number of queries issued to the backend.",
		}, []string{"backend", "scenario"})
	queryFailuresCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlbench",
			Name:      "query_failures_total",
			Help:      "Number of queries failed by the backend.",
		}, []string{"backend", "scenario"})
	queryLatencyHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlbench",
			Name:      "query_latency_seconds",
			Help:      "Bucketed histogram of the latency (s) of the queries.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 20),
		}, []string{"backend", "scenario"})
)

// RegisterMetrics registers the metrics of the runs in the registerer.
func RegisterMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(queriesCounter)
	registerer.MustRegister(queryFailuresCounter)
	registerer.MustRegister(queryLatencyHistogram)
}
