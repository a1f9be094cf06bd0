package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adsec_provider_calls_total",
		Help: "Total number of AI provider calls by provider and outcome",
	}, []string{"provider", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adsec_provider_call_seconds",
		Help:    "AI provider call latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"provider"})

	chunksInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "adsec_chunks_inflight",
		Help: "Number of chunk calls currently in flight",
	})

	categoriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adsec_categories_total",
		Help: "Total number of processed categories by outcome",
	}, []string{"outcome"})

	findingsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adsec_findings_written_total",
		Help: "Total number of findings persisted",
	})
)
