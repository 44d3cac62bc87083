// Package metrics holds the Prometheus collectors shared by the search,
// self-play and serving paths. Everything registers with the default
// registry so /metrics exposes it without extra wiring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sidestacker"

var (
	// Searches counts completed searches. Labels: evaluator (rollout, guided).
	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcts",
		Name:      "searches_total",
		Help:      "Completed MCTS searches",
	}, []string{"evaluator"})

	Simulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcts",
		Name:      "simulations_total",
		Help:      "Completed MCTS simulations",
	}, []string{"evaluator"})

	// SearchDepth observes the deepest node reached by each search.
	SearchDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mcts",
		Name:      "max_depth",
		Help:      "Deepest node reached per search",
		Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 24, 32, 49},
	}, []string{"evaluator"})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mcts",
		Name:      "search_duration_seconds",
		Help:      "Wall time of one search",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"evaluator"})

	InferenceBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "batch_size",
		Help:      "Positions per ONNX session run",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "run_duration_seconds",
		Help:      "ONNX session run latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// Games counts finished self-play games. Labels: outcome (win, draw).
	Games = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "selfplay",
		Name:      "games_total",
		Help:      "Finished self-play games",
	}, []string{"outcome"})

	Samples = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "selfplay",
		Name:      "samples_total",
		Help:      "Training samples produced",
	})

	// Moves counts best-move requests. Labels: difficulty, status (ok, error).
	Moves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "moves_total",
		Help:      "Best-move requests served",
	}, []string{"difficulty", "status"})

	MoveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "move_duration_seconds",
		Help:      "Best-move latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"difficulty"})
)

// ObserveSearch records one finished search.
func ObserveSearch(evaluator string, simulations, maxDepth int, elapsed time.Duration) {
	Searches.WithLabelValues(evaluator).Inc()
	Simulations.WithLabelValues(evaluator).Add(float64(simulations))
	SearchDepth.WithLabelValues(evaluator).Observe(float64(maxDepth))
	SearchDuration.WithLabelValues(evaluator).Observe(elapsed.Seconds())
}
