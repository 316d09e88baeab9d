package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Creation metrics
	CreationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_creation_runs_total",
			Help: "Total number of market creation runs",
		},
		[]string{"market_type", "status"}, // success, failure, skipped
	)

	CandidatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_candidates_skipped_total",
			Help: "Candidates rejected during a creation scan",
		},
		[]string{"reason"}, // metadata, reserved, ineligible
	)

	// Resolution metrics
	MonitorTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketengine_monitor_tick_duration_seconds",
			Help:    "Duration of a resolution sweep",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"sweep"}, // tick, expiry
	)

	MarketsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_markets_settled_total",
			Help: "Markets moved to a terminal status",
		},
		[]string{"market_type", "outcome"},
	)

	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_evaluation_errors_total",
			Help: "Per-market evaluation errors",
		},
		[]string{"market_type"},
	)

	// Payout metrics
	Payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_payouts_total",
			Help: "Payout attempts by mode and status",
		},
		[]string{"mode", "status"}, // onchain/ledger, success/error
	)

	// Feed metrics
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketengine_feed_requests_total",
			Help: "Token feed requests",
		},
		[]string{"endpoint", "status"},
	)

	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketengine_feed_request_duration_seconds",
			Help:    "Token feed request latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
)
