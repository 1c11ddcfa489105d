package services

import "github.com/prometheus/client_golang/prometheus"

var (
	actionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_actions_recorded_total",
			Help: "Actions fed into the criteria evaluator",
		},
		[]string{"action"},
	)
	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_grants_total",
			Help: "Completed grants by definition kind",
		},
		[]string{"kind"},
	)
	resetBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reset_batches_total",
			Help: "Committed monthly reset batches",
		},
	)
	leaderboardRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_leaderboard_refreshes_total",
			Help: "Leaderboard snapshot refreshes",
		},
	)
	leaderboardCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_leaderboard_cache_lookups_total",
			Help: "Leaderboard cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// InitMetrics registers the engine metrics. Call this from main.go next to
// middleware.InitPrometheus.
func InitMetrics() {
	prometheus.MustRegister(actionsRecorded)
	prometheus.MustRegister(grantsTotal)
	prometheus.MustRegister(resetBatchesTotal)
	prometheus.MustRegister(leaderboardRefreshes)
	prometheus.MustRegister(leaderboardCacheLookups)
}
