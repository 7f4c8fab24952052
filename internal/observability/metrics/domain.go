package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gridCellsSold = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "grid_cells_sold",
		Help:      "Distinct grid cells painted at least once.",
	})

	gridRevenue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "grid_revenue_atomic",
		Help:      "Revenue accrued from first-time paints, in asset atomic units.",
	})

	placementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "placements_total",
		Help:      "Accepted ad placements.",
	})

	imageGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_generations_total",
		Help:      "Image generation attempts by generator and outcome.",
	}, []string{"generator", "outcome"})

	imageGenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "image_generation_duration_seconds",
		Help:      "Image generation latency.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"generator"})

	payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Payment gate outcomes by route and stage.",
	}, []string{"route", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"breaker"})

	agentRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_rounds_total",
		Help:      "Agent rounds by outcome.",
	}, []string{"outcome"})

	agentActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_actions_total",
		Help:      "Agent tool invocations by action kind and outcome.",
	}, []string{"action", "outcome"})
)

// SetGridStats publishes the current grid counters.
func SetGridStats(cellsSold int, revenueAtomic int64) {
	gridCellsSold.Set(float64(cellsSold))
	gridRevenue.Set(float64(revenueAtomic))
}

// IncPlacements counts an accepted placement.
func IncPlacements() {
	placementsTotal.Inc()
}

// ObserveImageGeneration records one generation attempt.
func ObserveImageGeneration(generator, outcome string, duration time.Duration) {
	imageGenerations.WithLabelValues(generator, outcome).Inc()
	imageGenerationDuration.WithLabelValues(generator).Observe(duration.Seconds())
}

// ObservePayment records a payment gate outcome such as "required",
// "invalid", "settled", "skipped" or "upstream_error".
func ObservePayment(route, outcome string) {
	payments.WithLabelValues(route, outcome).Inc()
}

// SetBreakerState exports a circuit breaker state.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveAgentRound records the outcome of one agent round.
func ObserveAgentRound(outcome string) {
	agentRounds.WithLabelValues(outcome).Inc()
}

// ObserveAgentAction records one tool invocation.
func ObserveAgentAction(action, outcome string) {
	agentActions.WithLabelValues(action, outcome).Inc()
}
