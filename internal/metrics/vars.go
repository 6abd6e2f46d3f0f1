package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QuotesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_quotes_ingested_total",
		Help: "Price quotes fed into the cache",
	})

	EvaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_evaluations_total",
		Help: "Evaluation cycles run",
	})

	BestExpectedProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_best_expected_profit",
		Help: "Expected profit of the best feasible path, in starting-asset units",
	})

	RiskDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_risk_denials_total",
		Help: "Risk gate denials by reason",
	}, []string{"reason"})

	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trade_attempts_total",
		Help: "Terminal trade attempts by status",
	}, []string{"status"})

	LegLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_leg_latency_seconds",
		Help:    "Time to submit and fill one leg",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		QuotesIngested,
		EvaluationsTotal,
		BestExpectedProfit,
		RiskDenialsTotal,
		AttemptsTotal,
		LegLatency,
	)
}
