// Package metrics holds the process-wide prometheus collectors. Every
// helper is a no-op until Init has run, so packages can record metrics in
// tests without registering anything.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "budget_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ledgerMutations *prometheus.CounterVec
	balanceLatency  *prometheus.HistogramVec
	balanceCache    *prometheus.CounterVec

	entitlementTransitions *prometheus.CounterVec
	purchaseOutcomes       *prometheus.CounterVec

	amqpMessages *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	rateLimited  prometheus.Counter
)

// Init registers the collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		ledgerMutations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_mutations_total",
				Help: "Total ledger mutations by operation and result",
			},
			[]string{"op", "result"},
		)
		balanceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "balance_query_latency_seconds",
				Help:    "Balance computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		balanceCache = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "balance_cache_total",
				Help: "Balance cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		entitlementTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "entitlement_transitions_total",
				Help: "Entitlement status transitions by target status",
			},
			[]string{"status"},
		)
		purchaseOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "purchase_outcomes_total",
				Help: "Purchase outcomes by kind",
			},
			[]string{"outcome"},
		)

		amqpMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "amqp_messages_total",
				Help: "AMQP messages by direction and result",
			},
			[]string{"direction", "result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		)
		rateLimited = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		)

		prometheus.MustRegister(
			ledgerMutations,
			balanceLatency,
			balanceCache,
			entitlementTransitions,
			purchaseOutcomes,
			amqpMessages,
			httpRequests,
			rateLimited,
		)
	})
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// IncLedgerMutation counts one ledger mutation.
func IncLedgerMutation(op string, err error) {
	if op == "" {
		op = "unknown"
	}
	if ledgerMutations != nil {
		ledgerMutations.WithLabelValues(op, Result(err)).Inc()
	}
}

// ObserveBalance records the latency of one uncached balance computation.
func ObserveBalance(err error, duration time.Duration) {
	if balanceLatency != nil {
		balanceLatency.WithLabelValues(Result(err)).Observe(duration.Seconds())
	}
}

// IncBalanceCache counts a cache hit or miss.
func IncBalanceCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	if balanceCache != nil {
		balanceCache.WithLabelValues(outcome).Inc()
	}
}

// IncEntitlementTransition counts a transition into status.
func IncEntitlementTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if entitlementTransitions != nil {
		entitlementTransitions.WithLabelValues(status).Inc()
	}
}

// IncPurchaseOutcome counts a purchase outcome.
func IncPurchaseOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if purchaseOutcomes != nil {
		purchaseOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncAMQPMessage counts a published or consumed message.
func IncAMQPMessage(direction string, err error) {
	if amqpMessages != nil {
		amqpMessages.WithLabelValues(direction, Result(err)).Inc()
	}
}

// IncHTTPRequest counts a completed HTTP request.
func IncHTTPRequest(method string, code int) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
}

// IncRateLimited counts a request rejected by the rate limiter.
func IncRateLimited() {
	if rateLimited != nil {
		rateLimited.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	DirectionPublish = "publish"
	DirectionConsume = "consume"
)
