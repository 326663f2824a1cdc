package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "requests_total",
			Help:      "Total dispatch requests by outcome.",
		},
		[]string{"channel", "outcome"}, // outcome: "created", "duplicate_skipped", "retry_reset", "conflict_resolved", "error"
	)

	attemptsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "attempts_processed_total",
			Help:      "Total send attempts processed by result class.",
		},
		[]string{"provider_name", "result"}, // result: "sent", "transient", "permanent", "circuit_open"
	)

	attemptDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of one send attempt including provider call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name"},
	)

	deadLetteredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "dead_lettered_total",
			Help:      "Total messages captured in the dead letter store.",
		},
		[]string{"channel", "error_code"},
	)

	circuitTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "circuit_transitions_total",
			Help:      "Total circuit breaker state transitions.",
		},
		[]string{"provider_name", "to_state"},
	)

	attemptsAcquiredCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "poller_attempts_acquired_total",
			Help:      "Total due attempts acquired by the poller.",
		},
	)

	pollCycleDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "poller_cycle_duration_seconds",
			Help:      "Duration of one attempt poll cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
