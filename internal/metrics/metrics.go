// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	eventsReceivedCounter    prometheus.Counter
	eventsProcessedCounter   prometheus.Counter
	eventsDuplicateCounter   prometheus.Counter
	ledgerErrorsCounter      prometheus.Counter
	ledgerClaimLatencyMetric prometheus.Histogram
	queueDepthGauge          prometheus.Gauge
	ingestMessagesCounter    *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsReceivedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_received_total",
				Help: "Total number of events accepted into the ingestion queue.",
			},
		)

		eventsProcessedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_processed_total",
				Help: "Total number of events that claimed a new ledger entry.",
			},
		)

		eventsDuplicateCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "events_duplicate_total",
				Help: "Total number of events dropped because their key was already claimed.",
			},
		)

		ledgerErrorsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_errors_total",
				Help: "Total number of failed ledger claims.",
			},
		)

		ledgerClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_claim_duration_seconds",
				Help:    "Latency of ledger claim writes in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		queueDepthGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_queue_depth",
				Help: "Number of events waiting in the ingestion queue.",
			},
		)

		ingestMessagesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_ingest_messages_total",
				Help: "Kafka messages handled by the ingress, by outcome.",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			eventsReceivedCounter,
			eventsProcessedCounter,
			eventsDuplicateCounter,
			ledgerErrorsCounter,
			ledgerClaimLatencyMetric,
			queueDepthGauge,
			ingestMessagesCounter,
		)

		for _, outcome := range []string{"submitted", "invalid", "failed"} {
			ingestMessagesCounter.WithLabelValues(outcome)
		}
	})
}

func AddEventsReceived(n int) {
	Init()
	if n <= 0 {
		return
	}
	eventsReceivedCounter.Add(float64(n))
}

func IncEventsProcessed() {
	Init()
	eventsProcessedCounter.Inc()
}

func IncEventsDuplicate() {
	Init()
	eventsDuplicateCounter.Inc()
}

func IncLedgerErrors() {
	Init()
	ledgerErrorsCounter.Inc()
}

func ObserveLedgerClaimLatency(d time.Duration) {
	Init()
	ledgerClaimLatencyMetric.Observe(d.Seconds())
}

func SetQueueDepth(n int) {
	Init()
	queueDepthGauge.Set(float64(n))
}

func IncIngestMessages(outcome string) {
	Init()
	ingestMessagesCounter.WithLabelValues(outcome).Inc()
}
