// Package metrics holds the Prometheus collectors of the delivery pipeline.
// They are registered on the default registry and exposed by the server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_events_ingested_total",
			Help: "Total number of submitted events by result",
		},
		[]string{"result"},
	)

	// Fan-out metrics
	FanOutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_fanout_deliveries_total",
			Help: "Total number of deliveries created by fan-out",
		},
	)

	FanOutErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_fanout_errors_total",
			Help: "Total number of failed fan-out transactions",
		},
	)

	// Delivery metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_duration_seconds",
			Help:    "Duration of webhook calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_deliveries_in_flight",
			Help: "Number of webhook calls currently in progress",
		},
	)

	// Queue metrics
	Leases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_leases_total",
			Help: "Total number of deliveries leased by workers",
		},
	)

	LeasesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_leases_reclaimed_total",
			Help: "Total number of expired leases returned to pending",
		},
	)

	LeasesLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_leases_lost_total",
			Help: "Total number of acks rejected because the lease was no longer held",
		},
	)

	// DLQ metrics
	DLQReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_dlq_replays_total",
			Help: "Total number of dead-lettered deliveries replayed",
		},
	)
)
