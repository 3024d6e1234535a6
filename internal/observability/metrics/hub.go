package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Number of registered websocket connections",
		},
	)

	HubConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_connections_total",
			Help: "Total number of websocket connections accepted",
		},
	)

	HubConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_connections_rejected_total",
			Help: "Total number of websocket connections refused before registration",
		},
		[]string{"reason"},
	)

	HubOnlineIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_online_identities",
			Help: "Number of identities with at least one registered connection",
		},
	)

	HubRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_rooms_active",
			Help: "Number of non-empty rooms",
		},
	)

	HubEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_total",
			Help: "Total number of inbound events by type",
		},
		[]string{"type"},
	)

	HubEventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_event_errors_total",
			Help: "Total number of inbound events answered with an error, by code",
		},
		[]string{"code"},
	)

	HubEventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_event_processing_duration_seconds",
			Help:    "Duration of inbound event handling in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"type"},
	)

	HubProcessorQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_processor_queue_size",
			Help: "Number of inbound events waiting in processor queues",
		},
	)

	HubFanoutRecipients = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_fanout_recipients",
			Help:    "Number of connections targeted by one outbound event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"type"},
	)

	HubDeliveryDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_delivery_degraded_total",
			Help: "Total number of outbound frames that hit a full connection queue",
		},
		[]string{"policy"},
	)

	HubIdempotencyDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_idempotency_duplicates_total",
			Help: "Total number of retried events answered from the idempotency cache",
		},
		[]string{"type"},
	)

	HubPresenceBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_presence_broadcasts_total",
			Help: "Total number of presence broadcasts by kind",
		},
		[]string{"kind"},
	)

	HubDisconnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_disconnections_total",
			Help: "Total number of websocket disconnections by reason",
		},
		[]string{"reason"},
	)

	HubLastSeenDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_last_seen_dropped_total",
			Help: "Total number of last-seen updates dropped because the queue was full",
		},
	)

	HubPresenceMirrorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_presence_mirror_errors_total",
			Help: "Total number of failed presence mirror operations",
		},
		[]string{"op"},
	)
)
