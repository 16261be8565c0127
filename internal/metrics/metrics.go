// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	messagingNamespace    = "messaging"
	messagingSubsystemApp = "app"
)

// MessagingMetrics holds all of the metrics needed to properly instrument
// the messaging server.
type MessagingMetrics struct {
	IngestedMessagesCount *prometheus.CounterVec
	IngestFailuresCount   prometheus.Counter
	DeliveriesCount       *prometheus.CounterVec
	DeliveryDurationHist  *prometheus.HistogramVec
	EventsStoredCount     prometheus.Counter
	EventsClearedCount    prometheus.Counter
	FlushDurationHist     prometheus.Histogram
}

// New creates a new Prometheus-based Metrics object to be used throughout the
// messaging server in order to record various performance metrics.
func New() *MessagingMetrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a Metrics object registering with the given
// registerer, allowing tests to use an isolated registry.
func NewWithRegisterer(registerer prometheus.Registerer) *MessagingMetrics {
	factory := promauto.With(registerer)

	return &MessagingMetrics{
		IngestedMessagesCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "ingested_messages_total",
				Help:      "The number of pub/sub messages ingested, by outcome",
			},
			[]string{"outcome"},
		),

		IngestFailuresCount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "ingest_failures_total",
				Help:      "The number of pub/sub messages that failed processing and were nacked",
			},
		),

		DeliveriesCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "deliveries_total",
				Help:      "The number of delivery attempts, by method and result",
			},
			[]string{"method", "result"},
		),

		DeliveryDurationHist: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "delivery_duration_seconds",
				Help:      "The duration of delivery attempts, by method",
				Buckets:   standardDurationBuckets(),
			},
			[]string{"method"},
		),

		EventsStoredCount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "events_stored_total",
				Help:      "The number of events persisted for later delivery",
			},
		),

		EventsClearedCount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "events_cleared_total",
				Help:      "The number of events removed after successful delivery",
			},
		),

		FlushDurationHist: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: messagingNamespace,
				Subsystem: messagingSubsystemApp,
				Name:      "flush_duration_seconds",
				Help:      "The duration of flush operations",
				Buckets:   standardDurationBuckets(),
			},
		),
	}
}

// 5 second buckets up to 100 seconds.
func standardDurationBuckets() []float64 {
	return prometheus.LinearBuckets(0, 5, 20)
}
