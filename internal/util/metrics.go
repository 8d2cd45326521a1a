package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_completed_total",
		Help: "Total number of sales accepted by the backoffice",
	})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of failed sale submissions",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of sale finalization round trips",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total number of payment entries recorded at the terminal",
	}, []string{"method"})

	ProductsQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "products_queued_total",
		Help: "Total number of product creations buffered offline",
	})

	QueueReplayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_replay_total",
		Help: "Queue replay outcomes per record",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_queue_depth",
		Help: "Number of product creations waiting for replay",
	})

	BackofficeOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backoffice_online",
		Help: "1 when the backoffice is reachable, 0 when offline",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
