package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedRefreshDuration records how long a full fetch-and-build cycle takes.
	FeedRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bilimshare_feed_refresh_duration_seconds",
		Help:    "Duration of full feed refresh cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FeedRefreshTotal counts refresh cycles by outcome.
	FeedRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilimshare_feed_refresh_total",
		Help: "Total number of feed refresh cycles by outcome",
	}, []string{"outcome"})

	// StoreQueryLatency records store query latency by table.
	StoreQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bilimshare_store_query_latency_seconds",
		Help:    "Store query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	// ActionsTotal counts interaction handler results by action and code.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilimshare_actions_total",
		Help: "Total interaction handler invocations by action and result code",
	}, []string{"action", "code"})

	// WebSocketConnections is the gauge of open feed event connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bilimshare_websocket_connections",
		Help: "Number of open feed event WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped because a client buffer was full or closed.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilimshare_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"reason"})
)
