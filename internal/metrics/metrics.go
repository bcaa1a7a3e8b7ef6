package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "board_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "board_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Ledger metrics
	LedgerAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "board_ledger_appends_total",
			Help: "Total messages appended",
		},
	)

	LedgerDeletes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "board_ledger_deletes_total",
			Help: "Total messages deleted by their author",
		},
	)

	LedgerDeletesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "board_ledger_deletes_rejected_total",
			Help: "Total rejected delete requests",
		},
		[]string{"reason"}, // "not_found" or "unauthorized"
	)

	LiveMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "board_ledger_live_messages",
			Help: "Messages currently on the board",
		},
	)

	// Feed metrics
	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "board_feed_clients",
			Help: "Connected websocket feed clients",
		},
	)

	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "board_signature_failures_total",
			Help: "Total rejected signed requests",
		},
		[]string{"reason"},
	)
)
