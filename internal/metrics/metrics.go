// Package metrics exposes the desk's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "desk_ticks_total", Help: "Scheduled task runs by outcome"},
		[]string{"task", "outcome", "reason"},
	)
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desk_tick_duration_seconds",
			Help:    "Wall time of scheduled task runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "desk_signals_emitted_total", Help: "Signals written by the edge detector"},
		[]string{"side", "source"},
	)
	EdgeBps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "desk_edge_bps",
			Help:    "Absolute edge observed per detection",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3200},
		},
	)
	OrdersSized = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "desk_orders_sized_total", Help: "Sized orders written by the risk sizer"},
	)
	OrderSizeUSD = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "desk_order_size_usd",
			Help:    "Notional of sized orders",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500},
		},
	)
	ClaimMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "desk_claim_misses_total", Help: "Risk runs that found no claimable signal"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "desk_http_requests_total", Help: "Query API requests"},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TickDuration,
		SignalsEmitted, EdgeBps,
		OrdersSized, OrderSizeUSD, ClaimMisses,
		HTTPRequests,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
