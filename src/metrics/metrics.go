// Package metrics registers the Prometheus instruments the service
// updates during operation:
//   - papertrader_trades_total{side,status}        – simulated orders committed
//   - papertrader_quote_cache_hits_total{class}    – market-data cache hits
//   - papertrader_quote_cache_misses_total{class}  – market-data cache misses
//   - papertrader_request_queue_depth              – pending upstream requests (gauge)
//   - papertrader_rate_limit_retries_total         – rate-limited requests re-queued
//
// These are registered in init() and served at /metrics in the Prometheus
// text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trades_total",
			Help: "Simulated orders committed to the ledger",
		},
		[]string{"side", "status"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_quote_cache_hits_total",
			Help: "Market-data cache hits by data class",
		},
		[]string{"class"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_quote_cache_misses_total",
			Help: "Market-data cache misses by data class",
		},
		[]string{"class"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "papertrader_request_queue_depth",
			Help: "Requests waiting in the upstream dispatch queue",
		},
	)

	rateLimitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papertrader_rate_limit_retries_total",
			Help: "Upstream requests re-queued after a rate-limit response",
		},
	)
)

func init() {
	prometheus.MustRegister(trades, cacheHits, cacheMisses, queueDepth, rateLimitRetries)
}

func IncTradePlaced(side, status string) { trades.WithLabelValues(side, status).Inc() }
func IncCacheHit(class string)           { cacheHits.WithLabelValues(class).Inc() }
func IncCacheMiss(class string)          { cacheMisses.WithLabelValues(class).Inc() }
func SetQueueDepth(depth int)            { queueDepth.Set(float64(depth)) }
func IncRateLimitRetry()                 { rateLimitRetries.Inc() }
