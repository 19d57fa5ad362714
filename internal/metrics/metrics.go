// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zim_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zim_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zim_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	LibraryBooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zim_library_books",
			Help: "Number of books in the library",
		},
	)

	LibraryRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zim_library_revision",
			Help: "Current library revision",
		},
	)

	LibraryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zim_library_reloads_total",
			Help: "Total number of library reloads by result",
		},
		[]string{"result"},
	)

	// CacheLookups counts cache lookups; cache is "searcher" or "suggester",
	// result is "hit" or "miss".
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zim_cache_lookups_total",
			Help: "Total number of cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zim_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache"},
	)
)

// RecordRequest records one served request.
func RecordRequest(route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCacheLookup records a hit or a miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordLibrary publishes the library size and revision.
func RecordLibrary(books int, revision uint64) {
	LibraryBooks.Set(float64(books))
	LibraryRevision.Set(float64(revision))
}

// RecordReload records the outcome of a library reload.
func RecordReload(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	LibraryReloads.WithLabelValues(result).Inc()
}
