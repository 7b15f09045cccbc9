// Package metrics defines the prometheus collectors shared by the range
// fetcher and index codec, registered via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteFileHTTPRequestsTotal counts every HTTP request issued against
	// the object store (ranged data GETs, index GETs and index PUTs),
	// labeled by method and status code.
	RemoteFileHTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudfits",
		Subsystem: "rangefetch",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests issued against the object store (data ranges and index document).",
	}, []string{"method", "status"})

	// RangeFetchRetriesTotal counts retry attempts across all ranges of a
	// cutout request.
	RangeFetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudfits",
		Subsystem: "rangefetch",
		Name:      "retries_total",
		Help:      "Total number of per-range retry attempts.",
	})

	// RangeFetchBytesTotal counts bytes received across all successful
	// range reads.
	RangeFetchBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudfits",
		Subsystem: "rangefetch",
		Name:      "bytes_total",
		Help:      "Total bytes received from ranged GETs.",
	})

	// CutoutDuration observes end-to-end wall-clock time for one cutout
	// request (plan + fetch + assemble).
	CutoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cloudfits",
		Subsystem: "cutout",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of a full cutout request.",
		Buckets:   prometheus.DefBuckets,
	})

	// IndexLookupDuration observes the time to obtain a decoded CloudIndex
	// document, for cache hits as well as fetch-and-decode misses.
	IndexLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cloudfits",
		Subsystem: "cloudindex",
		Name:      "lookup_duration_seconds",
		Help:      "Time to obtain a decoded CloudIndex, including cache hits.",
		Buckets:   prometheus.DefBuckets,
	})

	// IndexCacheHitsTotal counts TTL-cache hits/misses for decoded
	// CloudIndex documents.
	IndexCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudfits",
		Subsystem: "cloudindex",
		Name:      "cache_results_total",
		Help:      "Count of CloudIndex cache hits and misses.",
	}, []string{"result"})
)
