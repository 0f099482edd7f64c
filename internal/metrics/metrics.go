// Package metrics provides Prometheus metrics for the navigation service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drive_navigation_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Provenance metrics
	provenanceResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_provenance_resolutions_total",
			Help: "Breadcrumb provenance resolutions by source",
		},
		[]string{"source"},
	)

	provenanceInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_navigation_provenance_invalidations_total",
			Help: "Stale navigation markers discarded",
		},
	)

	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_triggers_total",
			Help: "Navigation triggers recorded",
		},
		[]string{"trigger"},
	)

	partialTrails = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_navigation_partial_trails_total",
			Help: "Trails rendered without item or ancestor data",
		},
	)

	// Drive API metrics
	driveLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drive_navigation_lookup_duration_seconds",
			Help:    "Drive API lookup duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lookup"},
	)

	driveLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_lookups_total",
			Help: "Drive API lookups by outcome",
		},
		[]string{"lookup", "outcome"},
	)

	lookupCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_lookup_cache_total",
			Help: "Lookup cache hits and misses",
		},
		[]string{"result"},
	)

	// Session store metrics
	sessionOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drive_navigation_session_op_duration_seconds",
			Help:    "Session store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	sessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_navigation_sessions_purged_total",
			Help: "Idle navigation sessions removed",
		},
	)

	// Events
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_events_published_total",
			Help: "Navigation events relayed to the message bus",
		},
		[]string{"status"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_navigation_auth_attempts_total",
			Help: "Bearer token verifications by result",
		},
		[]string{"method", "result"},
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drive_navigation_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordResolution counts a provenance decision.
func RecordResolution(source string) {
	if source == "" {
		source = "none"
	}
	provenanceResolutions.WithLabelValues(source).Inc()
}

// RecordInvalidation counts a stale marker pair being cleared.
func RecordInvalidation() {
	provenanceInvalidations.Inc()
}

// RecordTrigger counts a route-entry or folder-click trigger.
func RecordTrigger(trigger string) {
	triggersTotal.WithLabelValues(trigger).Inc()
}

// RecordPartialTrail counts a trail rendered without remote data.
func RecordPartialTrail() {
	partialTrails.Inc()
}

// RecordLookup records a drive API lookup.
func RecordLookup(lookup, outcome string, duration time.Duration) {
	driveLookupDuration.WithLabelValues(lookup).Observe(duration.Seconds())
	driveLookupsTotal.WithLabelValues(lookup, outcome).Inc()
}

// RecordCache records a lookup cache hit or miss.
func RecordCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	lookupCache.WithLabelValues(result).Inc()
}

// RecordSessionOp records a session store operation.
func RecordSessionOp(backend, op string, duration time.Duration) {
	sessionOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordSessionsPurged adds purged sessions.
func RecordSessionsPurged(n int64) {
	sessionsPurged.Add(float64(n))
}

// RecordEventPublished records an event relay attempt.
func RecordEventPublished(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	eventsPublished.WithLabelValues(status).Inc()
}

// RecordAuthAttempt records a bearer token verification.
func RecordAuthAttempt(method string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordRateLimited counts a rejected request.
func RecordRateLimited() {
	rateLimited.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics. The
// route label is the matched mux pattern, so item ids never become labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
