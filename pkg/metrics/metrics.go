package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bot metrics
var (
	// Updates
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_updates_total",
			Help: "Total number of processed Telegram updates",
		},
		[]string{"handler", "status"},
	)

	UpdateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshopbot_update_duration_seconds",
			Help:    "Time spent handling an update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	RateLimitedUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_rate_limited_updates_total",
			Help: "Updates dropped by the rate limits",
		},
		[]string{"scope"},
	)

	// Sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workshopbot_active_sessions",
			Help: "Number of conversations in progress",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_sessions_ended_total",
			Help: "Conversations ended, by reason",
		},
		[]string{"reason"}, // completed, cancelled, expired, replaced, failed
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_validation_rejections_total",
			Help: "Inputs rejected by validation, by error code",
		},
		[]string{"code"},
	)

	// Bookings
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"}, // confirmed, conflict, auth_failed, insert_failed, lock_failed
	)

	ConflictChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_conflict_checks_total",
			Help: "Conflict checks by result",
		},
		[]string{"result"}, // free, conflict, error_open, error_closed
	)

	ListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_listings_total",
			Help: "Day listings by status",
		},
		[]string{"status"},
	)

	// Calendar
	CalendarRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_calendar_requests_total",
			Help: "Calendar API requests",
		},
		[]string{"operation", "status"},
	)

	CalendarLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshopbot_calendar_request_duration_seconds",
			Help:    "Calendar API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_credential_refreshes_total",
			Help: "Credential acquisitions by source",
		},
		[]string{"source", "status"}, // source: cached, refresh, authorize
	)

	// Locks
	LockWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshopbot_lock_wait_seconds",
			Help:    "Time spent waiting for a booking lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Database
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_database_operations_total",
			Help: "Database operations",
		},
		[]string{"operation", "table", "status"},
	)

	// Runtime
	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workshopbot_memory_usage_bytes",
			Help: "Allocated heap in bytes",
		},
	)

	GoroutinesCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workshopbot_goroutines_count",
			Help: "Number of running goroutines",
		},
	)

	// Errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_errors_total",
			Help: "Errors by component and type",
		},
		[]string{"component", "error_type"},
	)

	// HTTP server
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshopbot_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshopbot_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordUpdate records a handled update
func RecordUpdate(handler, status string) {
	UpdatesTotal.WithLabelValues(handler, status).Inc()
}

// RecordSessionEnd records why a conversation ended
func RecordSessionEnd(reason string) {
	SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordValidationRejection records a rejected input
func RecordValidationRejection(code string) {
	ValidationRejections.WithLabelValues(code).Inc()
}

// RecordBooking records a booking outcome
func RecordBooking(outcome string) {
	BookingsTotal.WithLabelValues(outcome).Inc()
}

// RecordConflictCheck records a conflict check result
func RecordConflictCheck(result string) {
	ConflictChecks.WithLabelValues(result).Inc()
}

// RecordListing records a listing outcome
func RecordListing(status string) {
	ListingsTotal.WithLabelValues(status).Inc()
}

// RecordCalendarRequest records a calendar call and its latency
func RecordCalendarRequest(operation, status string, seconds float64) {
	CalendarRequests.WithLabelValues(operation, status).Inc()
	CalendarLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordCredential records how a credential was obtained
func RecordCredential(source, status string) {
	CredentialRefreshes.WithLabelValues(source, status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, table, status string) {
	DatabaseOperations.WithLabelValues(operation, table, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}

// SetActiveSessions sets the number of conversations in progress
func SetActiveSessions(count float64) {
	ActiveSessions.Set(count)
}
