// Package observability provides Prometheus metrics and tracing setup.
package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compliance-ledger/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PendingEntries    *prometheus.GaugeVec
	EventsAppended    *prometheus.CounterVec

	// Relay metrics
	EventsRelayed       *prometheus.CounterVec
	RelayErrors         *prometheus.CounterVec
	LastSuccessfulRelay prometheus.Gauge

	// Transport metrics
	HTTPRequestDuration *prometheus.HistogramVec
	StreamClients       prometheus.Gauge

	// Storage metrics
	TxRetries *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "compliance_ledger"
	}

	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by component, operation and outcome",
		}, []string{"component", "operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, including the storage transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "operation"}),
		PendingEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_entries",
			Help:      "Number of unresolved pending entries by queue",
		}, []string{"queue"}),
		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_appended_total",
			Help:      "Total number of events written to the outbox by kind",
		}, []string{"kind"}),

		EventsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_published_total",
			Help:      "Total number of outbox events delivered by publisher",
		}, []string{"publisher"}),
		RelayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Total number of failed publish attempts by publisher",
		}, []string{"publisher"}),
		LastSuccessfulRelay: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "last_successful_timestamp",
			Help:      "Unix timestamp of the last relay pass without errors",
		}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "stream_clients",
			Help:      "Number of connected event stream clients",
		}),

		TxRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "tx_retries_total",
			Help:      "Total number of transactions rerun after a serialization failure",
		}, []string{"database"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// outcomes maps ledger errors to low-cardinality outcome labels.
var outcomes = []struct {
	err   error
	label string
}{
	{domain.ErrUnauthorized, "unauthorized"},
	{domain.ErrNotWhitelisted, "not_whitelisted"},
	{domain.ErrInvalidRecipient, "invalid_recipient"},
	{domain.ErrInvalidAddress, "invalid_address"},
	{domain.ErrInsufficientBalance, "insufficient_balance"},
	{domain.ErrNoSuchPendingEntry, "no_such_pending_entry"},
	{domain.ErrSaleWindowClosed, "sale_window_closed"},
	{domain.ErrZeroAmount, "zero_amount"},
	{domain.ErrNothingToClaim, "nothing_to_claim"},
	{domain.ErrSaleNotEnded, "sale_not_ended"},
	{domain.ErrAlreadyFinalized, "already_finalized"},
	{domain.ErrAmountOverflow, "amount_overflow"},
	{domain.ErrTransferRefused, "transfer_refused"},
	{domain.ErrNotDeployed, "not_deployed"},
}

// Outcome returns the outcome label of an operation result.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

// RecordOperation records the outcome and duration of a ledger operation.
func RecordOperation(component, operation string, started time.Time, err error) {
	DefaultMetrics.OperationsTotal.WithLabelValues(component, operation, Outcome(err)).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(component, operation).Observe(time.Since(started).Seconds())
}

// RecordEvent increments the outbox counter for kind.
func RecordEvent(kind domain.EventKind) {
	DefaultMetrics.EventsAppended.WithLabelValues(string(kind)).Inc()
}

// SetPendingEntries updates the pending queue gauge.
func SetPendingEntries(queue string, n int) {
	DefaultMetrics.PendingEntries.WithLabelValues(queue).Set(float64(n))
}

// RecordRelay records a publish attempt of n events.
func RecordRelay(publisher string, n int, err error) {
	if err != nil {
		DefaultMetrics.RelayErrors.WithLabelValues(publisher).Inc()
		return
	}
	DefaultMetrics.EventsRelayed.WithLabelValues(publisher).Add(float64(n))
}

// MarkRelayHealthy stamps the last successful relay pass.
func MarkRelayHealthy() {
	DefaultMetrics.LastSuccessfulRelay.SetToCurrentTime()
}

// RecordHTTPRequest records API request latency.
func RecordHTTPRequest(method, route string, status int, seconds float64) {
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

// RecordTxRetry increments the serialization retry counter.
func RecordTxRetry(database string) {
	DefaultMetrics.TxRetries.WithLabelValues(database).Inc()
}
