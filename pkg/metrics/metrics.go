package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Vault metrics
	VaultActiveKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aqm_vault_active_keys",
			Help: "Number of ACTIVE vault entries by coin tier",
		},
		[]string{"tier"},
	)

	VaultBurnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_vault_burns_total",
			Help: "Total number of successful burn_key calls",
		},
	)

	VaultExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_vault_expired_total",
			Help: "Total number of vault entries removed by purge_expired",
		},
	)

	VaultOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqm_vault_operation_duration_seconds",
			Help:    "Vault operation duration in seconds by operation name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Inventory metrics
	InventoryCachedKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aqm_inventory_cached_keys",
			Help: "Number of cached public coins by priority and tier",
		},
		[]string{"priority", "tier"},
	)

	InventoryBudgetExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqm_inventory_budget_exceeded_total",
			Help: "Total number of store_key calls rejected for exceeding budget",
		},
		[]string{"priority", "tier"},
	)

	InventoryConcurrencyRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_inventory_concurrency_retries_total",
			Help: "Total number of optimistic-lock retries attempted by store_key",
		},
	)

	InventoryOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqm_inventory_operation_duration_seconds",
			Help:    "Inventory operation duration in seconds by operation name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Server metrics
	ServerCoinsUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_server_coins_uploaded_total",
			Help: "Total number of coin rows inserted by upload_coins",
		},
	)

	ServerCoinsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqm_server_coins_fetched_total",
			Help: "Total number of coin rows claimed by fetch_coins, by tier",
		},
		[]string{"tier"},
	)

	ServerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqm_server_operation_duration_seconds",
			Help:    "Coin server operation duration in seconds by operation name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Bridge metrics
	BridgeFetchAndCacheDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aqm_bridge_fetch_and_cache_duration_seconds",
			Help:    "Time taken for a fetch_and_cache call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BridgeLostClaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_bridge_lost_claims_total",
			Help: "Total number of server-claimed coins dropped when caching stopped on BudgetExceeded",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqm_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqm_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Maintenance metrics
	MaintenanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqm_maintenance_runs_total",
			Help: "Total number of maintenance sweeps completed by sweep name",
		},
		[]string{"sweep"},
	)

	MaintenanceRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqm_maintenance_run_duration_seconds",
			Help:    "Maintenance sweep duration in seconds by sweep name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	MaintenanceBytesFreedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqm_maintenance_bytes_freed_total",
			Help: "Total bytes freed across all inventory garbage-collection sweeps",
		},
	)
)

func init() {
	prometheus.MustRegister(VaultActiveKeys)
	prometheus.MustRegister(VaultBurnsTotal)
	prometheus.MustRegister(VaultExpiredTotal)
	prometheus.MustRegister(VaultOperationDuration)

	prometheus.MustRegister(InventoryCachedKeys)
	prometheus.MustRegister(InventoryBudgetExceededTotal)
	prometheus.MustRegister(InventoryConcurrencyRetriesTotal)
	prometheus.MustRegister(InventoryOperationDuration)

	prometheus.MustRegister(ServerCoinsUploadedTotal)
	prometheus.MustRegister(ServerCoinsFetchedTotal)
	prometheus.MustRegister(ServerOperationDuration)

	prometheus.MustRegister(BridgeFetchAndCacheDuration)
	prometheus.MustRegister(BridgeLostClaimsTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(MaintenanceRunsTotal)
	prometheus.MustRegister(MaintenanceRunDuration)
	prometheus.MustRegister(MaintenanceBytesFreedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
