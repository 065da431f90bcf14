// Package metrics exposes the Prometheus collectors for the marketplace
// engine and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	settlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "settlements_total",
			Help:      "Total completed sale settlements.",
		},
	)

	escrowedVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "escrowed_volume_total",
			Help:      "Total funds moved into escrow custody.",
		},
	)

	refundedVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "refunded_volume_total",
			Help:      "Total escrowed funds refunded on rejection or expiry.",
		},
	)

	settledVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "settled_volume_total",
			Help:      "Total escrowed funds paid out through settlement.",
		},
	)

	feeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "fee_volume_total",
			Help:      "Total marketplace fees accrued through settlement.",
		},
	)

	expiredOffers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "engine",
			Name:      "expired_offers_total",
			Help:      "Total offers transitioned to expired, by trigger.",
		},
		[]string{"trigger"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		operations,
		settlements,
		escrowedVolume,
		refundedVolume,
		settledVolume,
		feeVolume,
		expiredOffers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation counts one engine operation by outcome.
func RecordOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	operations.WithLabelValues(operation, outcome).Inc()
}

// RecordEscrowed counts funds moved into escrow custody.
func RecordEscrowed(amount uint64) {
	escrowedVolume.Add(float64(amount))
}

// RecordRefund counts escrowed funds returned to a buyer.
func RecordRefund(amount uint64) {
	refundedVolume.Add(float64(amount))
}

// RecordSettlement counts one completed sale and its fund movements.
func RecordSettlement(amount, fee uint64) {
	settlements.Inc()
	settledVolume.Add(float64(amount))
	feeVolume.Add(float64(fee))
}

// RecordExpiry counts an offer expiry. Trigger is "lazy" when a respond call
// tripped it and "sweeper" when the background sweeper did.
func RecordExpiry(trigger string) {
	expiredOffers.WithLabelValues(trigger).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses path parameters so metric cardinality stays bounded.
func canonicalPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if len(p) > 24 || strings.ContainsRune(p, ':') {
			parts[i] = ":key"
		}
	}
	return strings.Join(parts, "/")
}
