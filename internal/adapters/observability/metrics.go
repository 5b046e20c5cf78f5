package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "padu", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "padu", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "padu", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "padu", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	KVEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "padu", Name: "kv_events_total", Help: "Durable state hits/misses/puts/dels."},
		[]string{"backend", "event"}, // event: hit|miss|put|del|error
	)
	IngestRows = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "padu", Name: "ingest_rows_total", Help: "CSV data rows parsed."},
	)
	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "padu", Name: "ingest_messages_total", Help: "Worker messages by type."},
		[]string{"type"},
	)
	StoreSets = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "padu", Name: "store_sets_total", Help: "Store mutations by slice."},
		[]string{"slice"},
	)
)

// Serve exposes h at /metrics on addr in the background. Empty addr disables it.
func Serve(addr string, h http.Handler) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency,
		KVEvents, IngestRows, IngestMessages, StoreSets)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveKV(backend, event string) { KVEvents.WithLabelValues(backend, event).Inc() }

func ObserveIngestMessage(typ string) { IngestMessages.WithLabelValues(typ).Inc() }

func ObserveStoreSet(slice string) { StoreSets.WithLabelValues(slice).Inc() }
