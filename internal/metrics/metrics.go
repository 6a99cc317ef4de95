package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// Metrics holds the Prometheus collectors of the analytics client and the
// dev collector. All methods are safe on a nil receiver.
type Metrics struct {
	// Client side
	EventsEnqueued *prometheus.CounterVec
	EventsSent     *prometheus.CounterVec
	BatchesSent    *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	FlushLatency   *prometheus.HistogramVec

	// Collector side
	EventsIngested    *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	SessionsRotated   prometheus.Counter
	BatchFlushLatency *prometheus.HistogramVec
	HTTPDuration      *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled     bool
	Addr        string
	TLSCert     string
	TLSKey      string
	ClientCA    string
	RequireTLS  bool
	RequireAuth bool
}

func (c Config) tlsEnabled() bool {
	return c.RequireTLS && c.TLSCert != "" && c.TLSKey != ""
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:     getBool("METRICS_ENABLED", false),
		Addr:        getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:     getOr("METRICS_TLS_CERT", ""),
		TLSKey:      getOr("METRICS_TLS_KEY", ""),
		ClientCA:    getOr("METRICS_CLIENT_CA", ""),
		RequireTLS:  getBool("METRICS_REQUIRE_TLS", false),
		RequireAuth: getBool("METRICS_REQUIRE_AUTH", false),
	}
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_events_enqueued_total",
				Help: "Events accepted into the client queue by type",
			},
			[]string{"type"},
		),

		EventsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_events_sent_total",
				Help: "Events confirmed delivered by the client",
			},
			[]string{"transport"},
		),

		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_batches_total",
				Help: "Batch send attempts by transport and result",
			},
			[]string{"transport", "result"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dacars_analytics_queue_depth",
				Help: "Events waiting in the client queue",
			},
		),

		FlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dacars_analytics_flush_latency_seconds",
				Help:    "Duration of one client flush",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),

		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_events_ingested_total",
				Help: "Total events ingested by sink type",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dacars_analytics_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		SessionsRotated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dacars_analytics_sessions_rotated_total",
				Help: "Sessions reissued by the collector after the idle timeout",
			},
		),

		BatchFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dacars_analytics_sink_flush_latency_seconds",
				Help:    "Latency of flushing a batch to sinks",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dacars_analytics_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsEnqueued,
			m.EventsSent,
			m.BatchesSent,
			m.QueueDepth,
			m.FlushLatency,
			m.EventsIngested,
			m.SinkErrors,
			m.HTTPRequests,
			m.SessionsRotated,
			m.BatchFlushLatency,
			m.HTTPDuration,
		)
	}

	return m
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server exposing gatherer. A nil gatherer
// means the default registry.
func NewServer(config Config, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.tlsEnabled() {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logging.Warn().Err(err).Msg("metrics: failed to load client CA")
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logging.Info().Str("client_ca", config.ClientCA).Msg("metrics: mTLS enabled")
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{
		server: srv,
		config: config,
	}
}

// Start binds the listener, so a bad address fails here, and serves in the
// background.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logging.Info().Msg("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.config.Addr, err)
	}
	secure := s.config.tlsEnabled()
	logging.Info().Str("addr", ln.Addr().String()).Bool("tls", secure).Msg("metrics: server listening")

	go func() {
		var err error
		if secure {
			err = s.server.ServeTLS(ln, s.config.TLSCert, s.config.TLSKey)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("metrics: server error")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	logging.Info().Msg("metrics: shutting down server")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", certFile)
	}
	return pool, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide instance registered on the default
// registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) IncrementEventsEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.EventsEnqueued.WithLabelValues(eventType).Inc()
}

func (m *Metrics) AddEventsSent(transport string, n int) {
	if m == nil {
		return
	}
	m.EventsSent.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) IncrementBatches(transport string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.BatchesSent.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveFlushLatency(transport string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FlushLatency.WithLabelValues(transport).Observe(duration.Seconds())
}

func (m *Metrics) AddEventsIngested(sink string, n int) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(sink).Add(float64(n))
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) AddSinkErrors(sink, errorType string, n int) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Add(float64(n))
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncrementSessionsRotated() {
	if m == nil {
		return
	}
	m.SessionsRotated.Inc()
}

func (m *Metrics) ObserveBatchFlushLatency(sink string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
