// Command collector is a development ingestion server for the analytics
// client. It accepts batches on /api/analytics/events, enriches every event
// with request data and fans it out to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	httpx "github.com/Arsene94/dacarsfe-sub002/internal/http"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
	"github.com/Arsene94/dacarsfe-sub002/internal/metrics"
	"github.com/Arsene94/dacarsfe-sub002/internal/sink"
	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe /healthz of a running collector and exit")
	smoke := flag.Bool("smoke", false, "drive a native analytics client against this collector after start")
	flag.Parse()

	logging.Init(logging.ConfigFromEnv())
	cfg := config.Load()

	if *healthcheck {
		host, port := healthTarget(cfg.ServerAddr)
		if err := performHealthCheck(host, port); err != nil {
			logging.Error().Err(err).Msg("collector: health check failed")
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.Default()
	sinks := initializeSinks(ctx, cfg.Outputs)
	if len(sinks) == 0 {
		logging.Warn().Strs("outputs", cfg.Outputs).Msg("collector: no sink started, events will be dropped")
	}

	metricsConfig := metrics.LoadConfig()
	metricsConfig.Enabled = cfg.MetricsEnabled
	metricsConfig.Addr = cfg.MetricsAddr
	metricsServer := metrics.NewServer(metricsConfig, nil)
	if err := metricsServer.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("collector: metrics server failed to start")
	}

	env := httpx.Env{
		Cfg:      cfg,
		Emit:     createEmitFunc(sinks, appMetrics),
		Metrics:  appMetrics,
		Sessions: httpx.NewSessionManager(cfg.SessionIdleTimeout, nil, appMetrics),
		Ready:    readiness(sinks),
	}
	srv := startHTTPServer(cfg, env)

	if *smoke {
		go func() {
			host, port := healthTarget(cfg.ServerAddr)
			endpoint := "http://" + net.JoinHostPort(host, port) + config.EventsPath
			if err := runSmoke(ctx, endpoint); err != nil {
				logging.Error().Err(err).Msg("smoke: failed")
				return
			}
			logging.Info().Str("endpoint", endpoint).Msg("smoke: all events accepted")
		}()
	}

	waitForShutdown(srv, metricsServer, sinks)
}

// initializeSinks builds and starts every output. Outputs that fail are
// logged and skipped.
func initializeSinks(ctx context.Context, outputs []string) []sink.Sink {
	var sinks []sink.Sink
	for _, name := range outputs {
		s, err := sink.New(name)
		if err != nil {
			logging.Warn().Err(err).Msg("collector: skipping output")
			continue
		}
		if err := s.Start(ctx); err != nil {
			logging.Error().Err(err).Str("sink", s.Name()).Msg("collector: sink failed to start")
			continue
		}
		logging.Info().Str("sink", s.Name()).Msg("collector: sink started")
		sinks = append(sinks, s)
	}
	return sinks
}

// createEmitFunc fans a record out to every sink. A failing sink does not
// stop the others.
func createEmitFunc(sinks []sink.Sink, m *metrics.Metrics) func(event.Record) {
	return func(rec event.Record) {
		for _, s := range sinks {
			start := time.Now()
			if err := s.Enqueue(rec); err != nil {
				m.IncrementSinkErrors(s.Name(), "enqueue")
				logging.Error().Err(err).Str("sink", s.Name()).Str("event_id", rec.EventID).Msg("collector: enqueue failed")
				continue
			}
			m.AddEventsIngested(s.Name(), 1)
			m.ObserveBatchFlushLatency(s.Name(), time.Since(start))
		}
	}
}

func readiness(sinks []sink.Sink) func() error {
	return func() error {
		if len(sinks) == 0 {
			return errors.New("no sink running")
		}
		return nil
	}
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", cfg.ServerAddr).Msg("collector: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("collector: server error")
		}
	}()
	return srv
}

// healthTarget turns a listen address into something a client can dial.
func healthTarget(addr string) (host, port string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", strings.TrimPrefix(addr, ":")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port
}

func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if string(body) != "ok" {
		return fmt.Errorf("unexpected response body %q", body)
	}
	return nil
}

func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Info().Msg("collector: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx, srv, metricsServer, sinks); err != nil {
		logging.Error().Err(err).Msg("collector: shutdown incomplete")
	}
}

// shutdown stops accepting requests first so no record reaches a closed sink.
func shutdown(ctx context.Context, srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) error {
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
