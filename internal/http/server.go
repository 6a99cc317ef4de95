package httpx

import (
	"net/http"

	"github.com/Arsene94/dacarsfe-sub002/pkg/config"
)

// EventsPath is the ingestion route the analytics client posts to.
const EventsPath = config.EventsPath

// NewMux routes the collector endpoints and wraps them in logging, metrics
// and CORS middleware.
func NewMux(e Env) http.Handler {
	if e.Sessions == nil {
		e.Sessions = NewSessionManager(e.Cfg.SessionIdleTimeout, e.Clock, e.Metrics)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc(EventsPath, e.Events)

	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(e.Cfg.AllowedOrigins)(mux)))
}
