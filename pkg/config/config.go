package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventsPath is appended to the resolved analytics base URL.
const EventsPath = "/api/analytics/events"

// DefaultBaseURL is used when no endpoint env var is set.
const DefaultBaseURL = "https://backend.dacars.ro"

// Client configures the browser/native analytics client.
type Client struct {
	Endpoint      string        // full ingestion URL
	MaxBatchSize  int           // events per network call
	MinBatchSize  int           // queue length that triggers an immediate flush
	FlushInterval time.Duration // delay of the scheduled flush
	Breaker       bool          // wrap the requester in a circuit breaker
}

// Config configures the development collector.
type Config struct {
	ServerAddr         string
	MaxBodyBytes       int64         // bytes for a batch payload
	Outputs            []string      // enabled sinks: log, kafka, postgres, clickhouse
	SessionIdleTimeout time.Duration // idle time before the collector rotates a session
	TrustProxy         bool          // take the client IP from X-Forwarded-For / X-Real-IP
	AllowedOrigins     []string      // CORS origins; "*" allows any
	MetricsEnabled     bool
	MetricsAddr        string
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getPositiveInt(k string, def int) int {
	n := getInt64(k, int64(def))
	if n <= 0 {
		return def
	}
	return int(n)
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// bare integers are milliseconds
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

var apiSuffix = regexp.MustCompile(`/(api|api/v\d+)$`)

// ResolveBaseURL applies the endpoint fallback chain:
// NEXT_PUBLIC_ANALYTICS_BASE_URL, NEXT_PUBLIC_BACKEND_URL, then
// NEXT_PUBLIC_API_URL with its /api or /api/vN suffix stripped.
func ResolveBaseURL() string {
	if explicit := strings.TrimSpace(os.Getenv("NEXT_PUBLIC_ANALYTICS_BASE_URL")); explicit != "" {
		return strings.TrimSuffix(explicit, "/")
	}
	if backend := strings.TrimSpace(os.Getenv("NEXT_PUBLIC_BACKEND_URL")); backend != "" {
		return strings.TrimSuffix(backend, "/")
	}
	if apiURL := strings.TrimSpace(os.Getenv("NEXT_PUBLIC_API_URL")); apiURL != "" {
		return apiSuffix.ReplaceAllString(strings.TrimSuffix(apiURL, "/"), "")
	}
	return DefaultBaseURL
}

// LoadClient reads the client configuration from the environment.
func LoadClient() Client {
	return Client{
		Endpoint:      ResolveBaseURL() + EventsPath,
		MaxBatchSize:  getPositiveInt("ANALYTICS_MAX_BATCH_SIZE", 50),
		MinBatchSize:  getPositiveInt("ANALYTICS_MIN_BATCH", 10),
		FlushInterval: getDuration("ANALYTICS_FLUSH_INTERVAL", 7*time.Second),
		Breaker:       getBool("ANALYTICS_BREAKER", false),
	}
}

// Load reads the collector configuration from the environment.
func Load() Config {
	return Config{
		ServerAddr:         getOr("SERVER_ADDR", ":19890"),
		MaxBodyBytes:       getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		Outputs:            getStringSlice("OUTPUTS", "log"),
		SessionIdleTimeout: getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		TrustProxy:         getBool("TRUST_PROXY", false),
		AllowedOrigins:     getStringSlice("ALLOWED_ORIGINS", "*"),
		MetricsEnabled:     getBool("METRICS_ENABLED", false),
		MetricsAddr:        getOr("METRICS_ADDR", "127.0.0.1:9090"),
	}
}
