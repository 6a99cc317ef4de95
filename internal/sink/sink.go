// Package sink holds the outputs of the dev collector. Every accepted event
// is fanned out to each configured sink.
package sink

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(rec event.Record) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// New builds the sink registered under name from its environment
// configuration. The sink still has to be started.
func New(name string) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "log":
		return NewLogSink(), nil
	case "kafka":
		return NewKafkaSinkFromEnv(), nil
	case "postgres", "pg":
		return NewPGSinkFromEnv(), nil
	case "clickhouse", "ch":
		return NewClickHouseSinkFromEnv(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
