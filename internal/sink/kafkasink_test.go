package sink

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
)

func TestNewKafkaSinkFromEnv(t *testing.T) {
	keys := []string{
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_ACKS", "KAFKA_COMPRESSION",
		"KAFKA_SASL_MECHANISM", "KAFKA_SASL_USER", "KAFKA_SASL_PASSWORD",
		"KAFKA_TLS_CA", "KAFKA_TLS_SKIP_VERIFY",
	}
	clearKafkaEnv := func(t *testing.T) {
		vars := map[string]string{}
		for _, k := range keys {
			vars[k] = ""
		}
		withEnvVars(t, vars)
	}

	t.Run("uses defaults when env not set", func(t *testing.T) {
		clearKafkaEnv(t)
		cfg := NewKafkaSinkFromEnv().config
		if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "localhost:9092" {
			t.Errorf("Brokers = %v, want [localhost:9092]", cfg.Brokers)
		}
		if cfg.Topic != "dacars.analytics.events" {
			t.Errorf("Topic = %q", cfg.Topic)
		}
		if cfg.Acks != "all" {
			t.Errorf("Acks = %q, want all", cfg.Acks)
		}
		if cfg.TLSSkipVerify {
			t.Error("TLSSkipVerify should default to false")
		}
	})

	t.Run("uses env variables when set", func(t *testing.T) {
		clearKafkaEnv(t)
		withEnvVars(t, map[string]string{
			"KAFKA_BROKERS":         " broker1:9092, broker2:9092 ,broker3:9092",
			"KAFKA_TOPIC":           "custom.topic",
			"KAFKA_ACKS":            "1",
			"KAFKA_COMPRESSION":     "gzip",
			"KAFKA_SASL_MECHANISM":  "PLAIN",
			"KAFKA_SASL_USER":       "test-user",
			"KAFKA_SASL_PASSWORD":   "test-pass",
			"KAFKA_TLS_CA":          "/path/to/ca.pem",
			"KAFKA_TLS_SKIP_VERIFY": "true",
		})
		cfg := NewKafkaSinkFromEnv().config
		want := []string{"broker1:9092", "broker2:9092", "broker3:9092"}
		if len(cfg.Brokers) != len(want) {
			t.Fatalf("Brokers = %v, want %v", cfg.Brokers, want)
		}
		for i := range want {
			if cfg.Brokers[i] != want[i] {
				t.Errorf("Broker[%d] = %q, want %q", i, cfg.Brokers[i], want[i])
			}
		}
		if cfg.Topic != "custom.topic" || cfg.Acks != "1" || cfg.Compression != "gzip" {
			t.Errorf("config = %+v", cfg)
		}
		if cfg.SASLMechanism != "PLAIN" || cfg.SASLUser != "test-user" || cfg.SASLPassword != "test-pass" {
			t.Errorf("SASL config = %+v", cfg)
		}
		if cfg.TLSCAPath != "/path/to/ca.pem" || !cfg.TLSSkipVerify {
			t.Errorf("TLS config = %+v", cfg)
		}
	})
}

func TestKafkaSinkName(t *testing.T) {
	if got := NewKafkaSink([]string{"localhost:9092"}, "t").Name(); got != "kafka" {
		t.Errorf("Name() = %q, want kafka", got)
	}
}

func TestKafkaSinkWithoutProducer(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "t")
	if err := s.Enqueue(testRecord("e1", event.TypePageView)); err == nil {
		t.Error("Enqueue should fail when producer is not initialized")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() without producer should not error: %v", err)
	}
}

func TestKafkaConfigMap(t *testing.T) {
	tests := []struct {
		name   string
		config KafkaConfig
		want   map[string]any
		absent []string
	}{
		{
			name:   "plaintext",
			config: KafkaConfig{Brokers: []string{"a:9092", "b:9092"}, Acks: "all"},
			want:   map[string]any{"bootstrap.servers": "a:9092,b:9092", "acks": "all"},
			absent: []string{"security.protocol", "compression.type", "ssl.ca.location"},
		},
		{
			name:   "sasl",
			config: KafkaConfig{Brokers: []string{"a:9092"}, Acks: "1", SASLMechanism: "SCRAM-SHA-512", SASLUser: "u", SASLPassword: "p"},
			want: map[string]any{
				"security.protocol": "SASL_SSL",
				"sasl.mechanism":    "SCRAM-SHA-512",
				"sasl.username":     "u",
				"sasl.password":     "p",
			},
		},
		{
			name:   "tls only",
			config: KafkaConfig{Brokers: []string{"a:9093"}, Acks: "all", TLSCAPath: "/ca.pem", TLSSkipVerify: true},
			want: map[string]any{
				"security.protocol":                     "SSL",
				"ssl.ca.location":                       "/ca.pem",
				"ssl.endpoint.identification.algorithm": "none",
			},
		},
		{
			name:   "sasl with tls keeps SASL_SSL",
			config: KafkaConfig{Brokers: []string{"a:9093"}, Acks: "all", SASLMechanism: "PLAIN", TLSCAPath: "/ca.pem", Compression: "zstd"},
			want: map[string]any{
				"security.protocol": "SASL_SSL",
				"ssl.ca.location":   "/ca.pem",
				"compression.type":  "zstd",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := (&KafkaSink{config: tt.config}).configMap()
			for k, want := range tt.want {
				if got := cm[k]; got != want {
					t.Errorf("%s = %v, want %v", k, got, want)
				}
			}
			for _, k := range tt.absent {
				if _, ok := cm[k]; ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestKafkaMessage(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "analytics")
	rec := testRecord("3f1c1d3e-2c5e-4f59-9a0c-6f9b8f1f2a10", event.TypeScroll)

	msg, err := s.message(rec)
	if err != nil {
		t.Fatalf("message() error: %v", err)
	}
	if string(msg.Key) != rec.EventID {
		t.Errorf("Key = %q, want event id", msg.Key)
	}
	if *msg.TopicPartition.Topic != "analytics" {
		t.Errorf("Topic = %q", *msg.TopicPartition.Topic)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != event.TypeScroll || headers["schema"] != recordSchema {
		t.Errorf("headers = %v", headers)
	}

	var got event.Record
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("value is not a record: %v", err)
	}
	if got.EventID != rec.EventID || got.Event.PageURL != rec.Event.PageURL {
		t.Errorf("value = %+v", got)
	}
}
