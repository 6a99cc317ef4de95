package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// ClickHouseConfig holds configuration for the ClickHouse sink.
type ClickHouseConfig struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Table     string
	BatchSize int
	FlushMS   int
}

// chBatch is the part of a clickhouse batch the sink uses.
type chBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

type chConn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string) (chBatch, error)
	Close() error
}

type nativeConn struct {
	clickhouse.Conn
}

func (c nativeConn) PrepareBatch(ctx context.Context, query string) (chBatch, error) {
	return c.Conn.PrepareBatch(ctx, query)
}

// ClickHouseSink appends records to a MergeTree table over the native
// protocol.
type ClickHouseSink struct {
	config ClickHouseConfig
	conn   chConn
	dial   func(ClickHouseConfig) (chConn, error)
	*batcher
}

// NewClickHouseSinkFromEnv reads CLICKHOUSE_HOST, CLICKHOUSE_NATIVE_PORT,
// CLICKHOUSE_DB_NAME, CLICKHOUSE_USERNAME, CLICKHOUSE_PASSWORD,
// CLICKHOUSE_TABLE, CLICKHOUSE_BATCH_SIZE and CLICKHOUSE_FLUSH_MS.
func NewClickHouseSinkFromEnv() *ClickHouseSink {
	return NewClickHouseSink(ClickHouseConfig{
		Host:      getEnvOr("CLICKHOUSE_HOST", "localhost"),
		Port:      getIntEnv("CLICKHOUSE_NATIVE_PORT", 9000),
		Database:  getEnvOr("CLICKHOUSE_DB_NAME", "default"),
		Username:  getEnvOr("CLICKHOUSE_USERNAME", "default"),
		Password:  getEnvOr("CLICKHOUSE_PASSWORD", ""),
		Table:     getEnvOr("CLICKHOUSE_TABLE", "analytics_events"),
		BatchSize: getIntEnv("CLICKHOUSE_BATCH_SIZE", 1000),
		FlushMS:   getIntEnv("CLICKHOUSE_FLUSH_MS", 1000),
	})
}

func NewClickHouseSink(cfg ClickHouseConfig) *ClickHouseSink {
	s := &ClickHouseSink{config: cfg, dial: dialClickHouse}
	s.batcher = newBatcher("clickhouse", cfg.BatchSize, cfg.FlushMS, s.writeBatch)
	return s
}

func dialClickHouse(cfg ClickHouseConfig) (chConn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "dacars-analytics-collector", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return nativeConn{conn}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}
	conn, err := s.dial(s.config)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, s.createTableSQL()); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.conn = conn

	s.batcher.start(ctx)
	logging.Info().Str("addr", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)).Str("table", s.config.Table).Msg("clickhouse sink: started")
	return nil
}

func (s *ClickHouseSink) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id UUID,
	received_at DateTime64(3, 'UTC'),
	event_type LowCardinality(String),
	visitor_uuid String,
	session_uuid String,
	page_url String,
	country LowCardinality(String),
	payload String
) ENGINE = ReplacingMergeTree
ORDER BY (event_type, received_at, event_id)`, s.config.Table)
}

func (s *ClickHouseSink) insertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (
	event_id, received_at, event_type, visitor_uuid, session_uuid, page_url, country, payload
)`, s.config.Table)
}

func (s *ClickHouseSink) Enqueue(rec event.Record) error {
	return s.batcher.add(rec)
}

func (s *ClickHouseSink) Close() error {
	err := s.batcher.stop()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
		s.conn = nil
	}
	return err
}

func (s *ClickHouseSink) writeBatch(ctx context.Context, recs []event.Record) error {
	if s.conn == nil {
		return errNotStarted
	}
	batch, err := s.conn.PrepareBatch(ctx, s.insertSQL())
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to serialize record %s: %w", rec.EventID, err)
		}
		received, err := time.Parse(time.RFC3339Nano, rec.ReceivedAt)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("bad received_at %q: %w", rec.ReceivedAt, err)
		}
		if err := batch.Append(
			rec.EventID,
			received,
			rec.Event.Type,
			rec.VisitorUUID,
			rec.SessionUUID,
			rec.Event.PageURL,
			rec.Country,
			string(payload),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append record %s: %w", rec.EventID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}
