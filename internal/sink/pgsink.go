package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// PGConfig holds configuration for the Postgres sink.
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool // COPY FROM STDIN instead of a multi-row INSERT
}

// PGSink stores records as JSONB rows, batched.
type PGSink struct {
	config PGConfig
	db     *sql.DB
	*batcher
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTableName(name string) error {
	if len(name) == 0 || len(name) > 63 || !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

var pgColumns = []string{"event_id", "received_at", "event_type", "visitor_uuid", "session_uuid", "payload"}

// NewPGSinkFromEnv reads PG_DSN, PG_TABLE, PG_BATCH_SIZE, PG_FLUSH_MS and
// PG_COPY.
func NewPGSinkFromEnv() *PGSink {
	return newPGSink(PGConfig{
		DSN:       getEnvOr("PG_DSN", "postgres://localhost:5432/dacars_analytics?sslmode=disable"),
		Table:     getEnvOr("PG_TABLE", "analytics_events"),
		BatchSize: getIntEnv("PG_BATCH_SIZE", 500),
		FlushMS:   getIntEnv("PG_FLUSH_MS", 500),
		UseCopy:   getBoolEnv("PG_COPY", true),
	})
}

// NewPGSink creates a PGSink with default batching for dsn.
func NewPGSink(dsn string) *PGSink {
	return newPGSink(PGConfig{
		DSN:       dsn,
		Table:     "analytics_events",
		BatchSize: 500,
		FlushMS:   500,
		UseCopy:   true,
	})
}

func newPGSink(cfg PGConfig) *PGSink {
	s := &PGSink{config: cfg}
	s.batcher = newBatcher("postgres", cfg.BatchSize, cfg.FlushMS, s.writeBatch)
	return s
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.db = db

	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}

	s.batcher.start(ctx)
	logging.Info().Str("table", s.config.Table).Bool("copy", s.config.UseCopy).Msg("postgres sink: started")
	return nil
}

func (s *PGSink) ensureSchema(ctx context.Context) error {
	t := s.config.Table
	stmts := []struct {
		sql  string
		fail string
	}{
		{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL UNIQUE,
	received_at TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	visitor_uuid TEXT NOT NULL,
	session_uuid TEXT NOT NULL,
	payload JSONB NOT NULL
)`, t), "failed to create table"},
		{fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (received_at)", t, t), "failed to create index"},
		{fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)", t, t), "failed to create index"},
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("%s: %w", st.fail, err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(rec event.Record) error {
	return s.batcher.add(rec)
}

func (s *PGSink) Close() error {
	err := s.batcher.stop()
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.db = nil
	}
	return err
}

func (s *PGSink) writeBatch(ctx context.Context, recs []event.Record) error {
	if s.db == nil {
		return errNotStarted
	}
	if s.config.UseCopy {
		return s.flushWithCopy(ctx, recs)
	}
	return s.flushWithInsert(ctx, recs)
}

func pgRow(rec event.Record) ([]any, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record %s: %w", rec.EventID, err)
	}
	received, err := time.Parse(time.RFC3339Nano, rec.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("bad received_at %q: %w", rec.ReceivedAt, err)
	}
	return []any{rec.EventID, received, rec.Event.Type, rec.VisitorUUID, rec.SessionUUID, string(payload)}, nil
}

// flushWithInsert writes recs in one multi-row INSERT. Replayed event ids are
// skipped.
func (s *PGSink) flushWithInsert(ctx context.Context, recs []event.Record) error {
	if len(recs) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(recs)*len(pgColumns))
	)
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.config.Table, strings.Join(pgColumns, ", "))
	for i, rec := range recs {
		row, err := pgRow(rec)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// flushWithCopy streams recs through COPY inside a transaction.
func (s *PGSink) flushWithCopy(ctx context.Context, recs []event.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.config.Table, pgColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, rec := range recs {
		row, err := pgRow(rec)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
