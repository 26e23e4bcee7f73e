// Package postgres writes crawl results to a Postgres table.
//
// The target table is expected to look like:
//
//	CREATE TABLE listing_records (
//		run_id   TEXT    NOT NULL,
//		position INTEGER NOT NULL,
//		text     TEXT    NOT NULL,
//		author   TEXT    NOT NULL,
//		tags     TEXT[]  NOT NULL,
//		PRIMARY KEY (run_id, position)
//	);
package postgres

import (
	"context"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// DefaultTable receives records when no table is configured.
const DefaultTable = "listing_records"

// rowsPerStatement keeps each INSERT well below the 65535 bind parameter cap.
const rowsPerStatement = 500

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var columns = []string{"run_id", "position", "text", "author", "tags"}

type beginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Config controls where rows are written.
type Config struct {
	DSN   string
	Table string
	RunID string
}

// Sink inserts all records of a run in one transaction.
type Sink struct {
	pool   beginCloser
	table  string
	runID  string
	logger *zap.Logger
}

// New connects a pgx pool for the DSN.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.Table, cfg.RunID, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool beginCloser, table, runID string, logger *zap.Logger) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: pool, table: table, runID: runID, logger: logger}, nil
}

// Write inserts the records in page-then-position order. Either every row
// of the run is committed or none is.
func (s *Sink) Write(ctx context.Context, records []crawler.Record) (err error) {
	if len(records) == 0 {
		s.logger.Info("no records to insert", zap.String("table", s.table))
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	for start := 0; start < len(records); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(records))
		query, args, buildErr := s.insertStatement(records[start:end], start)
		if buildErr != nil {
			return fmt.Errorf("build insert: %w", buildErr)
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert records %d-%d: %w", start, end-1, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	s.logger.Info("records inserted",
		zap.String("table", s.table),
		zap.String("run_id", s.runID),
		zap.Int("records", len(records)),
	)
	return nil
}

func (s *Sink) insertStatement(batch []crawler.Record, offset int) (string, []any, error) {
	builder := sq.Insert(s.table).Columns(columns...).PlaceholderFormat(sq.Dollar)
	for i, rec := range batch {
		tags := rec.Labels
		if tags == nil {
			tags = []string{}
		}
		builder = builder.Values(s.runID, offset+i, rec.Text, rec.Source, tags)
	}
	return builder.ToSql()
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
