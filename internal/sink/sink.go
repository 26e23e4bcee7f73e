// Package sink selects and opens the ResultSink for an output destination.
package sink

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink/file"
	"github.com/JakeFAU/listing-crawler/internal/sink/gcs"
	"github.com/JakeFAU/listing-crawler/internal/sink/postgres"
)

// Sink persists the aggregated records of a run and owns any connections
// it needed to do so.
type Sink interface {
	crawler.ResultSink
	Close() error
}

// Kind names the backend chosen for a destination.
type Kind string

const (
	KindFile     Kind = "file"
	KindGCS      Kind = "gcs"
	KindPostgres Kind = "postgres"
)

// Options carries the backend specific settings.
type Options struct {
	RunID         string
	PostgresTable string
	GCSOptions    []option.ClientOption
	Logger        *zap.Logger
}

// KindOf reports which backend handles dest.
func KindOf(dest string) Kind {
	lower := strings.ToLower(strings.TrimSpace(dest))
	switch {
	case strings.HasPrefix(lower, gcs.Scheme+"://"):
		return KindGCS
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres
	default:
		return KindFile
	}
}

// Open returns the sink for dest.
func Open(ctx context.Context, dest string, opts Options) (Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil, fmt.Errorf("output destination is required")
	}
	kind := KindOf(dest)
	logger = logger.With(zap.String("sink", string(kind)))

	switch kind {
	case KindGCS:
		return openGCS(ctx, dest, logger, opts.GCSOptions)
	case KindPostgres:
		return openPostgres(ctx, dest, opts, logger)
	default:
		return openFile(dest, logger)
	}
}

func openGCS(ctx context.Context, dest string, logger *zap.Logger, clientOpts []option.ClientOption) (Sink, error) {
	s, err := gcs.New(ctx, dest, logger, clientOpts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openPostgres(ctx context.Context, dest string, opts Options, logger *zap.Logger) (Sink, error) {
	s, err := postgres.New(ctx, postgres.Config{
		DSN:   dest,
		Table: opts.PostgresTable,
		RunID: opts.RunID,
	}, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openFile(dest string, logger *zap.Logger) (Sink, error) {
	s, err := file.New(dest, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
