// Package gcs writes crawl results to a Google Cloud Storage object.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink/ndjson"
)

// Scheme is the URI scheme handled by this sink.
const Scheme = "gs"

type writerFunc func(ctx context.Context, bucket, object string) io.WriteCloser

// Sink uploads the NDJSON encoding of the records to gs://bucket/object.
type Sink struct {
	client    *storage.Client
	ownClient bool
	bucket    string
	object    string
	newWriter writerFunc
	logger    *zap.Logger
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(raw string) (bucket, object string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse gcs uri: %w", err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("gcs uri %q must use the gs:// scheme", raw)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs uri %q is missing a bucket", raw)
	}
	if object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("gcs uri %q is missing an object name", raw)
	}
	return bucket, object, nil
}

// New creates a storage client and a sink for the destination URI. The sink
// owns the client and closes it in Close.
func New(ctx context.Context, dest string, logger *zap.Logger, opts ...option.ClientOption) (*Sink, error) {
	bucket, object, err := ParseURI(dest)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s, err := NewWithClient(client, bucket, object, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownClient = true
	return s, nil
}

// NewWithClient builds a sink around an existing client. The caller keeps
// ownership of the client.
func NewWithClient(client *storage.Client, bucket, object string, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		client: client,
		bucket: bucket,
		object: object,
		logger: logger,
	}
	s.newWriter = s.objectWriter
	return s, nil
}

func (s *Sink) objectWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = ndjson.ContentType
	return w
}

// Write uploads the records as a single object. GCS only commits the object
// when the writer closes cleanly, so a failed upload leaves any previous
// object in place.
func (s *Sink) Write(ctx context.Context, records []crawler.Record) error {
	data, err := ndjson.Marshal(records)
	if err != nil {
		return err
	}
	writer := s.newWriter(ctx, s.bucket, s.object)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	s.logger.Info("records uploaded",
		zap.String("uri", s.URI()),
		zap.Int("records", len(records)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// URI returns the gs:// location the sink writes to.
func (s *Sink) URI() string {
	return fmt.Sprintf("%s://%s/%s", Scheme, s.bucket, s.object)
}

// Close releases the storage client when the sink created it.
func (s *Sink) Close() error {
	if !s.ownClient || s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
