package crawler

import (
	"context"
	"time"
)

// PageFetcher loads a URL and returns its parsed document once the ready
// marker is present. Implementations return an error wrapping ErrFetchTimeout
// when the marker never shows up; every other error is fatal to the crawl.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (PageDocument, error)
}

// RecordExtractor pulls records out of a parsed page in document order.
type RecordExtractor interface {
	Extract(page PageDocument) []Record
}

// PaginationResolver finds the absolute URL of the next page. The bool is
// false when the page has no next control.
type PaginationResolver interface {
	ResolveNext(page PageDocument, currentURL string) (string, bool, error)
}

// Pacer blocks between page transitions and reports the delay it used.
type Pacer interface {
	Pause(ctx context.Context) (time.Duration, error)
}

// ResultSink persists the aggregated records of a finished crawl.
type ResultSink interface {
	Write(ctx context.Context, records []Record) error
}
