package crawler

import (
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Record is one extracted listing entry. The JSON keys match the NDJSON
// output format consumed downstream.
type Record struct {
	Text   string   `json:"text"`
	Source string   `json:"author"`
	Labels []string `json:"tags"`
}

// PageDocument is the parsed tree of a single fetched page. It is produced by a
// PageFetcher and consumed by the extractor and resolver within one iteration.
type PageDocument struct {
	URL string
	Doc *goquery.Document
}

// ParseDocument parses rendered HTML into a PageDocument.
func ParseDocument(rawURL string, r io.Reader) (PageDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return PageDocument{}, fmt.Errorf("parse document %s: %w", rawURL, err)
	}
	return PageDocument{URL: rawURL, Doc: doc}, nil
}

// Outcome describes why a crawl stopped without a fatal error.
type Outcome string

// Outcome values reported in Result.
const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeCycleDetected Outcome = "cycle_detected"
	OutcomePageLimit     Outcome = "page_limit"
)

// Result is the aggregate of one crawl run.
type Result struct {
	Records    []Record
	Pages      int
	Outcome    Outcome
	LastURL    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration reports how long the run took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
