// Package notify announces finished crawl runs to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Summary describes one finished run.
type Summary struct {
	RunID       string          `json:"run_id"`
	SeedURL     string          `json:"seed_url"`
	Destination string          `json:"destination"`
	Pages       int             `json:"pages"`
	Records     int             `json:"records"`
	Outcome     crawler.Outcome `json:"outcome"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// NewSummary builds the summary of a crawl result written to destination.
func NewSummary(runID, seedURL, destination string, res crawler.Result) Summary {
	return Summary{
		RunID:       runID,
		SeedURL:     seedURL,
		Destination: destination,
		Pages:       res.Pages,
		Records:     len(res.Records),
		Outcome:     res.Outcome,
		StartedAt:   res.StartedAt.UTC(),
		FinishedAt:  res.FinishedAt.UTC(),
	}
}

// Notifier publishes run summaries.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) (string, error)
	Close() error
}
