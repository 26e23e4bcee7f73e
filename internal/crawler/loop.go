package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Crawler drives the fetch, extract, resolve, pace cycle over one listing.
// It is not safe for concurrent use; a run handles exactly one page at a time.
type Crawler struct {
	fetcher   PageFetcher
	extractor RecordExtractor
	resolver  PaginationResolver
	pacer     Pacer
	logger    *zap.Logger
	maxPages  int
	now       func() time.Time
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithMaxPages stops the crawl after n pages. Zero means unlimited.
func WithMaxPages(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithClock overrides the time source used for Result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) {
		if now != nil {
			c.now = now
		}
	}
}

// New wires the crawl collaborators together.
func New(
	fetcher PageFetcher,
	extractor RecordExtractor,
	resolver PaginationResolver,
	pacer Pacer,
	logger *zap.Logger,
	opts ...Option,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		resolver:  resolver,
		pacer:     pacer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls from seedURL until pagination ends. A page that never becomes
// ready ends the crawl early but still returns the records gathered so far.
// Any other failure returns an error and no result.
func (c *Crawler) Run(ctx context.Context, seedURL string) (Result, error) {
	if strings.TrimSpace(seedURL) == "" {
		return Result{}, errors.New("seed url is required")
	}
	res := Result{Records: []Record{}, StartedAt: c.now()}
	visited := newVisitTracker()
	visited.MarkIfNew(seedURL)
	current := seedURL

	for {
		res.LastURL = current
		page, err := c.fetcher.Fetch(ctx, current)
		if err != nil {
			if errors.Is(err, ErrFetchTimeout) {
				metrics.ObservePage(metrics.PageTimedOut)
				c.logger.Warn("page never became ready; ending crawl with partial results",
					zap.String("url", current),
					zap.Int("pages", res.Pages),
					zap.Int("records", len(res.Records)),
					zap.Error(err),
				)
				return c.finish(res, OutcomeTimedOut), nil
			}
			metrics.ObservePage(metrics.PageFailed)
			return Result{}, fmt.Errorf("fetch %s: %w", current, err)
		}
		metrics.ObservePage(metrics.PageFetched)
		res.Pages++

		records := c.extractor.Extract(page)
		res.Records = append(res.Records, records...)
		metrics.ObserveRecords(len(records))
		c.logger.Info("page crawled",
			zap.String("url", current),
			zap.Int("page", res.Pages),
			zap.Int("records", len(records)),
		)

		next, ok, err := c.resolver.ResolveNext(page, current)
		if err != nil {
			return Result{}, fmt.Errorf("resolve next page from %s: %w", current, err)
		}
		if !ok {
			return c.finish(res, OutcomeCompleted), nil
		}
		if c.maxPages > 0 && res.Pages >= c.maxPages {
			c.logger.Info("page limit reached", zap.Int("max_pages", c.maxPages), zap.String("next", next))
			return c.finish(res, OutcomePageLimit), nil
		}
		if !visited.MarkIfNew(next) {
			c.logger.Warn("next link points at an already crawled page; stopping",
				zap.String("url", current),
				zap.String("next", next),
			)
			return c.finish(res, OutcomeCycleDetected), nil
		}

		delay, err := c.pacer.Pause(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("pause before %s: %w", next, err)
		}
		metrics.ObservePacing(delay)
		c.logger.Debug("paced", zap.Duration("delay", delay), zap.String("next", next))
		current = next
	}
}

func (c *Crawler) finish(res Result, outcome Outcome) Result {
	res.Outcome = outcome
	res.FinishedAt = c.now()
	return res
}
