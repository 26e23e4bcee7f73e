// Package app wires the crawl collaborators for one run and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/useragent"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/notify"
	notifypubsub "github.com/JakeFAU/listing-crawler/internal/notify/pubsub"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// fetcher is a PageFetcher holding a browser or connection pool.
type fetcher interface {
	crawler.PageFetcher
	Close() error
}

type idGenerator interface {
	NewID() (string, error)
}

// App holds the resources of a single crawl run. It is created by New and
// must be released with Close on every exit path.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	fetcher  fetcher
	sink     sink.Sink
	notifier notify.Notifier
	pacer    crawler.Pacer

	closeOnce sync.Once
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	ids      idGenerator
	notifier notify.Notifier
	fetcher  fetcher
	sink     sink.Sink
	pacer    crawler.Pacer
}

// WithNotifier replaces the Pub/Sub notifier built from config.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithFetcher replaces the fetcher built from config.
func WithFetcher(f fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithSink replaces the sink opened for output.destination.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithPacer replaces the random pacer built from config.
func WithPacer(p crawler.Pacer) Option {
	return func(o *options) { o.pacer = p }
}

// WithIDGenerator replaces the UUID v7 run id source.
func WithIDGenerator(g idGenerator) Option {
	return func(o *options) { o.ids = g }
}

// New validates cfg and acquires the fetcher, sink and optional notifier.
// Anything acquired before a failure is released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	a := &App{cfg: cfg, logger: logger, runID: runID, pacer: o.pacer}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.sink = o.sink
	if a.sink == nil {
		a.sink, err = sink.Open(ctx, cfg.Output.Destination, sink.Options{
			RunID:         runID,
			PostgresTable: cfg.Output.PostgresTable,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open sink: %w", err)
		}
	}

	if a.pacer == nil {
		p, pErr := crawler.NewRandomPacer(cfg.Pacing.Min, cfg.Pacing.Max)
		if pErr != nil {
			return nil, fmt.Errorf("init pacer: %w", pErr)
		}
		a.pacer = p
	}

	a.fetcher = o.fetcher
	if a.fetcher == nil {
		a.fetcher, err = newFetcher(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	a.notifier = o.notifier
	if a.notifier == nil && cfg.PubSub.Topic != "" {
		n, nErr := notifypubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, logger)
		if nErr != nil {
			return nil, fmt.Errorf("init notifier: %w", nErr)
		}
		a.notifier = n
	}

	logger.Info("crawl run initialized",
		zap.String("seed_url", cfg.Crawl.SeedURL),
		zap.String("fetch_mode", cfg.Fetch.Mode),
		zap.String("sink", string(sink.KindOf(cfg.Output.Destination))),
	)
	return a, nil
}

func newFetcher(cfg config.Config, logger *zap.Logger) (fetcher, error) {
	ua := useragent.Pick(cfg.Browser.UserAgents)
	logger.Debug("user agent selected", zap.String("user_agent", ua))

	switch cfg.Fetch.Mode {
	case config.FetchModeHTTP:
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgent:      ua,
			Proxy:          cfg.Browser.Proxy,
			ReadySelector:  cfg.Selectors.Ready,
			RequestTimeout: cfg.Fetch.NavigationTimeout,
			ReadyTimeout:   cfg.Fetch.ReadyTimeout,
			PollInterval:   cfg.Fetch.PollInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init http fetcher: %w", err)
		}
		return f, nil
	default:
		f, err := headless.NewChromedp(headless.Config{
			UserAgent:         ua,
			Proxy:             cfg.Browser.Proxy,
			ExecPath:          cfg.Browser.ExecPath,
			Headless:          cfg.Browser.Headless,
			ReadySelector:     cfg.Selectors.Ready,
			NavigationTimeout: cfg.Fetch.NavigationTimeout,
			ReadyTimeout:      cfg.Fetch.ReadyTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return f, nil
	}
}

// RunID identifies this run in logs, Postgres rows and notifications.
func (a *App) RunID() string {
	return a.runID
}

// Run crawls the configured listing and persists the records. A timed out
// page still produces output; any other crawl failure writes nothing.
func (a *App) Run(ctx context.Context) (crawler.Result, error) {
	sel := a.cfg.Selectors
	c := crawler.New(
		a.fetcher,
		crawler.NewSelectorExtractor(sel, a.logger),
		crawler.NewLinkResolver(sel.Next),
		a.pacer,
		a.logger,
		crawler.WithMaxPages(a.cfg.Crawl.MaxPages),
	)

	res, err := c.Run(ctx, a.cfg.Crawl.SeedURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("crawl interrupted; no output written", zap.Error(err))
		} else {
			a.logger.Error("crawl aborted; no output written", zap.Error(err))
		}
		a.writeMetrics()
		return crawler.Result{}, fmt.Errorf("crawl: %w", err)
	}

	if err := a.sink.Write(ctx, res.Records); err != nil {
		a.logger.Error("failed to write results", zap.Error(err))
		a.writeMetrics()
		return crawler.Result{}, fmt.Errorf("write results: %w", err)
	}

	a.logger.Info("crawl finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("pages", res.Pages),
		zap.Int("records", len(res.Records)),
		zap.Duration("duration", res.Duration()),
		zap.String("destination", a.cfg.Output.Destination),
	)

	a.notify(ctx, res)
	a.writeMetrics()
	return res, nil
}

func (a *App) notify(ctx context.Context, res crawler.Result) {
	if a.notifier == nil {
		return
	}
	summary := notify.NewSummary(a.runID, a.cfg.Crawl.SeedURL, a.cfg.Output.Destination, res)
	if _, err := a.notifier.Notify(ctx, summary); err != nil {
		a.logger.Warn("failed to publish run summary", zap.Error(err))
	}
}

func (a *App) writeMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

// Close releases the fetcher, sink and notifier exactly once. Release
// failures are logged and never change the outcome of the run.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.fetcher != nil {
			if err := a.fetcher.Close(); err != nil {
				a.logger.Warn("failed to release fetcher", zap.Error(err))
			}
		}
		if a.sink != nil {
			if err := a.sink.Close(); err != nil {
				a.logger.Warn("failed to close sink", zap.Error(err))
			}
		}
		if a.notifier != nil {
			if err := a.notifier.Close(); err != nil {
				a.logger.Warn("failed to close notifier", zap.Error(err))
			}
		}
		_ = a.logger.Sync()
	})
}
