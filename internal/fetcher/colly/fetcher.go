// Package collyfetcher implements crawler.PageFetcher using gocolly for sites
// that render their listing server-side.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReadyTimeout   = 15 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// Config controls collector behavior and the ready poll.
type Config struct {
	UserAgent      string
	Proxy          string
	ReadySelector  string
	RequestTimeout time.Duration
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Fetcher re-requests a page until the ready selector is present or the
// ready timeout passes. Transport failures and HTTP error statuses are fatal.
type Fetcher struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
	logger        *zap.Logger
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.ReadySelector) == "" {
		return nil, fmt.Errorf("ready selector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	transport, err := newHTTPTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.Async(false), colly.IgnoreRobotsTxt())
	c.AllowURLRevisit = true
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
		now:           time.Now,
		sleep:         sleepContext,
	}, nil
}

// Close releases idle connections. The collector holds no other resources.
func (f *Fetcher) Close() error {
	if f != nil && f.transport != nil {
		f.transport.CloseIdleConnections()
	}
	return nil
}

// Fetch polls rawURL until the ready selector matches.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.PageDocument, error) {
	deadline := f.now().Add(f.cfg.ReadyTimeout)
	for attempt := 1; ; attempt++ {
		body, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			return crawler.PageDocument{}, err
		}
		page, err := crawler.ParseDocument(rawURL, bytes.NewReader(body))
		if err != nil {
			return crawler.PageDocument{}, err
		}
		if page.Doc.Find(f.cfg.ReadySelector).Length() > 0 {
			return page, nil
		}

		remaining := deadline.Sub(f.now())
		if remaining <= 0 {
			return crawler.PageDocument{}, fmt.Errorf("wait for %q on %s after %d attempts: %w",
				f.cfg.ReadySelector, rawURL, attempt, crawler.ErrFetchTimeout)
		}
		f.logger.Debug("ready selector missing; polling again",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("remaining", remaining),
		)
		if err := f.sleep(ctx, min(f.cfg.PollInterval, remaining)); err != nil {
			return crawler.PageDocument{}, fmt.Errorf("poll %s: %w", rawURL, err)
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true

	var (
		body     []byte
		fetchErr error
	)
	f.configureCollectorHooks(collector, &body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		return body, nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		*fetchErr = err
	})
}

func newHTTPTransport(proxy string) (*http.Transport, error) {
	proxyFunc := http.ProxyFromEnvironment
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		proxyFunc = http.ProxyURL(proxyURL)
	}
	return &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
