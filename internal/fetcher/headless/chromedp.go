// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultReadyTimeout      = 15 * time.Second
)

// Config controls the browser session and the ready-wait.
type Config struct {
	UserAgent         string
	Proxy             string
	ExecPath          string
	Headless          bool
	ReadySelector     string
	NavigationTimeout time.Duration
	ReadyTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	return c
}

// Fetcher implements crawler.PageFetcher with one long-lived Chrome tab. The
// tab is shared by every fetch of a run and is never reset between pages.
type Fetcher struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewChromedp launches the browser and prepares the shared tab.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.ReadySelector) == "" {
		return nil, fmt.Errorf("ready selector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	f := &Fetcher{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}
	if err := chromedp.Run(browserCtx, f.sessionSetupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	logger.Info("browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("proxy", cfg.Proxy != ""),
	)
	return f, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func (f *Fetcher) sessionSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close shuts the browser down. It is safe to call on a nil Fetcher.
func (f *Fetcher) Close() error {
	if f == nil {
		return nil
	}
	err := chromedp.Cancel(f.browserCtx)
	f.browserCancel()
	f.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Fetch navigates the shared tab to rawURL and waits up to the ready timeout
// for the ready selector to be present in the DOM.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.PageDocument, error) {
	if err := f.navigate(ctx, rawURL); err != nil {
		return crawler.PageDocument{}, err
	}
	html, err := f.waitReady(ctx, rawURL)
	if err != nil {
		return crawler.PageDocument{}, err
	}
	return crawler.ParseDocument(rawURL, strings.NewReader(html))
}

func (f *Fetcher) navigate(ctx context.Context, rawURL string) error {
	navCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx, chromedp.Navigate(rawURL))
	return navigationError(ctx, navCtx, rawURL, f.cfg.NavigationTimeout, err)
}

// navigationError maps a page load that outlived its own deadline to
// ErrFetchTimeout, like a ready-wait timeout. Caller cancellation and
// browser failures stay fatal.
func navigationError(parent, nav context.Context, rawURL string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if isWaitTimeout(parent, nav) {
		return fmt.Errorf("load %s after %s: %w", rawURL, timeout, crawler.ErrFetchTimeout)
	}
	return fmt.Errorf("navigate %s: %w", rawURL, err)
}

func (f *Fetcher) waitReady(ctx context.Context, rawURL string) (string, error) {
	readyCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.ReadyTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(readyCtx,
		chromedp.WaitReady(f.cfg.ReadySelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if isWaitTimeout(ctx, readyCtx) {
			return "", fmt.Errorf("wait for %q on %s after %s: %w",
				f.cfg.ReadySelector, rawURL, f.cfg.ReadyTimeout, crawler.ErrFetchTimeout)
		}
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

// isWaitTimeout reports whether a navigation or ready wait ended because its
// own deadline passed rather than because the caller gave up.
func isWaitTimeout(parent, wait context.Context) bool {
	if parent != nil && parent.Err() != nil {
		return false
	}
	return errors.Is(wait.Err(), context.DeadlineExceeded)
}

// forwardCancel cancels the task when parent is done. The returned func stops
// the forwarding goroutine.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
