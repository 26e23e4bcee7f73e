package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/useragent"
	"github.com/JakeFAU/listing-crawler/internal/notify/memory"
)

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type listingSite struct {
	pages map[string]string
}

func (s listingSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/broken/" {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	body, ok := s.pages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, body)
}

func page(next string, quotes ...[2]string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, q := range quotes {
		fmt.Fprintf(&b, `<div class="quote"><span class="text">%s</span><small class="author">%s</small>`+
			`<div class="tags"><a class="tag" href="/tag/t/">t</a></div></div>`, q[0], q[1])
	}
	if next != "" {
		fmt.Fprintf(&b, `<ul class="pager"><li class="next"><a href="%s">Next</a></li></ul>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func threePageSite() listingSite {
	return listingSite{pages: map[string]string{
		"/":        page("/page/2/", [2]string{"q1", "A"}, [2]string{"q2", "B"}),
		"/page/2/": page("/page/3/", [2]string{"q3", "C"}, [2]string{"q4", "D"}),
		"/page/3/": page("", [2]string{"q5", "E"}, [2]string{"q6", "F"}),
	}}
}

func testConfig(seed, dest string) config.Config {
	return config.Config{
		Crawl:  config.CrawlConfig{SeedURL: seed},
		Output: config.OutputConfig{Destination: dest},
		Fetch: config.FetchConfig{
			Mode:              config.FetchModeHTTP,
			NavigationTimeout: 5 * time.Second,
			ReadyTimeout:      300 * time.Millisecond,
			PollInterval:      50 * time.Millisecond,
		},
		Browser:   config.BrowserConfig{UserAgents: useragent.Defaults()},
		Selectors: crawler.DefaultSelectors(),
	}
}

func runOnce(t *testing.T, cfg config.Config, logger *zap.Logger, opts ...Option) (crawler.Result, error) {
	t.Helper()
	opts = append([]Option{WithIDGenerator(fixedIDs("run-test"))}, opts...)
	a, err := New(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	defer a.Close()
	return a.Run(context.Background())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunWritesEveryPage(t *testing.T) {
	srv := httptest.NewServer(threePageSite())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "quotes.jsonl")
	notifier := memory.New()
	res, err := runOnce(t, testConfig(srv.URL+"/", dest), nil, WithNotifier(notifier))
	require.NoError(t, err)

	assert.Equal(t, crawler.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Pages)
	lines := readLines(t, dest)
	require.Len(t, lines, 6)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf(`{"text":"q%d","author":"%c","tags":["t"]}`, i+1, 'A'+i), line)
	}

	summaries := notifier.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "run-test", summaries[0].RunID)
	assert.Equal(t, 6, summaries[0].Records)
	assert.Equal(t, crawler.OutcomeCompleted, summaries[0].Outcome)
	assert.Equal(t, dest, summaries[0].Destination)
}

func TestRunKeepsRecordsBeforeTimeout(t *testing.T) {
	site := threePageSite()
	site.pages["/page/2/"] = "<html><body>still loading</body></html>"
	srv := httptest.NewServer(site)
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	dest := filepath.Join(t.TempDir(), "quotes.jsonl")
	res, err := runOnce(t, testConfig(srv.URL+"/", dest), zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, crawler.OutcomeTimedOut, res.Outcome)
	assert.Equal(t, []string{
		`{"text":"q1","author":"A","tags":["t"]}`,
		`{"text":"q2","author":"B","tags":["t"]}`,
	}, readLines(t, dest))
	assert.Equal(t, 1, logs.FilterMessageSnippet("never became ready").Len())
}

func TestRunIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(threePageSite())
	defer srv.Close()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.jsonl")
	second := filepath.Join(dir, "second.jsonl")

	_, err := runOnce(t, testConfig(srv.URL+"/", first), nil)
	require.NoError(t, err)
	_, err = runOnce(t, testConfig(srv.URL+"/", second), nil)
	require.NoError(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	a, err := os.ReadFile(first)
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunFatalErrorWritesNothing(t *testing.T) {
	site := threePageSite()
	site.pages["/"] = page("/broken/", [2]string{"q1", "A"})
	srv := httptest.NewServer(site)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "quotes.jsonl")
	notifier := memory.New()
	_, err := runOnce(t, testConfig(srv.URL+"/", dest), nil, WithNotifier(notifier))
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawler.ErrFetchTimeout)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, notifier.Summaries())
}

func TestRunNotifyFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(threePageSite())
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	notifier := memory.New()
	notifier.FailWith(errors.New("topic not found"))
	dest := filepath.Join(t.TempDir(), "quotes.jsonl")

	_, err := runOnce(t, testConfig(srv.URL+"/", dest), zap.New(core), WithNotifier(notifier))
	require.NoError(t, err)
	assert.Len(t, readLines(t, dest), 6)
	assert.Equal(t, 1, logs.FilterMessage("failed to publish run summary").Len())
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	srv := httptest.NewServer(threePageSite())
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(srv.URL+"/", filepath.Join(dir, "quotes.jsonl"))
	cfg.Metrics.Textfile = filepath.Join(dir, "crawler.prom")

	_, err := runOnce(t, cfg, nil)
	require.NoError(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "listing_crawler_pages_total")
}

type countingFetcher struct {
	closes   int
	closeErr error
}

func (f *countingFetcher) Fetch(context.Context, string) (crawler.PageDocument, error) {
	return crawler.PageDocument{}, crawler.ErrFetchTimeout
}

func (f *countingFetcher) Close() error {
	f.closes++
	return f.closeErr
}

func TestCloseReleasesFetcherOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := &countingFetcher{closeErr: errors.New("chrome already exited")}
	cfg := testConfig("https://quotes.example/", filepath.Join(t.TempDir(), "quotes.jsonl"))

	a, err := New(context.Background(), cfg, zap.New(core), WithFetcher(f))
	require.NoError(t, err)

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeTimedOut, res.Outcome)

	a.Close()
	a.Close()
	assert.Equal(t, 1, f.closes)
	assert.Equal(t, 1, logs.FilterMessage("failed to release fetcher").Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("", filepath.Join(t.TempDir(), "quotes.jsonl"))
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.seed_url")
}

func TestNewGeneratesRunID(t *testing.T) {
	f := &countingFetcher{}
	cfg := testConfig("https://quotes.example/", filepath.Join(t.TempDir(), "quotes.jsonl"))

	a, err := New(context.Background(), cfg, nil, WithFetcher(f))
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.RunID(), 36)
}
