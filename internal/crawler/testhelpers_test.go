package crawler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// quotePage renders a listing page in the quotes.toscrape.com layout.
func quotePage(next string, quotes ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="container">`)
	b.WriteString(strings.Join(quotes, ""))
	b.WriteString(`<nav><ul class="pager">`)
	if next != "" {
		fmt.Fprintf(&b, `<li class="next"><a href="%s">Next <span>→</span></a></li>`, next)
	}
	b.WriteString(`</ul></nav></div></body></html>`)
	return b.String()
}

func quote(text, author string, tags ...string) string {
	var b strings.Builder
	b.WriteString(`<div class="quote">`)
	if text != "" {
		fmt.Fprintf(&b, `<span class="text">%s</span>`, text)
	}
	if author != "" {
		fmt.Fprintf(&b, `<span>by <small class="author">%s</small></span>`, author)
	}
	b.WriteString(`<div class="tags">Tags:`)
	for _, tag := range tags {
		fmt.Fprintf(&b, `<a class="tag" href="/tag/%s/">%s</a>`, tag, tag)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

func mustParse(t *testing.T, rawURL, html string) PageDocument {
	t.Helper()
	page, err := ParseDocument(rawURL, strings.NewReader(html))
	require.NoError(t, err)
	return page
}

// mapFetcher serves canned pages keyed by URL.
type mapFetcher struct {
	pages   map[string]string
	errs    map[string]error
	fetched []string
}

func (f *mapFetcher) Fetch(_ context.Context, rawURL string) (PageDocument, error) {
	f.fetched = append(f.fetched, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return PageDocument{}, err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return PageDocument{}, fmt.Errorf("unexpected url %s", rawURL)
	}
	return ParseDocument(rawURL, strings.NewReader(html))
}

// mockPacer records pauses without sleeping.
type mockPacer struct {
	mock.Mock
}

func (m *mockPacer) Pause(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}
