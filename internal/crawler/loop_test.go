package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const base = "https://quotes.example"

func threePages() map[string]string {
	return map[string]string{
		base + "/":        quotePage("/page/2/", quote("p1q1", "A", "x"), quote("p1q2", "B")),
		base + "/page/2/": quotePage("/page/3/", quote("p2q1", "C"), quote("p2q2", "D", "y", "z")),
		base + "/page/3/": quotePage("", quote("p3q1", "E"), quote("p3q2", "F")),
	}
}

func newTestCrawler(f PageFetcher, p Pacer, logger *zap.Logger, opts ...Option) *Crawler {
	sel := DefaultSelectors()
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return New(f, NewSelectorExtractor(sel, logger), NewLinkResolver(sel.Next), p, logger, opts...)
}

func texts(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Text)
	}
	return out
}

func TestRunFollowsPaginationToTheEnd(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: threePages()}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(3*time.Second, nil).Twice()

	res, err := newTestCrawler(fetcher, pacer, nil).Run(context.Background(), base+"/")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []string{"p1q1", "p1q2", "p2q1", "p2q2", "p3q1", "p3q2"}, texts(res.Records))
	assert.Equal(t, []string{base + "/", base + "/page/2/", base + "/page/3/"}, fetcher.fetched)
	assert.Equal(t, base+"/page/3/", res.LastURL)
	assert.Equal(t, []string{"y", "z"}, res.Records[3].Labels)
	pacer.AssertExpectations(t)
	pacer.AssertNumberOfCalls(t, "Pause", 2)
}

func TestRunSinglePageDoesNotPace(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[string]string{base + "/": quotePage("", quote("only", "A"))}}
	pacer := &mockPacer{}

	res, err := newTestCrawler(fetcher, pacer, nil).Run(context.Background(), base+"/")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Len(t, res.Records, 1)
	pacer.AssertNotCalled(t, "Pause", mock.Anything)
}

func TestRunTimeoutKeepsPartialResults(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	fetcher := &mapFetcher{
		pages: threePages(),
		errs:  map[string]error{base + "/page/2/": fmt.Errorf("wait for .quote: %w", ErrFetchTimeout)},
	}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(time.Second, nil).Once()

	res, err := newTestCrawler(fetcher, pacer, zap.New(core)).Run(context.Background(), base+"/")
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, []string{"p1q1", "p1q2"}, texts(res.Records))
	assert.Equal(t, base+"/page/2/", res.LastURL)
	assert.Equal(t, 1, logs.FilterMessageSnippet("never became ready").Len())
	pacer.AssertExpectations(t)
}

func TestRunTimeoutOnSeedYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{errs: map[string]error{base + "/": ErrFetchTimeout}}

	res, err := newTestCrawler(fetcher, &mockPacer{}, nil).Run(context.Background(), base+"/")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
}

func TestRunFatalFetchAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("net::ERR_CONNECTION_REFUSED")
	fetcher := &mapFetcher{pages: threePages(), errs: map[string]error{base + "/page/2/": boom}}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(time.Second, nil)

	res, err := newTestCrawler(fetcher, pacer, nil).Run(context.Background(), base+"/")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrFetchTimeout)
	assert.Empty(t, res.Records)
}

func TestRunInvalidNextLinkAborts(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[string]string{
		base + "/": `<div class="quote"><span class="text">t</span><small class="author">a</small></div>
			<li class="next"><a>Next</a></li>`,
	}}

	_, err := newTestCrawler(fetcher, &mockPacer{}, nil).Run(context.Background(), base+"/")
	require.ErrorIs(t, err, ErrInvalidNextLink)
}

func TestRunPacingCancellationAborts(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: threePages()}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(time.Duration(0), fmt.Errorf("pacing interrupted: %w", context.Canceled))

	_, err := newTestCrawler(fetcher, pacer, nil).Run(context.Background(), base+"/")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{base + "/"}, fetcher.fetched)
}

func TestRunDetectsCycles(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[string]string{
		base + "/":        quotePage("/page/2/", quote("a", "A")),
		base + "/page/2/": quotePage("/#top", quote("b", "B")),
	}}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(time.Second, nil).Once()

	res, err := newTestCrawler(fetcher, pacer, nil).Run(context.Background(), base+"/")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCycleDetected, res.Outcome)
	assert.Equal(t, []string{"a", "b"}, texts(res.Records))
	pacer.AssertExpectations(t)
}

func TestRunStopsAtPageLimit(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: threePages()}
	pacer := &mockPacer{}
	pacer.On("Pause", mock.Anything).Return(time.Second, nil).Once()

	res, err := newTestCrawler(fetcher, pacer, nil, WithMaxPages(2)).Run(context.Background(), base+"/")
	require.NoError(t, err)
	assert.Equal(t, OutcomePageLimit, res.Outcome)
	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.Records, 4)
	pacer.AssertExpectations(t)
}

func TestRunRequiresSeed(t *testing.T) {
	t.Parallel()

	_, err := newTestCrawler(&mapFetcher{}, &mockPacer{}, nil).Run(context.Background(), "  ")
	assert.Error(t, err)
}

func TestResultDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	res := Result{StartedAt: start, FinishedAt: start.Add(42 * time.Second)}
	assert.Equal(t, 42*time.Second, res.Duration())
}
