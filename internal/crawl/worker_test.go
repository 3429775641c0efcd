package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	retryable := Retryable("rate limited", nil)
	terminal := Terminal("invalid deeplink", nil)

	assert.True(t, policy.ShouldRetry(retryable, 1))
	assert.True(t, policy.ShouldRetry(retryable, 2))
	assert.False(t, policy.ShouldRetry(retryable, 3), "budget exhausted")
	assert.False(t, policy.ShouldRetry(terminal, 1), "terminal errors never retry")
	assert.False(t, policy.ShouldRetry(nil, 1))
	// Unclassified errors are treated as retryable
	assert.True(t, policy.ShouldRetry(errors.New("connection reset"), 1))
}

// failNFetcher fails the first n attempts at page 0, then succeeds
type failNFetcher struct {
	failures int
	attempts int
	err      error
}

func (f *failNFetcher) Fetch(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error) {
	if pageIndex == 0 {
		f.attempts++
		if f.attempts <= f.failures {
			return nil, f.err
		}
	}
	return dataPage(false), nil
}

func newWorker(fetcher PageFetcher, sink *fakeSink, policy RetryPolicy) *NodeWorker {
	logger := common.GetLogger()
	paginator := NewPaginator(fetcher, sink, 20, logger)
	return NewNodeWorker(paginator, sink, policy, logger)
}

func TestNodeWorker_SucceedsFirstAttempt(t *testing.T) {
	sink := newFakeSink()
	w := newWorker(&failNFetcher{}, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Dairy"})

	assert.Equal(t, models.StatusComplete, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, sink.resets)
}

func TestNodeWorker_RetriesThenSucceeds(t *testing.T) {
	fetcher := &failNFetcher{failures: 2, err: Retryable("rate limited", nil)}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Snacks"})

	assert.Equal(t, models.StatusComplete, result.Status)
	assert.Equal(t, 3, result.Attempts)
	// Each retry wipes the failed attempt's partial artifacts first
	assert.Equal(t, []string{"Snacks", "Snacks"}, sink.resets)
}

// midPageFailFetcher fails at a given page index on the first attempt only
type midPageFailFetcher struct {
	failPage int
	attempt  int
}

func (f *midPageFailFetcher) Fetch(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error) {
	if pageIndex == 0 {
		f.attempt++
	}
	if f.attempt == 1 && pageIndex == f.failPage {
		return nil, Retryable("rate limited", nil)
	}
	return dataPage(pageIndex < 2), nil
}

func TestNodeWorker_RetryDiscardsPartialPages(t *testing.T) {
	// Attempt 1 persists pages 0-1 then fails at page 2; the retry must wipe
	// them and produce a clean contiguous sequence from page 0
	fetcher := &midPageFailFetcher{failPage: 2}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Dairy"})

	assert.Equal(t, models.StatusComplete, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []string{"Dairy"}, sink.resets)
	assert.Equal(t, []int{0, 1, 2}, sink.saved["Dairy"])
	for i, pg := range result.Pages {
		assert.Equal(t, i, pg.Index)
	}
}

func TestNodeWorker_ExhaustsRetryBudget(t *testing.T) {
	// Always failing with a retryable error: the cap means exactly 3 attempts
	fetcher := &failNFetcher{failures: 100, err: Retryable("rate limited", nil)}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Munchies"})

	assert.Equal(t, models.StatusExhausted, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, fetcher.attempts)
	assert.Contains(t, result.Error, "rate limited")
}

func TestNodeWorker_TerminalErrorStopsImmediately(t *testing.T) {
	fetcher := &failNFetcher{failures: 100, err: Terminal("invalid deeplink", nil)}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Broken"})

	assert.Equal(t, models.StatusExhausted, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, fetcher.attempts)
}

func TestNodeWorker_NoDataIsNotRetried(t *testing.T) {
	fetcher := &fakeFetcher{pages: []*models.PageResult{{}}}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})

	result := w.Run(context.Background(), models.Node{Name: "Ghost"})

	assert.Equal(t, models.StatusNoData, result.Status)
	assert.Equal(t, 1, result.Attempts)
}

// cancelMidRunFetcher serves pages until cancelPage, then cancels the run
type cancelMidRunFetcher struct {
	cancelPage int
	cancel     context.CancelFunc
}

func (f *cancelMidRunFetcher) Fetch(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error) {
	if pageIndex == f.cancelPage {
		f.cancel()
		return nil, ctx.Err()
	}
	return dataPage(true), nil
}

func TestNodeWorker_CancelledMidPaginationKeepsPages(t *testing.T) {
	// Pages 0-1 are persisted, then the run is cancelled at page 2. The
	// worker must hand back the partial result without wiping the pages
	// already on disk or spending further attempts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &cancelMidRunFetcher{cancelPage: 2, cancel: cancel}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Hour})

	result := w.Run(ctx, models.Node{Name: "Dairy"})

	assert.Equal(t, models.StatusExhausted, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Contains(t, result.Error, "context canceled")
	require.Len(t, result.Pages, 2)
	assert.Equal(t, []int{0, 1}, sink.saved["Dairy"])
	assert.Empty(t, sink.resets)
}

func TestNodeWorker_CancelledDuringRetryDelay(t *testing.T) {
	fetcher := &failNFetcher{failures: 100, err: Retryable("rate limited", nil)}
	sink := newFakeSink()
	w := newWorker(fetcher, sink, RetryPolicy{MaxAttempts: 3, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.NodeResult, 1)
	go func() { done <- w.Run(ctx, models.Node{Name: "Slow"}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.Equal(t, models.StatusExhausted, result.Status)
		assert.Contains(t, result.Error, "context canceled")
	case <-time.After(2 * time.Second):
		require.Fail(t, "worker did not return promptly after cancellation")
	}
}
