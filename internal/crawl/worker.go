package crawl

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// RetryPolicy bounds how often a node's crawl is restarted after a
// retryable failure. Delay is the wait before each restart.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// ShouldRetry decides whether another attempt is allowed after err on the
// given 1-based attempt. Terminal failures and exhausted budgets stop the
// node; everything else restarts it from page 0.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	return !IsTerminal(err)
}

// NodeWorker runs one node to a terminal status: it drives the paginator and
// restarts the whole node, partial artifacts wiped, when an attempt fails
// with a retryable error.
type NodeWorker struct {
	paginator *Paginator
	store     ArtifactSink
	policy    RetryPolicy
	logger    arbor.ILogger
}

// NewNodeWorker creates a worker with the given retry policy
func NewNodeWorker(paginator *Paginator, store ArtifactSink, policy RetryPolicy, logger arbor.ILogger) *NodeWorker {
	return &NodeWorker{
		paginator: paginator,
		store:     store,
		policy:    policy,
		logger:    logger,
	}
}

// Run crawls the node until it completes, yields no data, fails terminally,
// or exhausts the retry budget. The returned result always carries a
// terminal status and the number of attempts spent.
func (w *NodeWorker) Run(ctx context.Context, node models.Node) models.NodeResult {
	var lastErr error

	for attempt := 1; attempt <= w.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			w.logger.Info().
				Str("node", node.Name).
				Int("attempt", attempt).
				Int("max_attempts", w.policy.MaxAttempts).
				Dur("delay", w.policy.Delay).
				Msg("Retrying node after delay")
			select {
			case <-time.After(w.policy.Delay):
			case <-ctx.Done():
				return models.NodeResult{
					Node:     node,
					Status:   models.StatusExhausted,
					Attempts: attempt - 1,
					Error:    ctx.Err().Error(),
				}
			}
			// A retry restarts from page 0; stale partial pages from the
			// failed attempt must not survive into the new one. The wipe
			// happens only once the retry is actually going ahead, so pages
			// persisted before a cancellation stay on disk.
			if err := w.store.Reset(node); err != nil {
				w.logger.Warn().
					Str("node", node.Name).
					Err(err).
					Msg("Failed to clear partial artifacts before retry")
			}
		}

		result, err := w.paginator.Run(ctx, node)
		result.Attempts = attempt
		if err == nil {
			return *result
		}
		lastErr = err

		if ctx.Err() != nil {
			// Run-level cancellation. The pages fetched so far are already
			// persisted and must survive, so no reset and no further attempt.
			w.logger.Info().
				Str("node", node.Name).
				Int("attempt", attempt).
				Int("pages", len(result.Pages)).
				Msg("Node interrupted by cancellation")
			result.Status = models.StatusExhausted
			result.Error = err.Error()
			return *result
		}

		if !w.policy.ShouldRetry(err, attempt) {
			if IsTerminal(err) {
				w.logger.Error().
					Str("node", node.Name).
					Int("attempt", attempt).
					Err(err).
					Msg("Node failed with unrecoverable error")
			} else {
				w.logger.Error().
					Str("node", node.Name).
					Int("attempts", attempt).
					Err(err).
					Msg("Node exhausted its retry budget")
			}
			result.Status = models.StatusExhausted
			result.Error = err.Error()
			return *result
		}
	}

	// Unreachable while MaxAttempts >= 1, kept for a zero-value policy
	return models.NodeResult{
		Node:   node,
		Status: models.StatusExhausted,
		Error:  errString(lastErr),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
