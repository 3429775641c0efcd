package crawl

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/sync/errgroup"
)

// NodeRunner is the per-node unit of work the scheduler fans out
type NodeRunner interface {
	Run(ctx context.Context, node models.Node) models.NodeResult
}

// BatchScheduler processes one level of nodes in fixed-size batches. At most
// Concurrency nodes run at once; the next batch starts only after every node
// of the current batch reached a terminal status, with Delay in between.
type BatchScheduler struct {
	runner      NodeRunner
	concurrency int
	delay       time.Duration
	logger      arbor.ILogger
}

// NewBatchScheduler creates a scheduler for one tree level
func NewBatchScheduler(runner NodeRunner, concurrency int, delay time.Duration, logger arbor.ILogger) *BatchScheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchScheduler{
		runner:      runner,
		concurrency: concurrency,
		delay:       delay,
		logger:      logger,
	}
}

// Process runs all nodes and returns one result per node, in input order.
// When ctx is cancelled no new batch starts; nodes never dispatched are
// marked exhausted with the cancellation error so callers still get a
// complete accounting.
func (s *BatchScheduler) Process(ctx context.Context, nodes []models.Node) []models.NodeResult {
	results := make([]models.NodeResult, len(nodes))

	batches := (len(nodes) + s.concurrency - 1) / s.concurrency
	for start := 0; start < len(nodes); start += s.concurrency {
		end := start + s.concurrency
		if end > len(nodes) {
			end = len(nodes)
		}
		batchNum := start/s.concurrency + 1

		if err := ctx.Err(); err != nil {
			s.logger.Warn().
				Int("remaining", len(nodes)-start).
				Msg("Run cancelled, skipping remaining batches")
			for i := start; i < len(nodes); i++ {
				results[i] = models.NodeResult{
					Node:   nodes[i],
					Status: models.StatusExhausted,
					Error:  err.Error(),
				}
			}
			return results
		}

		if start > 0 && s.delay > 0 {
			s.logger.Debug().
				Dur("delay", s.delay).
				Msg("Waiting before next batch")
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				for i := start; i < len(nodes); i++ {
					results[i] = models.NodeResult{
						Node:   nodes[i],
						Status: models.StatusExhausted,
						Error:  ctx.Err().Error(),
					}
				}
				return results
			}
		}

		s.logger.Info().
			Int("batch", batchNum).
			Int("batches", batches).
			Int("size", end-start).
			Msg("Processing batch")

		var g errgroup.Group
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				results[idx] = s.runner.Run(ctx, nodes[idx])
				return nil
			})
		}
		g.Wait()
	}

	return results
}
