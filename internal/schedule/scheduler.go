package schedule

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/crawl"
)

// Scheduler runs crawls on a cron schedule. Overlapping runs are skipped: a
// tick that fires while a crawl is still going is dropped, not queued.
type Scheduler struct {
	orchestrator *crawl.Orchestrator
	cron         *cron.Cron
	logger       arbor.ILogger
	mu           sync.Mutex
	running      bool
}

// NewScheduler creates a crawl scheduler
func NewScheduler(orchestrator *crawl.Orchestrator, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		cron:         cron.New(cron.WithSeconds()),
		logger:       logger,
	}
}

// Start begins scheduled crawling. ctx bounds every crawl the scheduler
// kicks off.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		// Default: daily at 02:00
		schedule = "0 0 2 * * *"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runCrawl(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Msg("Crawl scheduler started")
	return nil
}

// Stop stops the scheduler. Any in-flight crawl keeps running until its
// context is cancelled.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Crawl scheduler stopped")
}

// RunNow triggers an immediate crawl
func (s *Scheduler) RunNow(ctx context.Context) {
	s.logger.Info().Msg("Triggering immediate crawl")
	go s.runCrawl(ctx)
}

func (s *Scheduler) runCrawl(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous crawl still running, skipping this tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("Starting scheduled crawl")
	manifest, err := s.orchestrator.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled crawl failed")
		return
	}

	summary := manifest.Summary()
	s.logger.Info().
		Int("nodes", summary.Total()).
		Int("complete", summary.Complete).
		Int("exhausted", summary.Exhausted).
		Int("no_data", summary.NoData).
		Msg("Scheduled crawl completed")
}
