package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// RunRecorder persists a run history row once a crawl finishes
type RunRecorder interface {
	SaveRun(record *models.RunRecord) error
}

// Orchestrator walks the two-level category tree: it seeds the category list
// from the home API (or a previous run's manifest on disk), crawls every
// category, then crawls every category's filters. The filter pass starts only
// after the category pass has fully finished, because filter nodes are
// enumerated from the categories' page-0 payloads.
type Orchestrator struct {
	config  *common.Config
	store   ArtifactStore
	fetcher PageFetcher
	home    CategorySource
	history RunRecorder
	logger  arbor.ILogger
}

// NewOrchestrator wires a crawl run. history may be nil when run persistence
// is disabled.
func NewOrchestrator(config *common.Config, store ArtifactStore, fetcher PageFetcher, home CategorySource, history RunRecorder, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		config:  config,
		store:   store,
		fetcher: fetcher,
		home:    home,
		history: history,
		logger:  logger,
	}
}

// Run executes one full crawl. A seed failure is fatal; node failures are
// absorbed into per-node statuses and the run carries on. The returned
// manifest accounts for every node that was enumerated, including nodes
// skipped by cancellation.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunManifest, error) {
	runID := uuid.New().String()
	logger := o.logger.WithCorrelationId(runID)
	started := time.Now()

	logger.Info().
		Str("source", o.config.Store.Source).
		Str("output", o.store.Root()).
		Msg("Starting crawl run")

	home, err := o.seed(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to seed categories: %w", err)
	}

	manifest := &models.RunManifest{
		RootDir: o.store.Root(),
		Source:  o.config.Store.Source,
		Filters: make(map[string][]models.NodeResult),
	}

	scraping := o.config.Scraping

	// Category pass
	categoryWorker := o.newWorker(logger, RetryPolicy{
		MaxAttempts: scraping.MaxCategoryRetries,
		Delay:       scraping.CategoryRetryDelay.Std(),
	})
	categoryScheduler := NewBatchScheduler(categoryWorker, scraping.MaxConcurrentCategories, scraping.BatchDelay.Std(), logger)
	manifest.Categories = categoryScheduler.Process(ctx, home.Nodes())

	logger.Info().
		Int("categories", len(manifest.Categories)).
		Msg("Category pass finished, enumerating filters")

	// Filter pass. Nodes come from the categories' page-0 payloads on disk,
	// so only categories that completed contribute filters.
	filterNodes := o.enumerateFilters(manifest.Categories, logger)

	filterWorker := o.newWorker(logger, RetryPolicy{
		MaxAttempts: scraping.MaxFilterRetries,
		Delay:       scraping.FilterRetryDelay.Std(),
	})
	filterScheduler := NewBatchScheduler(filterWorker, scraping.MaxConcurrentFilters, scraping.FilterBatchDelay.Std(), logger)
	for _, result := range filterScheduler.Process(ctx, filterNodes) {
		manifest.Filters[result.Node.Parent] = append(manifest.Filters[result.Node.Parent], result)
	}

	summary := manifest.Summary()
	logger.Info().
		Int("nodes", summary.Total()).
		Int("complete", summary.Complete).
		Int("exhausted", summary.Exhausted).
		Int("no_data", summary.NoData).
		Dur("elapsed", time.Since(started)).
		Msg("Crawl run finished")

	o.recordRun(runID, manifest, started, ctx.Err() != nil, logger)

	return manifest, ctx.Err()
}

// seed returns the category list, preferring a manifest persisted by an
// earlier run over a fresh home API call
func (o *Orchestrator) seed(ctx context.Context, logger arbor.ILogger) (*models.HomeManifest, error) {
	if manifest, err := o.store.LoadHomeManifest(); err == nil && manifest != nil && len(manifest.Categories) > 0 {
		logger.Info().
			Int("categories", manifest.TotalCategories).
			Msg("Reusing category manifest from previous run")
		return manifest, nil
	}

	logger.Info().Msg("Fetching category list from home API")
	raw, err := o.home.FetchHome(ctx)
	if err != nil {
		return nil, err
	}

	manifest, err := ExtractCategories(raw)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveHomeManifest(manifest, raw); err != nil {
		return nil, err
	}

	logger.Info().
		Int("categories", manifest.TotalCategories).
		Msg("Category list extracted from home API")
	return manifest, nil
}

func (o *Orchestrator) newWorker(logger arbor.ILogger, policy RetryPolicy) *NodeWorker {
	paginator := NewPaginator(o.fetcher, o.store, o.config.Scraping.MaxScrollLoops, logger)
	return NewNodeWorker(paginator, o.store, policy, logger)
}

// enumerateFilters reads every completed category's page-0 payload off disk
// and extracts its filter nodes. A category whose payload is missing or
// unreadable is skipped; the failure stays local to that category.
func (o *Orchestrator) enumerateFilters(categories []models.NodeResult, logger arbor.ILogger) []models.Node {
	var nodes []models.Node
	for _, cat := range categories {
		if cat.Status != models.StatusComplete {
			continue
		}
		pageZero, err := o.store.ReadPageZero(cat.Node)
		if err != nil {
			logger.Warn().
				Str("category", cat.Node.Name).
				Err(err).
				Msg("Cannot read category page 0, skipping its filters")
			continue
		}
		filters, err := ExtractFilters(cat.Node, pageZero, &o.config.Store)
		if err != nil {
			logger.Warn().
				Str("category", cat.Node.Name).
				Err(err).
				Msg("Cannot extract filters from page 0, skipping")
			continue
		}
		if len(filters) == 0 {
			logger.Debug().
				Str("category", cat.Node.Name).
				Msg("Category has no filters")
			continue
		}
		nodes = append(nodes, filters...)
	}
	logger.Info().
		Int("filters", len(nodes)).
		Msg("Filter nodes enumerated")
	return nodes
}

func (o *Orchestrator) recordRun(runID string, manifest *models.RunManifest, started time.Time, cancelled bool, logger arbor.ILogger) {
	if o.history == nil {
		return
	}
	summary := manifest.Summary()
	filterCount := 0
	for _, results := range manifest.Filters {
		filterCount += len(results)
	}
	record := &models.RunRecord{
		ID:         runID,
		Source:     manifest.Source,
		RootDir:    manifest.RootDir,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Categories: len(manifest.Categories),
		Filters:    filterCount,
		Complete:   summary.Complete,
		Exhausted:  summary.Exhausted,
		NoData:     summary.NoData,
		Cancelled:  cancelled,
	}
	if err := o.history.SaveRun(record); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist run history")
	}
}
