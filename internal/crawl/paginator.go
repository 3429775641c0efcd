package crawl

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// Paginator drives one node's pagination: sequential fetches from page 0
// until the has-more signal drops, the scroll-loop cap is reached, or a
// scroll produces no new data. Every successful page is persisted before the
// next fetch starts, so a failure at page k leaves pages 0..k-1 on disk.
type Paginator struct {
	fetcher  PageFetcher
	store    ArtifactSink
	maxLoops int
	logger   arbor.ILogger
}

// NewPaginator creates a paginator with the given scroll-loop cap
func NewPaginator(fetcher PageFetcher, store ArtifactSink, maxLoops int, logger arbor.ILogger) *Paginator {
	return &Paginator{
		fetcher:  fetcher,
		store:    store,
		maxLoops: maxLoops,
		logger:   logger,
	}
}

// Run fetches the node's pages in order. On a fetch failure at page k the
// partial result (pages 0..k-1, already persisted) is returned together with
// the error so the caller can decide whether to retry the node from scratch.
func (p *Paginator) Run(ctx context.Context, node models.Node) (*models.NodeResult, error) {
	if r, ok := p.fetcher.(NodeReleaser); ok {
		defer r.Release(node)
	}

	result := &models.NodeResult{Node: node}

	for pageIndex := 0; ; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := p.fetcher.Fetch(ctx, node, pageIndex)
		if err != nil {
			p.logger.Warn().
				Str("node", node.Name).
				Int("page", pageIndex).
				Err(err).
				Msg("Page fetch failed, aborting node run")
			return result, err
		}
		page.Index = pageIndex

		if pageIndex == 0 && page.Empty() {
			p.logger.Info().
				Str("node", node.Name).
				Msg("Node yielded no data")
			result.Status = models.StatusNoData
			return result, nil
		}

		// Degenerate loop guard: a scroll that surfaces nothing new means the
		// listing is exhausted even if the last has-more signal said otherwise
		if page.Empty() {
			p.logger.Debug().
				Str("node", node.Name).
				Int("page", pageIndex).
				Msg("No new data after scroll, assuming end of list")
			break
		}

		if err := p.store.SavePage(node, page); err != nil {
			return result, fmt.Errorf("failed to persist page %d for %s: %w", pageIndex, node.Name, err)
		}
		result.Pages = append(result.Pages, *page)

		if !page.HasMore {
			p.logger.Debug().
				Str("node", node.Name).
				Int("pages", len(result.Pages)).
				Msg("Reached last page")
			break
		}
		if pageIndex >= p.maxLoops {
			p.logger.Warn().
				Str("node", node.Name).
				Int("max_scroll_loops", p.maxLoops).
				Msg("Max scroll loops reached, list may be incomplete")
			break
		}
	}

	result.Status = models.StatusComplete
	if err := p.store.SaveNodeArtifacts(node, result); err != nil {
		return result, fmt.Errorf("failed to persist artifacts for %s: %w", node.Name, err)
	}
	return result, nil
}
