package crawl

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// PageFetcher loads one page of a node and returns everything captured while
// rendering it: markup, the initial-state snapshot, the intercepted API
// calls, and the has-more signal. Page 0 is a fresh navigation; later pages
// are triggered against the same node session. Failures are classified with
// Retryable/Terminal wrappers from this package.
type PageFetcher interface {
	Fetch(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error)
}

// NodeReleaser is implemented by fetchers that hold per-node sessions
// (browser tabs). The paginator releases the session when the node's run
// ends, on success and on failure alike.
type NodeReleaser interface {
	Release(node models.Node)
}

// ArtifactSink receives captured artifacts. Writes are full replacements; a
// retried node is Reset before its pagination restarts.
type ArtifactSink interface {
	SavePage(node models.Node, page *models.PageResult) error
	SaveNodeArtifacts(node models.Node, result *models.NodeResult) error
	Reset(node models.Node) error
}

// ArtifactStore is the full store surface the orchestrator needs: the sink
// plus the disk reads that hand categories over to the filter pass.
type ArtifactStore interface {
	ArtifactSink
	ReadPageZero(node models.Node) ([]byte, error)
	SaveHomeManifest(manifest *models.HomeManifest, raw []byte) error
	LoadHomeManifest() (*models.HomeManifest, error)
	Root() string
}

// CategorySource produces the raw home API payload during the seed phase
type CategorySource interface {
	FetchHome(ctx context.Context) ([]byte, error)
}
