package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// FileStore lays captured artifacts out on disk:
//
//	<root>/
//	  playwright-<source>-home.json
//	  playwright-<source>-home-raw.json
//	  categories/<category>/
//	    <category>.html
//	    <category>_initial_state.json
//	    <category>_page_<k>.json
//	    <category>_api_requests.json
//	    <category>_api_responses.json
//	    filters/<filter>/...
//
// Directory and file names are derived from node names via SafeFileName, so
// reruns against the same tree land on the same paths.
type FileStore struct {
	root       string
	categories string
	source     string
	logger     arbor.ILogger
}

// NewFileStore creates the output root and the categories subdirectory
func NewFileStore(cfg *common.OutputConfig, source string, logger arbor.ILogger) (*FileStore, error) {
	categories := filepath.Join(cfg.BaseDir, cfg.CategoriesSubdir)
	if err := os.MkdirAll(categories, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{
		root:       cfg.BaseDir,
		categories: categories,
		source:     source,
		logger:     logger,
	}, nil
}

// Root returns the output root directory
func (s *FileStore) Root() string {
	return s.root
}

// nodeDir maps a node to its artifact directory. Filters nest under their
// parent category.
func (s *FileStore) nodeDir(node models.Node) string {
	if node.Kind == models.NodeKindFilter {
		return filepath.Join(s.categories, common.SafeFileName(node.Parent), "filters", common.SafeFileName(node.Name))
	}
	return filepath.Join(s.categories, common.SafeFileName(node.Name))
}

// SavePage persists one page's artifacts. Page 0 also carries the rendered
// markup and the initial-state snapshot.
func (s *FileStore) SavePage(node models.Node, page *models.PageResult) error {
	dir := s.nodeDir(node)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	base := common.SafeFileName(node.Name)

	if page.Index == 0 {
		if page.Markup != "" {
			if err := writeFileAtomic(filepath.Join(dir, base+".html"), []byte(page.Markup)); err != nil {
				return err
			}
		}
		if len(page.InitialState) > 0 {
			if err := writeJSONRaw(filepath.Join(dir, base+"_initial_state.json"), page.InitialState); err != nil {
				return err
			}
		}
	}

	if len(page.Payload) > 0 {
		name := fmt.Sprintf("%s_page_%d.json", base, page.Index)
		if err := writeJSONRaw(filepath.Join(dir, name), page.Payload); err != nil {
			return err
		}
	}

	s.logger.Debug().
		Str("node", node.Name).
		Int("page", page.Index).
		Str("dir", dir).
		Msg("Page artifacts saved")
	return nil
}

// SaveNodeArtifacts writes the aggregated API request and response captures
// once the node's pagination has finished
func (s *FileStore) SaveNodeArtifacts(node models.Node, result *models.NodeResult) error {
	dir := s.nodeDir(node)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	base := common.SafeFileName(node.Name)

	var requests []models.APIRequest
	var responses []models.APIResponse
	for _, page := range result.Pages {
		for _, call := range page.Calls {
			requests = append(requests, call.Request)
			responses = append(responses, call.Response)
		}
	}

	if err := writeJSON(filepath.Join(dir, base+"_api_requests.json"), requests); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, base+"_api_responses.json"), responses)
}

// Reset wipes a node's directory so a retried attempt starts clean
func (s *FileStore) Reset(node models.Node) error {
	dir := s.nodeDir(node)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear node directory: %w", err)
	}
	s.logger.Debug().
		Str("node", node.Name).
		Str("dir", dir).
		Msg("Node directory cleared for retry")
	return nil
}

// ReadPageZero loads a node's page-0 payload back off disk
func (s *FileStore) ReadPageZero(node models.Node) ([]byte, error) {
	path := filepath.Join(s.nodeDir(node), common.SafeFileName(node.Name)+"_page_0.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page 0 for %s: %w", node.Name, err)
	}
	return data, nil
}

// SaveHomeManifest persists the extracted category list and the raw home
// payload it came from
func (s *FileStore) SaveHomeManifest(manifest *models.HomeManifest, raw []byte) error {
	if err := writeJSON(s.manifestPath(), manifest); err != nil {
		return err
	}
	return writeJSONRaw(s.rawManifestPath(), raw)
}

// LoadHomeManifest reads a previous run's category manifest, if one exists
func (s *FileStore) LoadHomeManifest() (*models.HomeManifest, error) {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return nil, err
	}
	var manifest models.HomeManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse home manifest: %w", err)
	}
	return &manifest, nil
}

func (s *FileStore) manifestPath() string {
	return filepath.Join(s.root, fmt.Sprintf("playwright-%s-home.json", s.source))
}

func (s *FileStore) rawManifestPath() string {
	return filepath.Join(s.root, fmt.Sprintf("playwright-%s-home-raw.json", s.source))
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// half-written artifact
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// writeJSONRaw pretty-prints already-encoded JSON before writing it
func writeJSONRaw(path string, raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not valid JSON, keep the bytes as captured
		return writeFileAtomic(path, raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return writeFileAtomic(path, raw)
	}
	return writeFileAtomic(path, data)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeFileAtomic(path, data)
}
