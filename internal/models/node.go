package models

import (
	"encoding/json"
	"time"
)

// NodeKind identifies the level of a crawl node in the category tree
type NodeKind string

const (
	NodeKindCategory NodeKind = "category"
	NodeKindFilter   NodeKind = "filter"
)

// Node is one unit of crawl work: a category or one of a category's filters.
// Nodes are immutable once enumerated for a run.
type Node struct {
	Name     string   `json:"name"`
	Deeplink string   `json:"deeplink"`
	Kind     NodeKind `json:"kind"`
	Parent   string   `json:"parent,omitempty"` // owning category name, empty for categories

	// Filter-specific identity carried from the parent's page-0 payload
	FilterID   string `json:"filter_id,omitempty"`
	FilterType string `json:"filter_type,omitempty"`
}

// APIRequest is one intercepted catalog API request
type APIRequest struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	PostData string            `json:"post_data,omitempty"`
}

// APIResponse is the response observed for an intercepted request
type APIResponse struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// APICall pairs a captured request with its response, in observation order
type APICall struct {
	Request  APIRequest  `json:"request"`
	Response APIResponse `json:"response"`
}

// PageResult holds everything captured while rendering one page of a node.
// Payload is the page's listing payload: for page 0 the categoryData wrapper
// extracted from the initial state, for later pages the paginated API body.
type PageResult struct {
	Index        int             `json:"index"`
	Markup       string          `json:"markup,omitempty"`
	InitialState json.RawMessage `json:"initial_state,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Calls        []APICall       `json:"calls,omitempty"`
	HasMore      bool            `json:"has_more"`
}

// Empty reports whether the page yielded no usable data at all. An empty
// page 0 marks the node as no-data; an empty later page ends pagination.
func (p *PageResult) Empty() bool {
	return len(p.InitialState) == 0 && len(p.Payload) == 0 && len(p.Calls) == 0
}

// NodeStatus is the terminal outcome of one node's crawl
type NodeStatus string

const (
	StatusComplete  NodeStatus = "complete"
	StatusExhausted NodeStatus = "exhausted_retries"
	StatusNoData    NodeStatus = "no_data"
)

// NodeResult is the outcome of crawling one node: its pages in index order
// (contiguous from 0, no gaps) and the terminal status.
type NodeResult struct {
	Node     Node         `json:"node"`
	Pages    []PageResult `json:"pages,omitempty"`
	Status   NodeStatus   `json:"status"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// PageCount returns the number of captured pages
func (r *NodeResult) PageCount() int {
	return len(r.Pages)
}

// RunManifest aggregates every node outcome of one orchestrator pass
type RunManifest struct {
	RootDir    string                  `json:"root_dir"`
	Source     string                  `json:"source"`
	Categories []NodeResult            `json:"categories"`
	Filters    map[string][]NodeResult `json:"filters"` // keyed by category name
}

// RunSummary counts node outcomes across both levels
type RunSummary struct {
	Complete  int `json:"complete"`
	Exhausted int `json:"exhausted"`
	NoData    int `json:"no_data"`
}

// Total returns the number of nodes processed
func (s RunSummary) Total() int {
	return s.Complete + s.Exhausted + s.NoData
}

// Summary tallies per-status counts over categories and all filters
func (m *RunManifest) Summary() RunSummary {
	var s RunSummary
	tally := func(results []NodeResult) {
		for _, r := range results {
			switch r.Status {
			case StatusComplete:
				s.Complete++
			case StatusExhausted:
				s.Exhausted++
			case StatusNoData:
				s.NoData++
			}
		}
	}
	tally(m.Categories)
	for _, results := range m.Filters {
		tally(results)
	}
	return s
}

// RunRecord is the persisted history row for one completed crawl run
type RunRecord struct {
	ID         string    `json:"id" badgerhold:"key"`
	Source     string    `json:"source"`
	RootDir    string    `json:"root_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Categories int       `json:"categories"`
	Filters    int       `json:"filters"`
	Complete   int       `json:"complete"`
	Exhausted  int       `json:"exhausted"`
	NoData     int       `json:"no_data"`
	Cancelled  bool      `json:"cancelled"`
}
