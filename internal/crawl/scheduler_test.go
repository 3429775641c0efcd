package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// countingRunner tracks concurrent executions and batch membership
type countingRunner struct {
	mu         sync.Mutex
	active     int32
	maxActive  int32
	order      []string
	batchSizes []int
	hold       time.Duration
	block      chan struct{} // when set, every run blocks until closed
}

func (r *countingRunner) Run(ctx context.Context, node models.Node) models.NodeResult {
	n := atomic.AddInt32(&r.active, 1)
	for {
		max := atomic.LoadInt32(&r.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&r.maxActive, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&r.active, -1)

	r.mu.Lock()
	r.order = append(r.order, node.Name)
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	if r.hold > 0 {
		time.Sleep(r.hold)
	}
	return models.NodeResult{Node: node, Status: models.StatusComplete, Attempts: 1}
}

func makeNodes(n int) []models.Node {
	nodes := make([]models.Node, n)
	for i := range nodes {
		nodes[i] = models.Node{Name: fmt.Sprintf("cat-%02d", i), Kind: models.NodeKindCategory}
	}
	return nodes
}

func TestBatchScheduler_ResultsInInputOrder(t *testing.T) {
	runner := &countingRunner{}
	s := NewBatchScheduler(runner, 4, 0, common.GetLogger())

	nodes := makeNodes(10)
	results := s.Process(context.Background(), nodes)

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, nodes[i].Name, r.Node.Name)
		assert.Equal(t, models.StatusComplete, r.Status)
	}
}

func TestBatchScheduler_ConcurrencyCeiling(t *testing.T) {
	runner := &countingRunner{hold: 20 * time.Millisecond}
	s := NewBatchScheduler(runner, 5, 0, common.GetLogger())

	s.Process(context.Background(), makeNodes(17))

	assert.LessOrEqual(t, runner.maxActive, int32(5))
	assert.Len(t, runner.order, 17)
}

func TestBatchScheduler_BatchSplit(t *testing.T) {
	// 47 nodes at concurrency 20 split into batches of 20, 20 and 7
	runner := &countingRunner{hold: 5 * time.Millisecond}
	s := NewBatchScheduler(runner, 20, time.Millisecond, common.GetLogger())

	nodes := makeNodes(47)
	results := s.Process(context.Background(), nodes)

	require.Len(t, results, 47)
	for _, r := range results {
		assert.Equal(t, models.StatusComplete, r.Status)
	}
	assert.LessOrEqual(t, runner.maxActive, int32(20))

	// The inter-batch barrier means dispatch order groups into 20/20/7:
	// every node of a batch starts before any node of the next one
	require.Len(t, runner.order, 47)
	batchOf := func(name string) int {
		for i, n := range nodes {
			if n.Name == name {
				return i / 20
			}
		}
		return -1
	}
	for i, name := range runner.order {
		assert.Equal(t, i/20, batchOf(name), "node %s dispatched in wrong batch", name)
	}
}

func TestBatchScheduler_CancellationSkipsRemainingBatches(t *testing.T) {
	block := make(chan struct{})
	runner := &countingRunner{block: block}
	s := NewBatchScheduler(runner, 2, time.Millisecond, common.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []models.NodeResult, 1)
	go func() { done <- s.Process(ctx, makeNodes(6)) }()

	// Let the first batch start, then cancel and release it
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(block)

	var results []models.NodeResult
	select {
	case results = <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "scheduler did not return after cancellation")
	}

	require.Len(t, results, 6)
	// First batch ran to completion, later nodes were never dispatched
	assert.Equal(t, models.StatusComplete, results[0].Status)
	assert.Equal(t, models.StatusComplete, results[1].Status)
	for _, r := range results[2:] {
		assert.Equal(t, models.StatusExhausted, r.Status)
		assert.Contains(t, r.Error, "context canceled")
	}
	assert.Len(t, runner.order, 2)
}

func TestBatchScheduler_EmptyInput(t *testing.T) {
	s := NewBatchScheduler(&countingRunner{}, 5, 0, common.GetLogger())
	results := s.Process(context.Background(), nil)
	assert.Empty(t, results)
}
