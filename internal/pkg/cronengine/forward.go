package cronengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/logger"
)

// forwardTotalConcurrency and forwardPerNodeConcurrency are the two
// independent bounds the teacher's connection-pool-per-destination
// shape suggested generalizing to: one global cap across every
// forward worker, one per-node cap so a single busy node cannot
// starve the others (spec §4.4 step 2e "Concurrency 15 across nodes;
// 10 per node", §9 "preserve both limits").
const (
	forwardTotalConcurrency   = 15
	forwardPerNodeConcurrency = 10
)

// forwardBatch dispatches one page of matched sessions to the
// configured remote cluster, bounded by the two bucketed semaphores
// above.
func (e *Engine) forwardBatch(ctx context.Context, targetCluster string, hits []esstore.Hit) error {
	total := make(chan struct{}, forwardTotalConcurrency)
	perNode := &nodeSemaphores{limit: forwardPerNodeConcurrency}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, hit := range hits {
		node := decodeNode(hit)

		total <- struct{}{}
		sem := perNode.acquire(node)
		wg.Add(1)
		go func(sessionID, node string) {
			defer wg.Done()
			defer func() { <-total }()
			defer perNode.release(node, sem)

			if err := e.forwarder.Forward(ctx, targetCluster, sessionID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("forward session %s to %s: %w", sessionID, targetCluster, err)
				}
				mu.Unlock()
				logger.Warn("cronengine: forward failed", "session_id", sessionID, "cluster", targetCluster, "error", err)
				return
			}
			if e.metrics != nil {
				e.metrics.CronForwarded.Inc()
			}
		}(hit.ID, node)
	}
	wg.Wait()
	return firstErr
}

func decodeNode(hit esstore.Hit) string {
	var stub struct {
		Node string `json:"node"`
	}
	_ = json.Unmarshal(hit.Source, &stub)
	return stub.Node
}

// nodeSemaphores lazily creates one buffered channel per node so the
// per-node cap is independent of the global one.
type nodeSemaphores struct {
	mu    sync.Mutex
	limit int
	chans map[string]chan struct{}
}

func (n *nodeSemaphores) acquire(node string) chan struct{} {
	n.mu.Lock()
	if n.chans == nil {
		n.chans = make(map[string]chan struct{})
	}
	ch, ok := n.chans[node]
	if !ok {
		ch = make(chan struct{}, n.limit)
		n.chans[node] = ch
	}
	n.mu.Unlock()
	ch <- struct{}{}
	return ch
}

func (n *nodeSemaphores) release(node string, ch chan struct{}) {
	<-ch
}
