// Package huntengine implements HuntEngine (spec §4.3): the singleton
// scheduler that scans every session matching a hunt's expression over
// its time window, runs a packet-level search over the owning node's
// PCAP bytes (locally or via PeerProxy), and tags matches back onto
// the session documents. Grounded on the teacher's
// processor/hunter.Manager for the lock-then-callback-outside-lock
// discipline and on hunter/connection's background-loop shape for the
// scroll-driven scan loop.
package huntengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/endorses/packhound/internal/pkg/cluster"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/metrics"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/notify"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
)

// maxFailedSessions is the cap on a hunt's failedSessionIds list
// before it pauses permanently (spec §4.3 "Failed-session retry").
const maxFailedSessions = 10000

// scanConcurrency bounds concurrent per-session dispatch during the
// main scroll pass and the failed-session retry pass (spec §4.3 step
// 5, §9 "hunt per-session: 3").
const scanConcurrency = 3

// checkpointInterval is the minimum wall-clock gap between persisted
// checkpoints and pause-request polls (spec §4.3 steps 6-7, P1).
const checkpointInterval = 2 * time.Second

// scrollPageSize is the per-page hit count for the session scroll
// (spec §4.3 step 3).
const scrollPageSize = 100

// Engine runs at most one hunt at a time on this node.
type Engine struct {
	store     *esstore.Store
	pcap      *pcapstore.Store
	resolver  *cluster.Resolver
	proxy     *peerproxy.Proxy
	hub       *notify.Hub
	metrics   *metrics.Registry
	nodeName  string

	running atomic.Bool
	wake    chan struct{}
}

// New builds an Engine over the given collaborators.
func New(store *esstore.Store, pcap *pcapstore.Store, resolver *cluster.Resolver, proxy *peerproxy.Proxy, hub *notify.Hub, m *metrics.Registry) *Engine {
	return &Engine{
		store:    store,
		pcap:     pcap,
		resolver: resolver,
		proxy:    proxy,
		hub:      hub,
		metrics:  m,
		nodeName: resolver.NodeName(),
		wake:     make(chan struct{}, 1),
	}
}

// Wake signals the scheduler to re-check for queued work on its next
// loop iteration (spec §9 "a clean implementation uses a condition
// variable / channel signal" instead of re-setting an init flag).
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run blocks, driving the scheduler loop until ctx is cancelled. On
// startup it restores any abandoned `running` hunt, resuming from its
// persisted lastPacketTime (spec §4.3 "Singleton contract").
func (e *Engine) Run(ctx context.Context) error {
	if err := e.recoverAbandoned(ctx); err != nil {
		logger.Warn("huntengine: crash recovery failed", "error", err)
	}
	e.Wake()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.processHuntJobs(ctx)
		case <-e.wake:
			e.processHuntJobs(ctx)
		}
	}
}

// recoverAbandoned requeues any hunt this node left in status=running
// across a crash. lastPacketTime was checkpointed at least every 2s
// while it ran, so re-queuing (rather than restarting from startTime)
// resumes from that point per the scan algorithm's lastPacketTime-or-
// startTime filter (spec §4.3 step 3, "Singleton contract").
func (e *Engine) recoverAbandoned(ctx context.Context) error {
	page, err := e.store.Search(ctx, esstore.SearchOptions{
		Index:  esstore.IndexHunts,
		Filter: expression.Filter{"term": map[string]any{"status": model.HuntRunning}},
		Size:   1,
	})
	if err != nil {
		return fmt.Errorf("query abandoned hunts: %w", err)
	}
	for _, hit := range page.Hits {
		logger.Info("huntengine: recovering abandoned running hunt", "hunt_id", hit.ID)
		if err := e.store.Update(ctx, esstore.IndexHunts, hit.ID, map[string]any{
			"status": model.HuntQueued,
		}); err != nil {
			logger.Warn("huntengine: failed to requeue abandoned hunt", "hunt_id", hit.ID, "error", err)
		}
	}
	return nil
}

// processHuntJobs picks up the next queued hunt if none is running,
// runs it to completion or pause, then loops until no queued hunt
// remains runnable (spec §4.3 step 7: "invoke processHuntJobs() to
// pick up next queued hunt").
func (e *Engine) processHuntJobs(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer e.running.Store(false)
	if e.metrics != nil {
		e.metrics.HuntRunning.Set(1)
		defer e.metrics.HuntRunning.Set(0)
	}

	for {
		hunt, ok, err := e.nextQueued(ctx)
		if err != nil {
			logger.Error("huntengine: failed to load next queued hunt", "error", err)
			return
		}
		if !ok {
			return
		}
		e.runHunt(ctx, hunt)
	}
}

func (e *Engine) nextQueued(ctx context.Context) (model.Hunt, bool, error) {
	page, err := e.store.Search(ctx, esstore.SearchOptions{
		Index:  esstore.IndexHunts,
		Filter: expression.Filter{"term": map[string]any{"status": model.HuntQueued}},
		Size:   1,
		Sort:   []map[string]string{{"created": "asc"}},
	})
	if err != nil {
		return model.Hunt{}, false, err
	}
	if len(page.Hits) == 0 {
		return model.Hunt{}, false, nil
	}
	var h model.Hunt
	if err := json.Unmarshal(page.Hits[0].Source, &h); err != nil {
		return model.Hunt{}, false, fmt.Errorf("decode queued hunt: %w", err)
	}
	h.ID = page.Hits[0].ID
	return h, true, nil
}
