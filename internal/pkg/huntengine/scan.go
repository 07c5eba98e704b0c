package huntengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/model"
)

// runHunt drives one hunt from its current status to finished or
// paused (spec §4.3 "Scan algorithm").
func (e *Engine) runHunt(ctx context.Context, hunt model.Hunt) {
	searcher, err := compilePacketSearch(hunt)
	if err != nil {
		e.pauseUnrunnable(ctx, hunt, fmt.Errorf("compile packet search: %w", err))
		return
	}

	filter, err := e.compileHuntFilter(hunt)
	if err != nil {
		e.pauseUnrunnable(ctx, hunt, fmt.Errorf("compile hunt expression: %w", err))
		return
	}

	run := &huntRun{
		engine:   e,
		hunt:     hunt,
		searcher: searcher,
		filter:   filter,
	}
	run.hunt.Status = model.HuntRunning
	if run.hunt.Started == 0 {
		run.hunt.Started = time.Now().UnixMilli()
	}
	run.checkpoint(ctx, true)

	run.scroll(ctx)
	if run.paused {
		return
	}

	if len(run.hunt.FailedSessionIDs) > 0 {
		run.retryFailed(ctx)
		if run.paused {
			return
		}
		if len(run.hunt.FailedSessionIDs) > 0 {
			// Partial progress: the retry pass shrank but did not empty
			// the failed-session list. Leave the hunt running and
			// checkpointed; the loop repeats on the next scheduler tick
			// (spec §4.3 "Failed-session retry").
			return
		}
	}

	run.finish(ctx)
}

func (e *Engine) pauseUnrunnable(ctx context.Context, hunt model.Hunt, err error) {
	logger.Warn("huntengine: hunt unrunnable", "hunt_id", hunt.ID, "error", err)
	hunt.Status = model.HuntPaused
	hunt.Unrunnable = true
	hunt.Errors = append(hunt.Errors, err.Error())
	hunt.LastUpdated = time.Now().UnixMilli()
	if uerr := e.store.Update(ctx, esstore.IndexHunts, hunt.ID, map[string]any{
		"status":     hunt.Status,
		"unrunnable": true,
		"errors":     hunt.Errors,
		"lastUpdated": hunt.LastUpdated,
	}); uerr != nil {
		logger.Error("huntengine: failed to persist unrunnable hunt", "hunt_id", hunt.ID, "error", uerr)
	}
}

// compileHuntFilter builds the scroll filter for the main scan pass:
// lastPacket window bounded below by lastPacketTime-or-startTime,
// above by stopTime, intersected with the hunt's own expression (spec
// §4.3 step 3). The hunt's forced-expression (creator-scoped) is
// applied by the caller of HuntEngine when the hunt is created, so it
// already lives inside Query.Expression by the time it reaches here.
func (e *Engine) compileHuntFilter(hunt model.Hunt) (expression.Filter, error) {
	compiler := expression.New(expression.BasicGrammar{})
	lowerSec := hunt.Query.StartTime
	if hunt.LastPacketTime > 0 {
		lowerSec = hunt.LastPacketTime / 1000
	}
	return compiler.Compile(hunt.Query.Expression, "", lowerSec*1000, hunt.Query.StopTime*1000, false)
}

// huntRun holds the mutable per-hunt state for one runHunt invocation.
type huntRun struct {
	engine   *Engine
	hunt     model.Hunt
	searcher *packetSearcher
	filter   expression.Filter

	paused        bool
	lastCheckpoint time.Time

	mu sync.Mutex // protects counters touched by the bounded-concurrency workers
}

// scroll runs the main scan pass (spec §4.3 steps 3-7).
func (r *huntRun) scroll(ctx context.Context) {
	e := r.engine
	page, err := e.store.Scroll(ctx, esstore.SearchOptions{
		Index:       esstore.IndexSessions,
		Filter:      r.filter,
		Source:      []string{"lastPacket", "node", "huntId", "huntName", "fileId"},
		Size:        scrollPageSize,
		Sort:        []map[string]string{{"lastPacket": "asc"}},
		ScrollAlive: time.Minute,
	})
	if err != nil {
		r.failBackend(ctx, fmt.Errorf("initial scroll: %w", err))
		return
	}
	r.hunt.TotalSessions = page.Total + r.hunt.SearchedSessions
	first := true

	for {
		if len(page.Hits) == 0 {
			if page.ScrollID != "" {
				e.store.ClearScroll(ctx, page.ScrollID)
			}
			return
		}
		if !first {
			// total already set from the first page only (step 4).
		}
		first = false

		r.dispatchPage(ctx, page.Hits)
		if r.paused {
			if page.ScrollID != "" {
				e.store.ClearScroll(ctx, page.ScrollID)
			}
			return
		}

		if r.checkpointDue() {
			if r.checkpoint(ctx, false); r.paused {
				if page.ScrollID != "" {
					e.store.ClearScroll(ctx, page.ScrollID)
				}
				return
			}
		}

		if page.ScrollID == "" {
			return
		}
		next, err := e.store.ScrollNext(ctx, page.ScrollID, time.Minute)
		if err != nil {
			r.failBackend(ctx, fmt.Errorf("scroll next: %w", err))
			return
		}
		page = next
	}
}

func (r *huntRun) checkpointDue() bool {
	return time.Since(r.lastCheckpoint) >= checkpointInterval
}

// checkpoint persists {status, lastUpdated, searchedSessions,
// lastPacketTime} and reloads status to notice a pause request (spec
// §4.3 step 6, "Checkpointing"). force writes unconditionally
// (used when entering the run).
func (r *huntRun) checkpoint(ctx context.Context, force bool) {
	if !force && !r.checkpointDue() {
		return
	}
	e := r.engine
	r.hunt.LastUpdated = time.Now().UnixMilli()
	err := e.store.Update(ctx, esstore.IndexHunts, r.hunt.ID, map[string]any{
		"status":           r.hunt.Status,
		"lastUpdated":      r.hunt.LastUpdated,
		"searchedSessions": r.hunt.SearchedSessions,
		"matchedSessions":  r.hunt.MatchedSessions,
		"totalSessions":    r.hunt.TotalSessions,
		"lastPacketTime":   r.hunt.LastPacketTime,
		"failedSessionIds": r.hunt.FailedSessionIDs,
	})
	r.lastCheckpoint = time.Now()
	if err != nil {
		logger.Warn("huntengine: checkpoint write failed", "hunt_id", r.hunt.ID, "error", err)
		return
	}

	var fresh model.Hunt
	if gerr := e.store.Get(ctx, esstore.IndexHunts, r.hunt.ID, &fresh); gerr == nil && fresh.Status == model.HuntPaused {
		r.paused = true
	}
}

// sessionStub is the _source projection requested from the scan
// scroll (spec §4.3 step 3: `_source=[lastPacket,node,huntId,huntName,fileId]`).
type sessionStub struct {
	LastPacket int64   `json:"lastPacket"`
	Node       string  `json:"node"`
	FileID     []int64 `json:"fileId"`
}

// dispatchPage runs packetSearch (or the peer RPC) for every hit with
// bounded concurrency 3 (spec §4.3 step 5).
func (r *huntRun) dispatchPage(ctx context.Context, hits []esstore.Hit) {
	sem := make(chan struct{}, scanConcurrency)
	var wg sync.WaitGroup

	for _, hit := range hits {
		var stub sessionStub
		if err := json.Unmarshal(hit.Source, &stub); err != nil {
			r.addFailed(hit.ID)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(sessionID string, stub sessionStub) {
			defer wg.Done()
			defer func() { <-sem }()
			r.searchOne(ctx, sessionID, stub.Node, len(stub.FileID) > 0, stub.LastPacket)
		}(hit.ID, stub)
	}
	wg.Wait()
}

func (r *huntRun) searchOne(ctx context.Context, sessionID, node string, hasFile bool, lastPacket int64) {
	e := r.engine
	var matched bool
	var searchErr error

	switch {
	case !hasFile:
		matched = false
	case e.resolver.IsLocal(node):
		matched, searchErr = e.searchLocal(ctx, sessionID, r.searcher, r.hunt.Src, r.hunt.Dst)
	default:
		matched, searchErr = e.searchRemote(ctx, node, r.hunt.ID, sessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if searchErr != nil {
		r.addFailedLocked(sessionID)
		return
	}
	r.hunt.SearchedSessions++
	if lastPacket > r.hunt.LastPacketTime {
		r.hunt.LastPacketTime = lastPacket
	}
	if matched {
		r.hunt.MatchedSessions++
		if err := e.store.AddHuntToSession(ctx, sessionID, r.hunt.ID, r.hunt.Name); err != nil {
			logger.Warn("huntengine: failed to tag matched session", "session_id", sessionID, "hunt_id", r.hunt.ID, "error", err)
		}
	}
}

func (r *huntRun) addFailed(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addFailedLocked(sessionID)
}

func (r *huntRun) addFailedLocked(sessionID string) {
	r.hunt.FailedSessionIDs = append(r.hunt.FailedSessionIDs, sessionID)
}

// retryFailed re-attempts every session in FailedSessionIDs with the
// same bounded concurrency; a session that succeeds is removed from
// the list (spec §4.3 "Failed-session retry").
func (r *huntRun) retryFailed(ctx context.Context) {
	e := r.engine
	if len(r.hunt.FailedSessionIDs) > maxFailedSessions {
		r.permanentError(ctx, fmt.Errorf("failed-session list exceeded cap of %d", maxFailedSessions))
		return
	}

	pending := r.hunt.FailedSessionIDs
	r.hunt.FailedSessionIDs = nil

	var stillFailed []string
	var mu sync.Mutex
	sem := make(chan struct{}, scanConcurrency)
	var wg sync.WaitGroup

	for _, sessionID := range pending {
		sem <- struct{}{}
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			defer func() { <-sem }()

			var sess model.Session
			if err := e.store.Get(ctx, esstore.IndexSessions, sessionID, &sess); err != nil {
				mu.Lock()
				stillFailed = append(stillFailed, sessionID)
				mu.Unlock()
				return
			}

			var matched bool
			var err error
			if e.resolver.IsLocal(sess.Node) {
				matched, err = e.searchLocal(ctx, sessionID, r.searcher, r.hunt.Src, r.hunt.Dst)
			} else {
				matched, err = e.searchRemote(ctx, sess.Node, r.hunt.ID, sessionID)
			}
			if err != nil {
				mu.Lock()
				stillFailed = append(stillFailed, sessionID)
				mu.Unlock()
				return
			}

			mu.Lock()
			r.hunt.SearchedSessions++
			if matched {
				r.hunt.MatchedSessions++
			}
			mu.Unlock()
			if matched {
				if terr := e.store.AddHuntToSession(ctx, sessionID, r.hunt.ID, r.hunt.Name); terr != nil {
					logger.Warn("huntengine: failed to tag retried session", "session_id", sessionID, "error", terr)
				}
			}
		}(sessionID)
	}
	wg.Wait()

	madeProgress := len(stillFailed) < len(pending)
	r.hunt.FailedSessionIDs = stillFailed
	r.checkpoint(ctx, true)

	if len(stillFailed) > 0 && !madeProgress {
		r.permanentError(ctx, fmt.Errorf("unreachable sessions: retry pass made zero progress on %d sessions", len(stillFailed)))
	}
}

func (r *huntRun) permanentError(ctx context.Context, err error) {
	logger.Warn("huntengine: hunt paused on permanent error", "hunt_id", r.hunt.ID, "error", err)
	r.hunt.Status = model.HuntPaused
	r.hunt.Errors = append(r.hunt.Errors, err.Error())
	r.paused = true
	r.checkpoint(ctx, true)
}

func (r *huntRun) failBackend(ctx context.Context, err error) {
	logger.Error("huntengine: backend error, pausing hunt", "hunt_id", r.hunt.ID, "error", err)
	r.hunt.Status = model.HuntPaused
	r.hunt.Errors = append(r.hunt.Errors, err.Error())
	r.paused = true
	if uerr := r.engine.store.Update(ctx, esstore.IndexHunts, r.hunt.ID, map[string]any{
		"status": r.hunt.Status,
		"errors": r.hunt.Errors,
	}); uerr != nil {
		logger.Error("huntengine: failed to persist backend-error pause", "hunt_id", r.hunt.ID, "error", uerr)
	}
}

// finish marks the hunt finished, fires its notifier, and releases the
// singleton so processHuntJobs can pick up the next queued hunt (spec
// §4.3 step 7).
func (r *huntRun) finish(ctx context.Context) {
	e := r.engine
	r.hunt.Status = model.HuntFinished
	r.hunt.LastUpdated = time.Now().UnixMilli()
	if err := e.store.Update(ctx, esstore.IndexHunts, r.hunt.ID, map[string]any{
		"status":           r.hunt.Status,
		"lastUpdated":      r.hunt.LastUpdated,
		"searchedSessions": r.hunt.SearchedSessions,
		"matchedSessions":  r.hunt.MatchedSessions,
		"totalSessions":    r.hunt.TotalSessions,
		"failedSessionIds": r.hunt.FailedSessionIDs,
	}); err != nil {
		logger.Error("huntengine: failed to persist finished hunt", "hunt_id", r.hunt.ID, "error", err)
	}
	if e.metrics != nil {
		e.metrics.HuntSessionsSearched.Add(float64(r.hunt.SearchedSessions))
		e.metrics.HuntFailedSessions.Set(float64(len(r.hunt.FailedSessionIDs)))
	}
	if r.hunt.Notifier != "" && e.hub != nil {
		e.hub.NotifyHuntFinished(r.hunt.ID, r.hunt.Name)
	}
	logger.Info("huntengine: hunt finished", "hunt_id", r.hunt.ID, "searched", r.hunt.SearchedSessions, "matched", r.hunt.MatchedSessions)
}
