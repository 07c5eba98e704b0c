// Package cronengine implements CronEngine (spec §4.4): a singleton,
// 60-second-tick scheduler that drains each enabled cron query's
// lastPacket window, tagging or forwarding matched sessions. The
// forward action's bounded worker pool (15 total, 10 per node) is
// grounded on the teacher's li/delivery.DestinationManager connection
// pooling shape (internal/pkg/li/delivery/destination.go), repurposed
// here for plain HTTP POSTs instead of mTLS X2/X3 PDUs.
package cronengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/metrics"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/notify"
)

// tickInterval is the scheduler's steady-state poll period (spec
// §4.4 "Every 60 seconds").
const tickInterval = 60 * time.Second

// windowSpan is the maximum single-pass window width a query drains
// per dispatch before yielding to other queries (spec §4.4 step 2d:
// "singleEnd = min(endTime, lpValue + 86400)").
const windowSpan = 86400

// notifyCooldown is the minimum gap between alert notifications for
// one query (spec §4.4 step 2f: ">= 600s since lastNotified").
const notifyCooldown = 600

// UserResolver looks up the creator of a cron query, used to load
// their forced expression (spec §4.4 step 2a).
type UserResolver interface {
	Get(ctx context.Context, userID string) (model.User, error)
}

// Forwarder sends a matched session's packets to a named remote
// cluster (spec §4.4 step 2e "forward:<cluster>").
type Forwarder interface {
	Forward(ctx context.Context, cluster string, sessionID string) error
}

// Engine is the CronEngine singleton for this node.
type Engine struct {
	store     *esstore.Store
	users     UserResolver
	forwarder Forwarder
	hub       *notify.Hub
	metrics   *metrics.Registry

	running atomic.Bool
	wake    chan struct{}
}

// New builds an Engine over the given collaborators.
func New(store *esstore.Store, users UserResolver, forwarder Forwarder, hub *notify.Hub, m *metrics.Registry) *Engine {
	return &Engine{
		store:     store,
		users:     users,
		forwarder: forwarder,
		hub:       hub,
		metrics:   m,
		wake:      make(chan struct{}, 1),
	}
}

// Wake requests an immediate tick, e.g. right after a cron mutation
// (spec §4.4 "Every 60 seconds, and immediately after any cron
// mutation").
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run blocks, ticking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		case <-e.wake:
			e.tick(ctx)
		}
	}
}

// tick runs one full scheduler pass: repeat across all queries until
// none make progress, then clear the running flag (spec §4.4 step 3).
func (e *Engine) tick(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer e.running.Store(false)

	for {
		progressed, err := e.drainAll(ctx)
		if err != nil {
			logger.Error("cronengine: tick failed", "error", err)
			return
		}
		if !progressed {
			return
		}
	}
}

func (e *Engine) drainAll(ctx context.Context) (bool, error) {
	page, err := e.store.Search(ctx, esstore.SearchOptions{
		Index: esstore.IndexQueries,
		Size:  1000,
	})
	if err != nil {
		return false, fmt.Errorf("load cron queries: %w", err)
	}

	now := time.Now().Unix()
	const cronDelay = 60
	endTime := now - cronDelay

	anyProgress := false
	for _, hit := range page.Hits {
		var q model.CronQuery
		if err := json.Unmarshal(hit.Source, &q); err != nil {
			logger.Warn("cronengine: failed to decode query doc", "id", hit.ID, "error", err)
			continue
		}
		q.ID = hit.ID
		if !q.Enabled || q.LPValue >= endTime {
			continue
		}

		// drainQuery's bool return (singleEnd < endTime) needs no
		// special handling here: a query left mid-window is simply
		// revisited on tick's next drainAll pass, since anyProgress
		// staying true keeps that pass happening (spec §4.4 step 2g).
		if _, err := e.drainQuery(ctx, &q, endTime); err != nil {
			logger.Warn("cronengine: query tick failed", "query_id", q.ID, "error", err)
			if e.metrics != nil {
				e.metrics.CronErrors.WithLabelValues(q.ID).Inc()
			}
			continue
		}
		anyProgress = true
	}
	return anyProgress, nil
}

// drainQuery processes one sliced window of q and persists its new
// lpValue/lastRun/count (spec §4.4 step 2). It returns repeat=true if
// singleEnd < endTime, signalling the outer loop should give other
// queries a turn before resuming this one (step 2g).
func (e *Engine) drainQuery(ctx context.Context, q *model.CronQuery, endTime int64) (repeat bool, err error) {
	user, err := e.users.Get(ctx, q.Creator)
	if err != nil || !user.Enabled {
		return false, fmt.Errorf("resolve creator %q: %w", q.Creator, err)
	}

	compiler := expression.New(expression.BasicGrammar{})
	singleEnd := q.LPValue + windowSpan
	if singleEnd > endTime {
		singleEnd = endTime
	}

	filter, err := compiler.Compile(q.Query, user.Expression, q.LPValue*1000, singleEnd*1000, true)
	if err != nil {
		return false, fmt.Errorf("compile query expression: %w", err)
	}

	batchCount, err := e.dispatchAction(ctx, q, filter)
	if err != nil {
		return false, err
	}

	q.LPValue = singleEnd
	q.LastRun = time.Now().Unix()
	q.Count += batchCount
	update := map[string]any{
		"lpValue": q.LPValue,
		"lastRun": q.LastRun,
		"count":   q.Count,
	}

	if q.Notifier != "" && batchCount > 0 && time.Now().Unix()-q.LastNotified >= notifyCooldown {
		newMatchCount := q.Count - q.LastNotifiedCount
		if e.hub != nil {
			e.hub.NotifyCronAlert(q.ID, q.Name, newMatchCount)
		}
		q.LastNotified = time.Now().Unix()
		q.LastNotifiedCount = q.Count
		update["lastNotified"] = q.LastNotified
		update["lastNotifiedCount"] = q.LastNotifiedCount
	}

	if err := e.store.Update(ctx, esstore.IndexQueries, q.ID, update); err != nil {
		return false, fmt.Errorf("persist query progress: %w", err)
	}
	if e.metrics != nil {
		e.metrics.CronBatches.Inc()
	}
	return singleEnd < endTime, nil
}

// dispatchAction pages through the window's matching sessions and
// applies the configured action, returning the number of sessions
// processed (spec §4.4 step 2d-e).
func (e *Engine) dispatchAction(ctx context.Context, q *model.CronQuery, filter expression.Filter) (int64, error) {
	page, err := e.store.Scroll(ctx, esstore.SearchOptions{
		Index:       esstore.IndexSessions,
		Filter:      filter,
		Source:      []string{"node"},
		Size:        500,
		ScrollAlive: time.Minute,
	})
	if err != nil {
		return 0, fmt.Errorf("scroll query window: %w", err)
	}

	var total int64
	for {
		if len(page.Hits) == 0 {
			if page.ScrollID != "" {
				e.store.ClearScroll(ctx, page.ScrollID)
			}
			return total, nil
		}

		if err := e.applyAction(ctx, q, page.Hits); err != nil {
			if page.ScrollID != "" {
				e.store.ClearScroll(ctx, page.ScrollID)
			}
			return total, err
		}
		total += int64(len(page.Hits))

		if page.ScrollID == "" {
			return total, nil
		}
		next, err := e.store.ScrollNext(ctx, page.ScrollID, time.Minute)
		if err != nil {
			return total, fmt.Errorf("scroll window page: %w", err)
		}
		page = next
	}
}

func (e *Engine) applyAction(ctx context.Context, q *model.CronQuery, hits []esstore.Hit) error {
	if forwardCluster, ok := model.ParseForwardAction(q.Action); ok {
		return e.forwardBatch(ctx, forwardCluster, hits)
	}
	if q.Action == string(model.CronActionTag) {
		return e.tagBatch(ctx, q.Tags, hits)
	}
	return fmt.Errorf("unsupported cron action %q", q.Action)
}

// tagBatch appends the configured comma-delimited tags to every hit in
// the page via the session store's scripted compare-and-append (spec
// §4.4 step 2e "tag").
func (e *Engine) tagBatch(ctx context.Context, tags string, hits []esstore.Hit) error {
	tagList := splitTags(tags)
	if len(tagList) == 0 {
		return nil
	}
	for _, hit := range hits {
		if err := e.store.AddTagToSession(ctx, hit.ID, tagList); err != nil {
			return fmt.Errorf("tag session %s: %w", hit.ID, err)
		}
	}
	if e.metrics != nil {
		e.metrics.CronTagged.Add(float64(len(hits)))
	}
	return nil
}

func splitTags(tags string) []string {
	var out []string
	cur := ""
	for _, r := range tags {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
