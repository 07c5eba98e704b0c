// Package esstore implements SessionStore (spec §2, §6.4): a typed
// facade over the session/hunts/queries/users/files/lookups/history
// Elasticsearch indices, built on github.com/elastic/go-elasticsearch/v8.
// Per spec §1 the Elasticsearch client itself is an external
// collaborator ("treated as a typed index/search/scroll/update
// facade"); this package is that facade.
package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/model"
)

// Index names (spec §6.4).
const (
	IndexSessions = "sessions2-*"
	IndexHunts    = "hunts"
	IndexQueries  = "queries"
	IndexUsers    = "users"
	IndexFiles    = "files"
	IndexLookups  = "lookups"
	IndexHistory  = "history"
)

// ErrNotFound is returned by Get when no document matches the id.
var ErrNotFound = fmt.Errorf("esstore: not found")

// Store wraps an Elasticsearch client with the typed operations the
// engines and HttpFront need: get, search, scroll, clearScroll,
// update, addTagToSession, addHuntToSession (spec §2).
type Store struct {
	es *elasticsearch.Client
}

// New wraps an already-configured go-elasticsearch client.
func New(es *elasticsearch.Client) *Store {
	return &Store{es: es}
}

// Get fetches a document by id from index, unmarshalling _source into
// out (spec §2 "get").
func (s *Store) Get(ctx context.Context, index, id string, out any) error {
	res, err := s.es.Get(index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("get %s/%s: %s", index, id, res.Status())
	}
	var env struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode get %s/%s: %w", index, id, err)
	}
	return json.Unmarshal(env.Source, out)
}

// SearchPage is one page of search/scroll hits.
type SearchPage struct {
	Total   int64
	ScrollID string
	Hits    []Hit
}

// Hit is one matched document with its id and raw source, letting
// callers unmarshal only the fields they need (spec §2's
// "_source=[...]" field-limited scans).
type Hit struct {
	ID     string
	Source json.RawMessage
}

// SearchOptions configures Search/Scroll (spec §4.3 step 3, §4.4 step
// 2d): the filter, requested source fields, page size, and sort.
type SearchOptions struct {
	Index       string
	Filter      expression.Filter
	Source      []string
	Size        int
	Sort        []map[string]string
	ScrollAlive time.Duration // non-zero opens a scroll context
}

// Search runs a single (non-scrolling) search (spec §2 "search").
func (s *Store) Search(ctx context.Context, opt SearchOptions) (SearchPage, error) {
	return s.searchOrScroll(ctx, opt)
}

// Scroll opens the first page of a scroll context (spec §2 "scroll",
// §4.3 step 3, §4.4 step 2d).
func (s *Store) Scroll(ctx context.Context, opt SearchOptions) (SearchPage, error) {
	if opt.ScrollAlive == 0 {
		opt.ScrollAlive = time.Minute
	}
	return s.searchOrScroll(ctx, opt)
}

// ScrollNext advances an open scroll context by one page (spec §2
// "scroll").
func (s *Store) ScrollNext(ctx context.Context, scrollID string, alive time.Duration) (SearchPage, error) {
	if alive == 0 {
		alive = time.Minute
	}
	body, _ := json.Marshal(map[string]any{
		"scroll":    fmt.Sprintf("%ds", int(alive.Seconds())),
		"scroll_id": scrollID,
	})
	res, err := s.es.Scroll(
		s.es.Scroll.WithContext(ctx),
		s.es.Scroll.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return SearchPage{}, fmt.Errorf("scroll next: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return SearchPage{}, fmt.Errorf("scroll next: %s", res.Status())
	}
	return decodeSearchResponse(res.Body)
}

// ClearScroll releases a scroll context early, e.g. when a hunt is
// paused mid-scan (spec §4.3 step 6, §5 "Cancellation").
func (s *Store) ClearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	res, err := s.es.ClearScroll(
		s.es.ClearScroll.WithContext(ctx),
		s.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return fmt.Errorf("clear scroll: %w", err)
	}
	defer res.Body.Close()
	return nil
}

func (s *Store) searchOrScroll(ctx context.Context, opt SearchOptions) (SearchPage, error) {
	body := map[string]any{
		"query": opt.Filter,
		"size":  opt.Size,
	}
	if len(opt.Source) > 0 {
		body["_source"] = opt.Source
	}
	if len(opt.Sort) > 0 {
		body["sort"] = opt.Sort
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return SearchPage{}, fmt.Errorf("marshal search body: %w", err)
	}

	searchOpts := []func(*esapi.SearchRequest){
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(opt.Index),
		s.es.Search.WithBody(bytes.NewReader(raw)),
	}
	if opt.ScrollAlive > 0 {
		searchOpts = append(searchOpts, s.es.Search.WithScroll(opt.ScrollAlive))
	}
	res, err := s.es.Search(searchOpts...)
	if err != nil {
		return SearchPage{}, fmt.Errorf("search %s: %w", opt.Index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return SearchPage{}, fmt.Errorf("search %s: %s", opt.Index, res.Status())
	}
	return decodeSearchResponse(res.Body)
}

func decodeSearchResponse(r io.Reader) (SearchPage, error) {
	var env struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return SearchPage{}, fmt.Errorf("decode search response: %w", err)
	}
	page := SearchPage{Total: env.Hits.Total.Value, ScrollID: env.ScrollID}
	for _, h := range env.Hits.Hits {
		page.Hits = append(page.Hits, Hit{ID: h.ID, Source: h.Source})
	}
	return page, nil
}

// Update applies a partial document update (spec §2 "update"), merging
// fields rather than replacing the document, preserving any keys this
// process does not model (spec §9 "dynamic config objects").
func (s *Store) Update(ctx context.Context, index, id string, fields map[string]any) error {
	body, err := json.Marshal(map[string]any{"doc": fields})
	if err != nil {
		return fmt.Errorf("marshal update body: %w", err)
	}
	res, err := s.es.Update(index, id, bytes.NewReader(body), s.es.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update %s/%s: %s", index, id, res.Status())
	}
	return nil
}

// Index creates or replaces a document wholesale, used for hunt/cron
// creation.
func (s *Store) Index(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	res, err := s.es.Index(index, bytes.NewReader(body),
		s.es.Index.WithContext(ctx), s.es.Index.WithDocumentID(id))
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", index, id, res.Status())
	}
	return nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, index, id string) error {
	res, err := s.es.Delete(index, id, s.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete %s/%s: %s", index, id, res.Status())
	}
	return nil
}

// sanitizeTag restricts a cron tag to the character class spec §4.4
// step 2.e requires: `[-a-zA-Z0-9_:,]`.
func sanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == ':', r == ',':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AddTagToSession appends tags to a session's tag set via Elasticsearch's
// scripted update, an atomic compare-and-append so concurrent tag
// additions from cron and user are both preserved (spec §5 "Session
// tag additions use the session store's compare-and-append"). Each tag
// is sanitized to the cron tag character class before being appended.
func (s *Store) AddTagToSession(ctx context.Context, sessionID string, tags []string) error {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if c := sanitizeTag(t); c != "" {
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	script := map[string]any{
		"script": map[string]any{
			"source": `
				if (ctx._source.tags == null) { ctx._source.tags = []; }
				for (t in params.tags) {
					if (!ctx._source.tags.contains(t)) { ctx._source.tags.add(t); }
				}
			`,
			"params": map[string]any{"tags": clean},
		},
	}
	body, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("marshal tag script: %w", err)
	}
	res, err := s.es.Update(IndexSessions, sessionID, bytes.NewReader(body), s.es.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("add tag to %s: %w", sessionID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("add tag to %s: %s", sessionID, res.Status())
	}
	return nil
}

// AddHuntToSession attaches {huntId, huntName} to a matched session
// document (spec §2 "addHuntToSession", §4.3's per-hit match
// attachment), using the same scripted-append discipline as tags so
// a session matched by two concurrently running hunts keeps both ids.
func (s *Store) AddHuntToSession(ctx context.Context, sessionID, huntID, huntName string) error {
	script := map[string]any{
		"script": map[string]any{
			"source": `
				if (ctx._source.huntId == null) { ctx._source.huntId = []; }
				if (ctx._source.huntName == null) { ctx._source.huntName = []; }
				if (!ctx._source.huntId.contains(params.huntId)) {
					ctx._source.huntId.add(params.huntId);
					ctx._source.huntName.add(params.huntName);
				}
			`,
			"params": map[string]any{"huntId": huntID, "huntName": huntName},
		},
	}
	body, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("marshal hunt-attach script: %w", err)
	}
	res, err := s.es.Update(IndexSessions, sessionID, bytes.NewReader(body), s.es.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("attach hunt to %s: %w", sessionID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("attach hunt to %s: %s", sessionID, res.Status())
	}
	return nil
}

// AppendHistory writes one HistoryLog row (spec §3). Passwords are
// already expected to have been scrubbed from Body by the caller
// before this is invoked (spec §3 HistoryLog "passwords scrubbed").
func (s *Store) AppendHistory(ctx context.Context, entry model.HistoryLog) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	res, err := s.es.Index(IndexHistory, bytes.NewReader(body), s.es.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		logger.Warn("history append failed", "status", res.Status())
	}
	return nil
}
