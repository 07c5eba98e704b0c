package httpfront

import (
	"encoding/json"
	"net/http"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/google/uuid"
)

// listQueries returns every cron query (spec §4.4, §8 scenario 3/4).
func (f *Front) listQueries(w http.ResponseWriter, r *http.Request, user authUser) {
	page, err := f.store.Search(r.Context(), esstore.SearchOptions{
		Index: esstore.IndexQueries,
		Size:  1000,
		Sort:  []map[string]string{{"name": "asc"}},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queries := make([]model.CronQuery, 0, len(page.Hits))
	for _, hit := range page.Hits {
		var q model.CronQuery
		if err := json.Unmarshal(hit.Source, &q); err != nil {
			continue
		}
		q.ID = hit.ID
		queries = append(queries, q)
	}
	writeJSON(w, http.StatusOK, queries)
}

// createQueryRequest is the body of POST /queries.
type createQueryRequest struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Tags     string `json:"tags,omitempty"`
	Action   string `json:"action"`
	Enabled  bool   `json:"enabled"`
	Notifier string `json:"notifier,omitempty"`
}

// createQuery validates the expression eagerly, same discipline as
// createHunt, then wakes CronEngine so the new query is picked up
// without waiting for its next 60s tick (spec §4.4 "immediately after
// any cron mutation").
func (f *Front) createQuery(w http.ResponseWriter, r *http.Request, user authUser) {
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if req.Name == "" || req.Query == "" {
		writeError(w, http.StatusForbidden, "name and query are required")
		return
	}
	if _, err := expression.New(expression.BasicGrammar{}).Compile(req.Query, user.Expression, 0, 0, false); err != nil {
		writeError(w, http.StatusForbidden, "invalid expression: "+err.Error())
		return
	}

	q := model.CronQuery{
		ID:       uuid.NewString(),
		Creator:  user.UserID,
		Enabled:  req.Enabled,
		Name:     req.Name,
		Query:    req.Query,
		Tags:     req.Tags,
		Action:   req.Action,
		Notifier: req.Notifier,
	}
	if err := f.store.Index(r.Context(), esstore.IndexQueries, q.ID, q); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.cron.Wake()
	writeJSON(w, http.StatusOK, q)
}

func (f *Front) updateQuery(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if req.Query != "" {
		if _, err := expression.New(expression.BasicGrammar{}).Compile(req.Query, user.Expression, 0, 0, false); err != nil {
			writeError(w, http.StatusForbidden, "invalid expression: "+err.Error())
			return
		}
	}
	fields := map[string]any{
		"name":     req.Name,
		"query":    req.Query,
		"tags":     req.Tags,
		"action":   req.Action,
		"enabled":  req.Enabled,
		"notifier": req.Notifier,
	}
	if err := f.store.Update(r.Context(), esstore.IndexQueries, id, fields); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.cron.Wake()
	writeJSON(w, http.StatusOK, nil)
}

func (f *Front) deleteQuery(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	if err := f.store.Delete(r.Context(), esstore.IndexQueries, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.cron.Wake()
	writeJSON(w, http.StatusOK, nil)
}
