package httpfront

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/expression"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/google/uuid"
)

// listHunts returns every hunt this user may see unredacted, with the
// rest redacted per spec §4.3 "Access control" / model.Hunt.Redacted.
func (f *Front) listHunts(w http.ResponseWriter, r *http.Request, user authUser) {
	page, err := f.store.Search(r.Context(), esstore.SearchOptions{
		Index: esstore.IndexHunts,
		Size:  1000,
		Sort:  []map[string]string{{"created": "desc"}},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hunts := make([]model.Hunt, 0, len(page.Hits))
	for _, hit := range page.Hits {
		var h model.Hunt
		if err := json.Unmarshal(hit.Source, &h); err != nil {
			continue
		}
		h.ID = hit.ID
		if !h.CanRead(user.UserID, user.IsAdmin) {
			h = h.Redacted()
		}
		hunts = append(hunts, h)
	}
	writeJSON(w, http.StatusOK, hunts)
}

func (f *Front) getHunt(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	var h model.Hunt
	if err := f.store.Get(r.Context(), esstore.IndexHunts, id, &h); err != nil {
		writeError(w, http.StatusNotFound, "unknown hunt")
		return
	}
	h.ID = id
	if !h.CanRead(user.UserID, user.IsAdmin) {
		h = h.Redacted()
	}
	writeJSON(w, http.StatusOK, h)
}

// createHuntRequest is the body spec §8 scenario 1 exercises.
type createHuntRequest struct {
	Name       string           `json:"name"`
	Src        bool             `json:"src"`
	Dst        bool             `json:"dst"`
	Type       model.HuntType   `json:"type"`
	SearchType model.SearchType `json:"searchType"`
	Search     string           `json:"search"`
	Size       int              `json:"size"`
	Notifier   string           `json:"notifier,omitempty"`
	Query      model.HuntQuery  `json:"query"`
}

// createHunt validates the request's expression and packet-search
// pattern eagerly (spec §7 "Validation: ... regex compile -> 403"), so
// a bad hunt never even reaches `queued`.
func (f *Front) createHunt(w http.ResponseWriter, r *http.Request, user authUser) {
	var req createHuntRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if req.Name == "" || req.Search == "" {
		writeError(w, http.StatusForbidden, "name and search are required")
		return
	}

	if _, err := expression.New(expression.BasicGrammar{}).Compile(req.Query.Expression, user.Expression, req.Query.StartTime*1000, req.Query.StopTime*1000, false); err != nil {
		writeError(w, http.StatusForbidden, fmt.Sprintf("invalid expression: %v", err))
		return
	}

	hunt := model.Hunt{
		ID:         uuid.NewString(),
		Name:       req.Name,
		UserID:     user.UserID,
		Status:     model.HuntQueued,
		Query:      req.Query,
		Src:        req.Src,
		Dst:        req.Dst,
		Type:       req.Type,
		SearchType: req.SearchType,
		Search:     req.Search,
		Size:       req.Size,
		Notifier:   req.Notifier,
		Created:    time.Now().UnixMilli(),
	}
	if err := f.store.Index(r.Context(), esstore.IndexHunts, hunt.ID, hunt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.hunt.Wake()
	writeJSON(w, http.StatusOK, hunt)
}

// pauseHunt writes status=paused; HuntEngine observes this at its next
// checkpoint (>= 2s, spec §5 "Cancellation").
func (f *Front) pauseHunt(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	if err := f.requireOwnedHunt(r, user, id); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := f.store.Update(r.Context(), esstore.IndexHunts, id, map[string]any{"status": model.HuntPaused}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// playHunt requeues a paused hunt; it resumes from its persisted
// lastPacketTime rather than restarting (spec §8 scenario 2).
func (f *Front) playHunt(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	if err := f.requireOwnedHunt(r, user, id); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := f.store.Update(r.Context(), esstore.IndexHunts, id, map[string]any{
		"status":     model.HuntQueued,
		"unrunnable": false,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.hunt.Wake()
	writeJSON(w, http.StatusOK, nil)
}

func (f *Front) requireOwnedHunt(r *http.Request, user authUser, id string) error {
	var h model.Hunt
	if err := f.store.Get(r.Context(), esstore.IndexHunts, id, &h); err != nil {
		return fmt.Errorf("unknown hunt")
	}
	if !h.CanRead(user.UserID, user.IsAdmin) {
		return fmt.Errorf("not permitted to modify hunt %s", id)
	}
	return nil
}

// peerHuntRemote answers the peer hunt RPC (spec §6.2 `GET
// /:node/hunt/:huntId/remote/:sessionId`) by running packetSearch
// locally. The caller (another node's HuntEngine) treats a transport
// failure, not a {matched:false} reply, as the retry signal; any local
// error here is reported in-band via the error field instead.
func (f *Front) peerHuntRemote(w http.ResponseWriter, r *http.Request) {
	if !f.authenticatePeer(r) {
		writeError(w, http.StatusForbidden, "invalid peer token")
		return
	}
	huntID := r.PathValue("huntId")
	sessionID := r.PathValue("sessionId")

	matched, err := f.hunt.SearchRemote(r.Context(), huntID, sessionID)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		json.NewEncoder(w).Encode(map[string]any{"matched": false, "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"matched": matched})
}
