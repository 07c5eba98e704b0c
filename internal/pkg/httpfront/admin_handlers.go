package httpfront

import (
	"encoding/json"
	"net/http"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
)

// statsResponse is a per-node capture-health summary (spec §4.6 gate
// table's "stats" endpoint; the spec marks the node-statistics
// reporting surface itself as a non-goal, so this reports only what
// the running collaborators already track).
type statsResponse struct {
	Nodes []string `json:"nodes"`
}

func (f *Front) stats(w http.ResponseWriter, r *http.Request, user authUser) {
	writeJSON(w, http.StatusOK, statsResponse{Nodes: f.resolver.Nodes()})
}

// files lists the local node's cataloged pcap files (spec §4.6 gate
// table's "files" endpoint).
func (f *Front) files(w http.ResponseWriter, r *http.Request, user authUser) {
	dirs, err := f.catalog.Dirs([]string{f.resolver.NodeName()})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]model.PcapFile, 0)
	for _, dir := range dirs {
		rows, err := f.catalog.OldestUnlocked([]string{f.resolver.NodeName()}, []string{dir}, 10000)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, rows...)
	}
	writeJSON(w, http.StatusOK, out)
}

// listUsers, createUser, updateUser, and deleteUser implement the user
// admin surface gated by createEnabled (spec §4.6). Passwords are
// stored as HMAC digests via HashPassword, never in the clear.
func (f *Front) listUsers(w http.ResponseWriter, r *http.Request, user authUser) {
	page, err := f.store.Search(r.Context(), esstore.SearchOptions{
		Index: esstore.IndexUsers,
		Size:  1000,
		Sort:  []map[string]string{{"userId": "asc"}},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	users := make([]model.User, 0, len(page.Hits))
	for _, hit := range page.Hits {
		var u model.User
		if err := json.Unmarshal(hit.Source, &u); err != nil {
			continue
		}
		u.PassStore = ""
		users = append(users, u)
	}
	writeJSON(w, http.StatusOK, users)
}

type userRequest struct {
	UserID        string `json:"userId"`
	Password      string `json:"password,omitempty"`
	Enabled       bool   `json:"enabled"`
	CreateEnabled bool   `json:"createEnabled"`
	RemoveEnabled bool   `json:"removeEnabled"`
	PacketSearch  bool   `json:"packetSearch"`
	Admin         bool   `json:"admin"`
}

func (f *Front) createUser(w http.ResponseWriter, r *http.Request, user authUser) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusForbidden, "userId and password are required")
		return
	}
	cfg := f.cfg.Get()
	newUser := model.User{
		UserID:        req.UserID,
		Enabled:       req.Enabled,
		CreateEnabled: req.CreateEnabled,
		RemoveEnabled: req.RemoveEnabled,
		PacketSearch:  req.PacketSearch,
		Admin:         req.Admin,
		PassStore:     HashPassword(cfg.PasswordSecret, req.UserID, req.Password),
	}
	if err := f.store.Index(r.Context(), esstore.IndexUsers, newUser.UserID, newUser); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newUser)
}

func (f *Front) updateUser(w http.ResponseWriter, r *http.Request, user authUser) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusForbidden, "userId is required")
		return
	}
	fields := map[string]any{
		"enabled":       req.Enabled,
		"createEnabled": req.CreateEnabled,
		"removeEnabled": req.RemoveEnabled,
		"packetSearch":  req.PacketSearch,
		"admin":         req.Admin,
	}
	if req.Password != "" {
		cfg := f.cfg.Get()
		fields["passStore"] = HashPassword(cfg.PasswordSecret, req.UserID, req.Password)
	}
	if err := f.store.Update(r.Context(), esstore.IndexUsers, req.UserID, fields); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.users.invalidate(req.UserID)
	writeJSON(w, http.StatusOK, nil)
}

func (f *Front) deleteUser(w http.ResponseWriter, r *http.Request, user authUser) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}
	if err := f.store.Delete(r.Context(), esstore.IndexUsers, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.users.invalidate(req.UserID)
	writeJSON(w, http.StatusOK, nil)
}

// esAdmin is a contract-only stub (spec §5 "ESAdmin endpoints are not
// detailed"): it reports the gate passed and nothing more.
func (f *Front) esAdmin(w http.ResponseWriter, r *http.Request, user authUser) {
	writeJSON(w, http.StatusOK, map[string]string{"action": r.PathValue("action")})
}
