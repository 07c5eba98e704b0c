// Package httpfront implements HttpFront (spec §4.6): the external
// HTTP surface — an authentication chain, a CSRF cookie, a permission
// gate per endpoint class, and the handler table that routes into
// SessionStore, PcapStore, HuntEngine, and CronEngine, proxying to the
// owning peer via PeerProxy when a request addresses a session this
// node does not own. Routed with the standard library's net/http
// method+wildcard ServeMux (no router dependency exists anywhere in
// the example pack; this is the one ambient-stack concern built
// directly on the standard library, justified in DESIGN.md), the way
// the teacher's own metrics server (internal/pkg/voip/monitoring) and
// notify.Hub are served.
package httpfront

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/endorses/packhound/internal/pkg/catalog"
	"github.com/endorses/packhound/internal/pkg/cluster"
	"github.com/endorses/packhound/internal/pkg/config"
	"github.com/endorses/packhound/internal/pkg/cronengine"
	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/huntengine"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/notify"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
)

// Front holds every collaborator HttpFront routes requests into.
type Front struct {
	cfg      *config.Watcher
	store    *esstore.Store
	pcap     *pcapstore.Store
	catalog  *catalog.Catalog
	resolver *cluster.Resolver
	proxy    *peerproxy.Proxy
	hunt     *huntengine.Engine
	cron     *cronengine.Engine
	hub      *notify.Hub

	users *userCache
}

// New builds a Front over the given collaborators.
func New(cfg *config.Watcher, store *esstore.Store, pcap *pcapstore.Store, cat *catalog.Catalog, resolver *cluster.Resolver, proxy *peerproxy.Proxy, hunt *huntengine.Engine, cron *cronengine.Engine, hub *notify.Hub) *Front {
	return &Front{
		cfg:      cfg,
		store:    store,
		pcap:     pcap,
		catalog:  cat,
		resolver: resolver,
		proxy:    proxy,
		hunt:     hunt,
		cron:     cron,
		hub:      hub,
		users:    newUserCache(store),
	}
}

// Mux builds the complete routing table (spec §4.6, §6.1-6.3).
func (f *Front) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Session-facing surface.
	mux.HandleFunc("GET /api/sessions", f.wrap(gateNone, f.listSessions))
	mux.HandleFunc("GET /api/sessions/{id}", f.wrap(gateNone, f.getSession))
	mux.HandleFunc("GET /api/sessions.pcap", f.wrap(gateDisablePcapDownload, f.bulkPcapDownload))
	mux.HandleFunc("GET /{node}/pcap/{sid}.pcap", f.wrap(gateDisablePcapDownload, f.sessionPcapDownload))
	mux.HandleFunc("POST /delete", f.wrap(gateRemoveEnabled, f.scrubSessions))

	// Peer-to-peer RPCs (spec §6.1-6.3): these are trusted via the peer
	// token, not the user-facing auth chain, so they are registered
	// outside f.wrap's gate check and authenticate via authenticatePeer
	// directly in their handlers.
	mux.HandleFunc("POST /api/sessions/receive", f.receiveSession)
	mux.HandleFunc("GET /{node}/hunt/{huntId}/remote/{sessionId}", f.peerHuntRemote)
	mux.HandleFunc("GET /{node}/delete/{what}/{sid}", f.peerScrub)

	// Hunt surface.
	mux.HandleFunc("GET /hunt", f.wrap(gatePacketSearch, f.listHunts))
	mux.HandleFunc("POST /hunt", f.wrap(gatePacketSearch, f.createHunt))
	mux.HandleFunc("GET /hunt/{id}", f.wrap(gatePacketSearch, f.getHunt))
	mux.HandleFunc("PUT /hunt/{id}/pause", f.wrap(gatePacketSearch, f.pauseHunt))
	mux.HandleFunc("PUT /hunt/{id}/play", f.wrap(gatePacketSearch, f.playHunt))

	// Cron surface.
	mux.HandleFunc("GET /queries", f.wrap(gateNone, f.listQueries))
	mux.HandleFunc("POST /queries", f.wrap(gateCreateEnabled, f.createQuery))
	mux.HandleFunc("PUT /queries/{id}", f.wrap(gateCreateEnabled, f.updateQuery))
	mux.HandleFunc("DELETE /queries/{id}", f.wrap(gateCreateEnabled, f.deleteQuery))

	// Stats/files.
	mux.HandleFunc("GET /stats", f.wrap(gateHideStats, f.stats))
	mux.HandleFunc("GET /files", f.wrap(gateHideFiles, f.files))

	// User admin.
	mux.HandleFunc("GET /user/list", f.wrap(gateCreateEnabled, f.listUsers))
	mux.HandleFunc("POST /user/create", f.wrap(gateCreateEnabled, f.createUser))
	mux.HandleFunc("POST /user/update", f.wrap(gateCreateEnabled, f.updateUser))
	mux.HandleFunc("POST /user/delete", f.wrap(gateCreateEnabled, f.deleteUser))

	// ES admin.
	mux.HandleFunc("GET /esadmin/{action}", f.wrap(f.esAdminGate, f.esAdmin))

	// Live push.
	mux.Handle("GET /ws", f.hub)

	return mux
}

// handlerFunc is the authenticated, permission-checked request shape
// every user-facing route gets: the resolved user plus the standard
// http.ResponseWriter/*http.Request pair.
type handlerFunc func(w http.ResponseWriter, r *http.Request, user authUser)

// wrap applies the auth chain, the permission gate, the
// X-Moloch-Response-Time header, and the JSON-envelope error
// translation every handler needs (spec §4.6, §7 "Propagation
// policy").
func (f *Front) wrap(gate gateFunc, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			w.Header().Set("X-Moloch-Response-Time", fmt.Sprintf("%d", time.Since(start).Microseconds()))
		}()

		cfg := f.cfg.Get()
		user, err := f.authenticate(r, cfg)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if !gate(user) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		h(w, r, user)
	}
}

// envelope is the uniform JSON response shape (spec §7 "Propagation
// policy": "{success:false, text}").
type envelope struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 300, Data: data}); err != nil {
		logger.Warn("httpfront: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Text: text})
}
