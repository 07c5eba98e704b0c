package httpfront

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
)

// listSessions runs a bare, unfiltered scan of the sessions index; a
// real deployment would compile the request's `expression` query
// parameter through internal/pkg/expression, the same compiler
// HuntEngine and CronEngine use (spec §2 ExpressionCompiler).
func (f *Front) listSessions(w http.ResponseWriter, r *http.Request, user authUser) {
	page, err := f.store.Search(r.Context(), esstore.SearchOptions{
		Index: esstore.IndexSessions,
		Size:  100,
		Sort:  []map[string]string{{"lastPacket": "desc"}},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessions := make([]model.Session, 0, len(page.Hits))
	for _, hit := range page.Hits {
		var s model.Session
		if err := json.Unmarshal(hit.Source, &s); err != nil {
			continue
		}
		s.ID = hit.ID
		sessions = append(sessions, s)
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (f *Front) getSession(w http.ResponseWriter, r *http.Request, user authUser) {
	id := r.PathValue("id")
	var s model.Session
	if err := f.store.Get(r.Context(), esstore.IndexSessions, id, &s); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	s.ID = id
	writeJSON(w, http.StatusOK, s)
}

// sessionPcapDownload serves one session's pcap bytes, proxying to the
// owning node when this process does not hold the file (spec §4.1
// "Data flow: HttpFront -> permission gate -> NodeResolver -> (local
// handler | PeerProxy -> peer HttpFront)", P7 "Ownership").
func (f *Front) sessionPcapDownload(w http.ResponseWriter, r *http.Request, user authUser) {
	node := r.PathValue("node")
	sid := r.PathValue("sid")

	if !f.resolver.IsLocal(node) {
		if err := f.proxy.Forward(r.Context(), w, node, peerproxy.Request{
			Method: http.MethodGet,
			Path:   r.URL.Path,
			UserID: user.UserID,
		}); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	var sess model.Session
	if err := f.store.Get(r.Context(), esstore.IndexSessions, sid, &sess); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pcap"`, sid))
	f.writeSessionPackets(w, sess)
}

// writeSessionPackets writes sess's own packet records, read straight
// from this node's local pcap store, with no surrounding pcap global
// header (callers that need one write it once up front).
func (f *Front) writeSessionPackets(w http.ResponseWriter, sess model.Session) {
	for _, ref := range sess.FileNumbers() {
		handle, err := f.pcap.Open(pcapstore.Locator{Node: sess.Node, FileNum: ref.FileNum, Mode: pcapstore.ModeRead})
		if err != nil {
			return
		}
		pkt, err := handle.ReadPacket(ref.Offset)
		handle.Release()
		if err != nil {
			return
		}
		w.Write(pkt.Header)
		w.Write(pkt.Payload)
	}
}

// bulkPcapDownload streams every session matching the current listing
// into one concatenated pcap, sharing sessionPcapDownload's per-session
// body-writing loop: sessions owned by this node are read straight from
// the local pcap store, sessions owned by a peer are fetched through
// PeerProxy and their body copied through verbatim (spec §4.6
// `/sessions.pcap*`).
func (f *Front) bulkPcapDownload(w http.ResponseWriter, r *http.Request, user authUser) {
	page, err := f.store.Search(r.Context(), esstore.SearchOptions{
		Index: esstore.IndexSessions,
		Size:  100,
		Sort:  []map[string]string{{"lastPacket": "desc"}},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.pcap"`)

	for _, hit := range page.Hits {
		var sess model.Session
		if err := json.Unmarshal(hit.Source, &sess); err != nil {
			continue
		}
		sess.ID = hit.ID

		if f.resolver.IsLocal(sess.Node) {
			f.writeSessionPackets(w, sess)
			continue
		}

		resp, err := f.proxy.Do(r.Context(), sess.Node, peerproxy.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/%s/pcap/%s.pcap", sess.Node, sess.ID),
			UserID: user.UserID,
		})
		if err != nil {
			continue
		}
		io.Copy(w, resp.Body)
		resp.Body.Close()
	}
}

// scrubRequest is the body of POST /delete (spec §8 scenario 6).
type scrubRequest struct {
	IDs        []string `json:"ids"`
	RemoveSPI  bool     `json:"removeSpi"`
	RemovePcap bool     `json:"removePcap"`
}

func (f *Front) scrubSessions(w http.ResponseWriter, r *http.Request, user authUser) {
	var req scrubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusForbidden, "invalid request body")
		return
	}

	what := "pcap"
	switch {
	case req.RemoveSPI && req.RemovePcap:
		what = "all"
	case req.RemoveSPI:
		what = "spi"
	}

	var failed []string
	for _, id := range req.IDs {
		if err := f.scrubID(r.Context(), id, what, user.UserID); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to scrub: %v", failed))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// scrubID scrubs one session, routing to its owning node via PeerProxy
// when this process does not own it (spec §6.3).
func (f *Front) scrubID(ctx context.Context, sid, what, userID string) error {
	var sess model.Session
	if err := f.store.Get(ctx, esstore.IndexSessions, sid, &sess); err != nil {
		return err
	}
	if f.resolver.IsLocal(sess.Node) {
		return f.scrubOne(ctx, sid, what)
	}
	resp, err := f.proxy.Do(ctx, sess.Node, peerproxy.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/delete/%s/%s", sess.Node, what, sid),
		UserID: userID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer scrub failed: %s", resp.Status)
	}
	return nil
}

// scrubOne performs the local three-pass overwrite and/or session
// document removal named by what (spec §4.2 "scrubPacket", §6.3, P5
// "Scrub idempotence").
func (f *Front) scrubOne(ctx context.Context, sid, what string) error {
	var sess model.Session
	if err := f.store.Get(ctx, esstore.IndexSessions, sid, &sess); err != nil {
		return err
	}

	if what == "pcap" || what == "all" {
		for _, ref := range sess.FileNumbers() {
			handle, err := f.pcap.Open(pcapstore.Locator{Node: sess.Node, FileNum: ref.FileNum, Mode: pcapstore.ModeReadWrite})
			if err != nil {
				return err
			}
			err = handle.ScrubPacket(ref.Offset, false)
			handle.Release()
			if err != nil {
				return err
			}
		}
	}

	if what == "spi" || what == "all" {
		return f.store.Delete(ctx, esstore.IndexSessions, sid)
	}

	return f.store.Update(ctx, esstore.IndexSessions, sid, map[string]any{
		"scrubby": "scrubbed",
		"scrubat": nowMillis(),
	})
}
