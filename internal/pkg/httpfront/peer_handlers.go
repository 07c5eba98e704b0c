package httpfront

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerauth"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
	"github.com/endorses/packhound/internal/pkg/wire"
)

// authenticatePeer checks the x-moloch-auth header against this node's
// serverSecret (spec §6.1-6.3 "Auth: x-moloch-auth header required",
// P3 "peer auth skew"). Node-to-node RPCs trust the signature alone;
// they do not carry a per-user identity.
func (f *Front) authenticatePeer(r *http.Request) bool {
	token := r.Header.Get(peerproxy.AuthHeader)
	if token == "" {
		return false
	}
	cfg := f.cfg.Get()
	_, err := peerauth.Verify(cfg.ServerSecret, token, r.URL.Path)
	return err == nil
}

// peerScrub answers the peer scrub RPC (spec §6.3 `GET
// /:node/delete/:whatToRemove/:sid`): it performs the scrub locally,
// since only the owning node can reach the session's PCAP bytes.
func (f *Front) peerScrub(w http.ResponseWriter, r *http.Request) {
	if !f.authenticatePeer(r) {
		writeError(w, http.StatusForbidden, "invalid peer token")
		return
	}
	what := r.PathValue("what")
	sid := r.PathValue("sid")

	if err := f.scrubOne(r.Context(), sid, what); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// receiveSession is the wire-format receiver for CronEngine's forward
// action and any interactive session-forward (spec §6.1 `POST
// /api/sessions/receive?saveId=<id>`). It decodes the frame, writes the
// pcap bytes to a fresh local file under this node's catalog, and
// indexes the SPI document with fileId/packetPos rewritten to the new
// file.
func (f *Front) receiveSession(w http.ResponseWriter, r *http.Request) {
	if !f.authenticatePeer(r) {
		writeError(w, http.StatusForbidden, "invalid peer token")
		return
	}
	defer r.Body.Close()

	frame, err := wire.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusForbidden, "malformed frame: "+err.Error())
		return
	}

	var sess model.Session
	if err := json.Unmarshal(frame.SPIJSON, &sess); err != nil {
		writeError(w, http.StatusForbidden, "malformed spi json: "+err.Error())
		return
	}

	nodeName := f.resolver.NodeName()
	fileNum := time.Now().UnixNano()
	path, perr := f.catalog.Path(nodeName, fileNum)
	if perr != nil {
		// Not yet cataloged: resolve via the configured receive
		// directory convention instead (node-fileNum.pcap under the
		// first configured pcapDir), then register it below.
		cfg := f.cfg.Get()
		if len(cfg.PcapDir) == 0 {
			writeError(w, http.StatusInternalServerError, "no pcapDir configured to receive forwarded sessions")
			return
		}
		resolver := pcapstore.DirPathResolver{Dirs: map[string]string{nodeName: cfg.PcapDir[0]}}
		path, err = resolver.Path(nodeName, fileNum)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if err := writePcapFile(path, frame.Pcap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := f.catalog.Upsert(nodeName, model.PcapFile{
		Node:  nodeName,
		Num:   fileNum,
		Name:  pathBase(path),
		Size:  int64(len(frame.Pcap)),
		First: sess.FirstPacket,
	}, pathDir(path)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess.Node = nodeName
	sess.FileID = []int64{fileNum}
	if sess.ID == "" {
		sess.ID = r.URL.Query().Get("saveId")
	}
	if err := f.store.Index(r.Context(), esstore.IndexSessions, sess.ID, sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}
