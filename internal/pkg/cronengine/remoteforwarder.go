package cronengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerauth"
	"github.com/endorses/packhound/internal/pkg/wire"
)

// RemoteForwarder implements Forwarder by framing a session's SPI and
// PCAP bytes per spec §6.1 and POSTing them to the target cluster's
// `/api/sessions/receive` endpoint.
type RemoteForwarder struct {
	store      *esstore.Store
	pcap       *pcapstore.Store
	nodeName   string
	clusters   map[string]model.RemoteCluster
	httpClient *http.Client
}

// NewRemoteForwarder builds a RemoteForwarder routing through the
// configured remote-clusters map (spec §6.5 `remote-clusters`).
func NewRemoteForwarder(store *esstore.Store, pcap *pcapstore.Store, nodeName string, clusters map[string]model.RemoteCluster) *RemoteForwarder {
	return &RemoteForwarder{
		store:      store,
		pcap:       pcap,
		nodeName:   nodeName,
		clusters:   clusters,
		httpClient: &http.Client{Timeout: 20 * time.Minute},
	}
}

// Forward loads sessionID's SPI and packet bytes, frames them per spec
// §6.1, and POSTs the frame to targetCluster.
func (f *RemoteForwarder) Forward(ctx context.Context, targetCluster, sessionID string) error {
	cluster, ok := f.clusters[targetCluster]
	if !ok {
		return fmt.Errorf("unknown remote cluster %q", targetCluster)
	}

	var sess model.Session
	if err := f.store.Get(ctx, esstore.IndexSessions, sessionID, &sess); err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	pcapBytes, rewrittenPos, err := f.collectPacketBytes(sess)
	if err != nil {
		return fmt.Errorf("collect packet bytes for %s: %w", sessionID, err)
	}

	spiCopy := sess
	spiCopy.PacketPos = rewrittenPos
	spiCopy.FileID = []int64{0}
	spiJSON, err := json.Marshal(spiCopy)
	if err != nil {
		return fmt.Errorf("marshal SPI for %s: %w", sessionID, err)
	}

	frame, err := wire.EncodeBytes(wire.Frame{SPIJSON: spiJSON, Pcap: pcapBytes})
	if err != nil {
		return fmt.Errorf("frame session %s: %w", sessionID, err)
	}

	saveID := wire.SaveID(f.nodeName, time.Now())
	url := fmt.Sprintf("%s/api/sessions/receive?saveId=%s", cluster.URL, saveID)

	token, err := peerauth.Sign(cluster.ServerSecret, "", "/api/sessions/receive")
	if err != nil {
		return fmt.Errorf("sign forward token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-moloch-auth", token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward session %s to %s: %w", sessionID, targetCluster, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("forward session %s to %s: status %s", sessionID, targetCluster, resp.Status)
	}
	return nil
}

// collectPacketBytes reads every packet record referenced by the
// session's packetPos/fileId pairs and concatenates them behind a
// fresh pcap global header, returning packetPos rewritten to offsets
// within that single concatenated buffer (spec §6.1: "session doc with
// packetPos rewritten to local offsets").
func (f *RemoteForwarder) collectPacketBytes(sess model.Session) ([]byte, []int64, error) {
	var buf bytes.Buffer
	buf.Write(globalHeader())

	var rewritten []int64
	for _, ref := range sess.FileNumbers() {
		handle, err := f.pcap.Open(pcapstore.Locator{Node: sess.Node, FileNum: ref.FileNum, Mode: pcapstore.ModeRead})
		if err != nil {
			return nil, nil, err
		}
		pkt, err := handle.ReadPacket(ref.Offset)
		handle.Release()
		if err != nil {
			return nil, nil, err
		}

		rewritten = append(rewritten, int64(buf.Len()))
		buf.Write(pkt.Header)
		buf.Write(pkt.Payload)
	}
	return buf.Bytes(), rewritten, nil
}

// globalHeader writes the 24-byte pcap global header (magic, version,
// timezone, sigfigs, snaplen, network) with a generic Ethernet
// linktype; the receiving node's PcapStore reads it the same way
// pcapgo.Reader does (spec §6.1 "pcapHeader (24 bytes global pcap
// header)").
func globalHeader() []byte {
	hdr := make([]byte, wire.GlobalHeaderSize)
	put32 := func(off int, v uint32) {
		hdr[off] = byte(v)
		hdr[off+1] = byte(v >> 8)
		hdr[off+2] = byte(v >> 16)
		hdr[off+3] = byte(v >> 24)
	}
	put16 := func(off int, v uint16) {
		hdr[off] = byte(v)
		hdr[off+1] = byte(v >> 8)
	}
	put32(0, 0xa1b2c3d4) // magic
	put16(4, 2)          // version major
	put16(6, 4)          // version minor
	put32(8, 0)          // thiszone
	put32(12, 0)         // sigfigs
	put32(16, 65535)     // snaplen
	put32(20, 1)         // network: LINKTYPE_ETHERNET
	return hdr
}
