package huntengine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/endorses/packhound/internal/pkg/esstore"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/peerproxy"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// packetSearcher holds the compiled predicate for a hunt's search
// string (spec §4.3 "packetSearch(session, options)" / searchType
// table). All five searchType regex variants compile down to RE2 via
// Go's regexp, which never backtracks catastrophically (spec §4.3
// "RE2 only (no catastrophic backtracking)").
type packetSearcher struct {
	searchType model.SearchType
	literal    string // lowercased for ascii, raw for asciicase/hex
	re         *regexp.Regexp
	huntType   model.HuntType
	size       int
}

// compilePacketSearch compiles a hunt's search pattern (spec §4.3 step
// 2). Failure is terminal ("same terminal paused" as expression compile
// failure).
func compilePacketSearch(hunt model.Hunt) (*packetSearcher, error) {
	ps := &packetSearcher{searchType: hunt.SearchType, huntType: hunt.Type, size: hunt.Size}
	switch hunt.SearchType {
	case model.SearchASCII:
		ps.literal = strings.ToLower(hunt.Search)
	case model.SearchASCIICase:
		ps.literal = hunt.Search
	case model.SearchHex:
		ps.literal = strings.ToLower(hunt.Search)
	case model.SearchRegex:
		re, err := regexp.Compile(hunt.Search)
		if err != nil {
			return nil, fmt.Errorf("compile regex search: %w", err)
		}
		ps.re = re
	case model.SearchHexRegex:
		re, err := regexp.Compile(hunt.Search)
		if err != nil {
			return nil, fmt.Errorf("compile hexregex search: %w", err)
		}
		ps.re = re
	default:
		return nil, fmt.Errorf("unsupported searchType %q", hunt.SearchType)
	}
	return ps, nil
}

// matches applies the compiled predicate to one packet payload (spec
// §4.3 searchType table).
func (ps *packetSearcher) matches(payload []byte) bool {
	switch ps.searchType {
	case model.SearchASCII:
		return strings.Contains(strings.ToLower(string(payload)), ps.literal)
	case model.SearchASCIICase:
		return strings.Contains(string(payload), ps.literal)
	case model.SearchHex:
		return strings.Contains(hex.EncodeToString(payload), ps.literal)
	case model.SearchRegex:
		return ps.re.Match(payload)
	case model.SearchHexRegex:
		return ps.re.MatchString(hex.EncodeToString(payload))
	default:
		return false
	}
}

// searchLocal runs packetSearch over a session's PCAP bytes on this
// node (spec §4.3 "packetSearch(session, options)"). It loads the
// session doc to get packetPos/fileId/fingerprint, then iterates
// packets in raw wire order or reassembled src/dst order.
func (e *Engine) searchLocal(ctx context.Context, sessionID string, ps *packetSearcher, wantSrc, wantDst bool) (bool, error) {
	var sess model.Session
	if err := e.store.Get(ctx, esstore.IndexSessions, sessionID, &sess); err != nil {
		return false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	srcIP, dstIP, _, _ := sess.Fingerprint()
	refs := sess.FileNumbers()

	var consumed int
	for _, ref := range refs {
		if ps.huntType == model.HuntTypeReassembled && ps.size > 0 && consumed >= ps.size {
			break
		}
		handle, err := e.pcap.Open(pcapstore.Locator{Node: sess.Node, FileNum: ref.FileNum, Mode: pcapstore.ModeRead})
		if err != nil {
			return false, fmt.Errorf("open pcap file %d: %w", ref.FileNum, err)
		}
		pkt, err := handle.ReadPacket(ref.Offset)
		handle.Release()
		if err != nil {
			return false, fmt.Errorf("read packet at offset %d: %w", ref.Offset, err)
		}

		if !packetDirectionAllowed(pkt, handle.LinkType(), srcIP, dstIP, wantSrc, wantDst) {
			continue
		}

		payload := pkt.Payload
		consumed += len(payload)
		if wantSrc && wantDst {
			// raw mode with both directions set: match on full buffer
			// rather than per-direction payload (spec §4.3 packetSearch
			// "raw" branch).
			payload = append(pkt.Header, pkt.Payload...)
		}
		if ps.matches(payload) {
			return true, nil
		}
	}
	return false, nil
}

// packetDirectionAllowed decides, for raw-mode searches where only
// one of src/dst is requested, whether a packet belongs to that
// direction by comparing its addressing against the session's
// fingerprint (spec §4.3 "else compare each packet's (src,dst,sport,
// dport) fingerprint against the session's fingerprint").
func packetDirectionAllowed(pkt pcapstore.Packet, linkType layers.LinkType, srcIP, dstIP string, wantSrc, wantDst bool) bool {
	if wantSrc && wantDst {
		return true
	}
	if !wantSrc && !wantDst {
		return true
	}
	isClientToServer := classifyDirection(pkt, linkType, srcIP, dstIP)
	if wantSrc {
		return isClientToServer
	}
	return !isClientToServer
}

// classifyDirection is a best-effort direction classifier over the raw
// packet bytes; a packet whose network-layer addressing cannot be
// matched to the session's fingerprint defaults to "client to server"
// so a single-direction filter degrades to "include everything" rather
// than silently dropping packets.
func classifyDirection(pkt pcapstore.Packet, linkType layers.LinkType, srcIP, dstIP string) bool {
	packet := gopacket.NewPacket(pkt.Payload, linkType, gopacket.Default)
	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return true
	}
	flow := netLayer.NetworkFlow()
	src, dst := flow.Src().String(), flow.Dst().String()
	if src == srcIP && dst == dstIP {
		return true
	}
	if src == dstIP && dst == srcIP {
		return false
	}
	return true
}

// searchRemote dispatches the per-session hunt RPC to the owning peer
// node (spec §4.3 step 5, §6.2).
func (e *Engine) searchRemote(ctx context.Context, node, huntID, sessionID string) (bool, error) {
	resp, err := e.proxy.Do(ctx, node, peerproxy.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/hunt/%s/remote/%s", node, huntID, sessionID),
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read remote hunt response: %w", err)
	}
	var out struct {
		Matched bool   `json:"matched"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decode remote hunt response: %w", err)
	}
	if out.Error != "" {
		return false, fmt.Errorf("remote hunt error: %s", out.Error)
	}
	return out.Matched, nil
}
