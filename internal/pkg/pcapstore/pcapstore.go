// Package pcapstore implements PcapStore (spec §2, §4.2): reference
// counted, mode-and-node-and-file-keyed handles onto locally stored
// PCAP files, packet decode by absolute byte offset, and the three-pass
// scrub overwrite. Grounded on the teacher's pcapgo usage in
// internal/pkg/pcapwriter and internal/pkg/pcap for record-header
// layout and gopacket/pcapgo wiring.
package pcapstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// RecordHeaderSize is the size of a pcap per-packet record header
// (ts_sec, ts_usec, incl_len, orig_len; spec §4.2's "16-byte record
// header").
const RecordHeaderSize = 16

// Mode selects whether a Handle is opened for reading or for the
// read-write scrub path. The two modes use distinct cache keys (spec
// §4.2, §5: "the cache key write* is distinct from the default read
// key") so a writer never shares a *os.File with concurrent readers.
type Mode string

const (
	ModeRead      Mode = "read"
	ModeReadWrite Mode = "write"
)

// Packet is a decoded packet record: its wire header plus payload.
type Packet struct {
	Timestamp   gopacket.CaptureInfo
	Header      []byte // raw 16-byte record header
	Payload     []byte
	AbsOffset   int64 // absolute byte offset of this record's header
}

// Locator names a PCAP file opened through this store.
type Locator struct {
	Node    string
	FileNum int64
	Mode    Mode
}

func (l Locator) key() string {
	return string(l.Mode) + "|" + l.Node + "|" + fmt.Sprint(l.FileNum)
}

// Handle is a reference-counted open PCAP file.
type Handle struct {
	store *Store
	loc   Locator
	path  string

	mu   sync.Mutex
	file *os.File
	refs int
}

// PathResolver maps a (node, fileNum) to an absolute filesystem path.
// In production this is backed by internal/pkg/catalog's local PcapFile
// cache; tests may supply a trivial function.
type PathResolver interface {
	Path(node string, fileNum int64) (string, error)
}

// Store is the PcapStore singleton for one process: it caches open
// Handles keyed by (mode, node, fileNum) (spec §4.2, §5).
type Store struct {
	resolver PathResolver

	mu      sync.Mutex
	handles map[string]*Handle
}

// New builds a Store resolving file paths through resolver.
func New(resolver PathResolver) *Store {
	return &Store{resolver: resolver, handles: make(map[string]*Handle)}
}

// Open returns a reference-counted Handle for (mode, node, fileNum),
// opening the underlying file on first reference and reusing the
// cached os.File on subsequent opens (spec §4.2 "open(mode, node,
// fileNum)").
func (s *Store) Open(loc Locator) (*Handle, error) {
	key := loc.key()

	s.mu.Lock()
	if h, ok := s.handles[key]; ok {
		h.mu.Lock()
		h.refs++
		h.mu.Unlock()
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	path, err := s.resolver.Path(loc.Node, loc.FileNum)
	if err != nil {
		return nil, fmt.Errorf("resolve pcap path for node=%s file=%d: %w", loc.Node, loc.FileNum, err)
	}

	flag := os.O_RDONLY
	if loc.Mode == ModeReadWrite {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pcap %s: %w", path, err)
	}

	h := &Handle{store: s, loc: loc, path: path, file: f, refs: 1}

	s.mu.Lock()
	if existing, ok := s.handles[key]; ok {
		// Lost the race; reuse the winner and close our own fd.
		existing.mu.Lock()
		existing.refs++
		existing.mu.Unlock()
		s.mu.Unlock()
		f.Close()
		return existing, nil
	}
	s.handles[key] = h
	s.mu.Unlock()

	return h, nil
}

// Release decrements the handle's refcount, closing the underlying file
// once it reaches zero.
func (h *Handle) Release() {
	h.mu.Lock()
	h.refs--
	remaining := h.refs
	h.mu.Unlock()

	if remaining > 0 {
		return
	}

	h.store.mu.Lock()
	if h.store.handles[h.loc.key()] == h {
		delete(h.store.handles, h.loc.key())
	}
	h.store.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
}

// ReadPacket locates and decodes the record at absolute offset (spec
// §4.2 "readPacket(handle, offset) -> bytes"). offset points at the
// record header, matching Session.PacketPos semantics (model.FileID).
func (h *Handle) ReadPacket(offset int64) (Packet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hdr := make([]byte, RecordHeaderSize)
	if _, err := h.file.ReadAt(hdr, offset); err != nil {
		return Packet{}, fmt.Errorf("read record header at %d: %w", offset, err)
	}
	inclLen := binary.LittleEndian.Uint32(hdr[8:12])
	origLen := binary.LittleEndian.Uint32(hdr[12:16])

	payload := make([]byte, inclLen)
	if _, err := h.file.ReadAt(payload, offset+RecordHeaderSize); err != nil {
		return Packet{}, fmt.Errorf("read payload at %d (%d bytes): %w", offset+RecordHeaderSize, inclLen, err)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     decodeTimestamp(hdr),
		CaptureLength: int(inclLen),
		Length:        int(origLen),
	}

	return Packet{Timestamp: ci, Header: hdr, Payload: payload, AbsOffset: offset}, nil
}

// Fill buffers for the three-pass scrub (spec §4.2 "Three passes are
// applied using fill buffers 0x00, 0x01, and the ASCII string
// 'Scrubbed! Hoot! ' repeated").
var scrubPattern = []byte("Scrubbed! Hoot! ")

func fillBuffers(n int) [3][]byte {
	zero := make([]byte, n)
	one := make([]byte, n)
	for i := range one {
		one[i] = 0x01
	}
	text := make([]byte, n)
	for i := range text {
		text[i] = scrubPattern[i%len(scrubPattern)]
	}
	return [3][]byte{zero, one, text}
}

// ScrubPacket overwrites the packet payload (and, if alsoHeader, the
// 16-byte record header) at offset with three fixed fill passes (spec
// §4.2 "scrubPacket"). No fsync is issued between or after passes: the
// spec explicitly calls this "a fixed three-pass overwrite with no
// sync-after-write guarantee".
func (h *Handle) ScrubPacket(offset int64, alsoHeader bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hdr := make([]byte, RecordHeaderSize)
	if _, err := h.file.ReadAt(hdr, offset); err != nil {
		return fmt.Errorf("read record header at %d: %w", offset, err)
	}
	inclLen := int(binary.LittleEndian.Uint32(hdr[8:12]))

	payloadOff := offset + RecordHeaderSize
	passes := fillBuffers(inclLen)
	for _, buf := range passes {
		if _, err := h.file.WriteAt(buf, payloadOff); err != nil {
			return fmt.Errorf("scrub payload at %d: %w", payloadOff, err)
		}
	}

	if alsoHeader {
		hdrPasses := fillBuffers(RecordHeaderSize)
		for _, buf := range hdrPasses {
			if _, err := h.file.WriteAt(buf, offset); err != nil {
				return fmt.Errorf("scrub header at %d: %w", offset, err)
			}
		}
	}
	return nil
}

// OpenReader returns a pcapgo.Reader positioned after the global
// header, for sequential whole-file decode (used by packetSearch's raw
// and reassembled modes, which walk records in order rather than by
// individual absolute offset).
func (h *Handle) OpenReader() (*pcapgo.Reader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("seek pcap start: %w", err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(h.file))
	if err != nil {
		return nil, fmt.Errorf("parse pcap global header: %w", err)
	}
	return r, nil
}

// LinkType reports the file's configured link layer, used by
// packetSearch to decode each record's Ethernet/IP/TCP headers for
// fingerprint classification.
func (h *Handle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func decodeTimestamp(hdr []byte) time.Time {
	sec := binary.LittleEndian.Uint32(hdr[0:4])
	usec := binary.LittleEndian.Uint32(hdr[4:8])
	return time.Unix(int64(sec), int64(usec)*1000)
}

// DirPathResolver resolves paths as <dir>/<node>-<fileNum>.pcap under a
// per-node base directory map, the layout the teacher's own local
// capture writer uses (internal/pkg/pcapwriter).
type DirPathResolver struct {
	Dirs map[string]string // node -> base directory
}

func (r DirPathResolver) Path(node string, fileNum int64) (string, error) {
	dir, ok := r.Dirs[node]
	if !ok {
		return "", fmt.Errorf("no pcap directory configured for node %q", node)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.pcap", node, fileNum)), nil
}

// ScrubLogf is a package-level hook tests can swap to observe scrub
// activity without wiring a full logger.
var ScrubLogf = func(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}
