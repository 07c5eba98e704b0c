package pcapstore

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dirResolver is a trivial PathResolver over a single directory, for
// tests that don't need DirPathResolver's per-node layout.
type dirResolver struct{ dir string }

func (r dirResolver) Path(node string, fileNum int64) (string, error) {
	return filepath.Join(r.dir, "capture.pcap"), nil
}

func writeTestPcap(t *testing.T, path string, payload []byte) int64 {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	// 24-byte global header, contents unused by these tests.
	_, err = f.Write(make([]byte, 24))
	require.NoError(t, err)

	recordOffset, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)

	hdr := make([]byte, RecordHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], 1700000000)
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(payload)))
	_, err = f.Write(hdr)
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)

	return recordOffset
}

func TestHandle_ReadPacket(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello packet")
	offset := writeTestPcap(t, filepath.Join(dir, "capture.pcap"), payload)

	store := New(dirResolver{dir: dir})
	h, err := store.Open(Locator{Node: "node-a", FileNum: 1, Mode: ModeRead})
	require.NoError(t, err)
	defer h.Release()

	pkt, err := h.ReadPacket(offset)
	require.NoError(t, err)
	assert.Equal(t, payload, pkt.Payload)
	assert.Equal(t, offset, pkt.AbsOffset)
	assert.Equal(t, len(payload), pkt.Timestamp.CaptureLength)
}

func TestStore_Open_RefCountsSameLocator(t *testing.T) {
	dir := t.TempDir()
	writeTestPcap(t, filepath.Join(dir, "capture.pcap"), []byte("x"))

	store := New(dirResolver{dir: dir})
	loc := Locator{Node: "node-a", FileNum: 1, Mode: ModeRead}

	h1, err := store.Open(loc)
	require.NoError(t, err)
	h2, err := store.Open(loc)
	require.NoError(t, err)
	assert.Same(t, h1, h2)

	store.mu.Lock()
	_, cached := store.handles[loc.key()]
	store.mu.Unlock()
	assert.True(t, cached)

	h1.Release()
	store.mu.Lock()
	_, stillCached := store.handles[loc.key()]
	store.mu.Unlock()
	assert.True(t, stillCached, "handle should survive until the last Release")

	h2.Release()
	store.mu.Lock()
	_, goneNow := store.handles[loc.key()]
	store.mu.Unlock()
	assert.False(t, goneNow)
}

func TestStore_Open_DistinctModesDistinctHandles(t *testing.T) {
	dir := t.TempDir()
	writeTestPcap(t, filepath.Join(dir, "capture.pcap"), []byte("x"))

	store := New(dirResolver{dir: dir})
	hRead, err := store.Open(Locator{Node: "node-a", FileNum: 1, Mode: ModeRead})
	require.NoError(t, err)
	defer hRead.Release()

	hWrite, err := store.Open(Locator{Node: "node-a", FileNum: 1, Mode: ModeReadWrite})
	require.NoError(t, err)
	defer hWrite.Release()

	assert.NotSame(t, hRead, hWrite)
}

func TestHandle_ScrubPacket_OverwritesPayload(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("sensitive-data!!")
	offset := writeTestPcap(t, filepath.Join(dir, "capture.pcap"), payload)

	store := New(dirResolver{dir: dir})
	h, err := store.Open(Locator{Node: "node-a", FileNum: 1, Mode: ModeReadWrite})
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.ScrubPacket(offset, false))

	pkt, err := h.ReadPacket(offset)
	require.NoError(t, err)
	// final pass is the repeated scrub text pattern
	assert.NotEqual(t, payload, pkt.Payload)
	assert.Contains(t, string(pkt.Payload), "Scrubbed!")
}

func TestHandle_ScrubPacket_AlsoHeader(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("x")
	offset := writeTestPcap(t, filepath.Join(dir, "capture.pcap"), payload)

	store := New(dirResolver{dir: dir})
	h, err := store.Open(Locator{Node: "node-a", FileNum: 1, Mode: ModeReadWrite})
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.ScrubPacket(offset, true))

	raw := make([]byte, RecordHeaderSize)
	_, err = h.file.ReadAt(raw, offset)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Scrubbed!")
}

func TestDirPathResolver_Path(t *testing.T) {
	r := DirPathResolver{Dirs: map[string]string{"node-a": "/data/node-a"}}

	p, err := r.Path("node-a", 7)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/node-a", "node-a-7.pcap"), p)

	_, err = r.Path("unknown-node", 1)
	assert.Error(t, err)
}
