package cronengine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/endorses/packhound/internal/pkg/pcapstore"
	"github.com/endorses/packhound/internal/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type singleDirResolver struct{ dir string }

func (r singleDirResolver) Path(node string, fileNum int64) (string, error) {
	return filepath.Join(r.dir, "capture.pcap"), nil
}

func writePcapWithRecords(t *testing.T, path string, payloads [][]byte) []int64 {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(make([]byte, wire.GlobalHeaderSize))
	require.NoError(t, err)

	var offsets []int64
	for _, payload := range payloads {
		off, err := f.Seek(0, 1)
		require.NoError(t, err)
		offsets = append(offsets, off)

		hdr := make([]byte, pcapstore.RecordHeaderSize)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(payload)))
		_, err = f.Write(hdr)
		require.NoError(t, err)
		_, err = f.Write(payload)
		require.NoError(t, err)
	}
	return offsets
}

func TestGlobalHeader_MagicAndSize(t *testing.T) {
	hdr := globalHeader()
	require.Len(t, hdr, wire.GlobalHeaderSize)
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	assert.Equal(t, uint32(0xa1b2c3d4), magic)
}

func TestCollectPacketBytes_ConcatenatesAndRewritesOffsets(t *testing.T) {
	dir := t.TempDir()
	offsets := writePcapWithRecords(t, filepath.Join(dir, "capture.pcap"), [][]byte{
		[]byte("first"), []byte("second"),
	})

	store := pcapstore.New(singleDirResolver{dir: dir})
	f := &RemoteForwarder{pcap: store}

	sess := model.Session{
		Node:      "node-a",
		FileID:    []int64{1},
		PacketPos: offsets,
	}

	pcapBytes, rewritten, err := f.collectPacketBytes(sess)
	require.NoError(t, err)
	require.Len(t, rewritten, 2)

	// first record always starts right after the fresh global header
	assert.EqualValues(t, wire.GlobalHeaderSize, rewritten[0])
	assert.Greater(t, rewritten[1], rewritten[0])

	// concatenated buffer holds both payloads after their record headers
	assert.Contains(t, string(pcapBytes), "first")
	assert.Contains(t, string(pcapBytes), "second")
}
