package catalog

import (
	"path/filepath"
	"testing"

	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_UpsertAndGet(t *testing.T) {
	c := newTestCatalog(t)

	f := model.PcapFile{Num: 1, Name: "node-a-1.pcap", Size: 1024, Locked: false, First: 1000}
	require.NoError(t, c.Upsert("node-a", f, "/data/node-a"))

	got, err := c.Get("node-a", 1)
	require.NoError(t, err)
	assert.Equal(t, "node-a-1.pcap", got.Name)
	assert.EqualValues(t, 1024, got.Size)
}

func TestCatalog_Upsert_OverwritesExisting(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 1, Name: "a.pcap", Locked: false}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 1, Name: "a.pcap", Locked: true}, "/data"))

	got, err := c.Get("node-a", 1)
	require.NoError(t, err)
	assert.True(t, got.Locked)
}

func TestCatalog_Path(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 2, Name: "node-a-2.pcap"}, "/data/node-a"))

	p, err := c.Path("node-a", 2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/node-a", "node-a-2.pcap"), p)
}

func TestCatalog_Delete(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 3, Name: "x.pcap"}, "/data"))

	require.NoError(t, c.Delete("node-a", 3))

	_, err := c.Get("node-a", 3)
	assert.Error(t, err)
}

func TestCatalog_OldestUnlocked(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 1, Name: "a.pcap", First: 300, Locked: false}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 2, Name: "b.pcap", First: 100, Locked: false}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 3, Name: "c.pcap", First: 200, Locked: true}, "/data"))

	rows, err := c.OldestUnlocked([]string{"node-a"}, []string{"/data"}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b.pcap", rows[0].Name) // oldest first
	assert.Equal(t, "a.pcap", rows[1].Name)
}

func TestCatalog_CountForDir(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 1, Name: "a.pcap"}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 2, Name: "b.pcap"}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 3, Name: "c.pcap"}, "/other"))

	n, err := c.CountForDir("/data")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCatalog_Dirs(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 1, Name: "a.pcap"}, "/data"))
	require.NoError(t, c.Upsert("node-a", model.PcapFile{Num: 2, Name: "b.pcap"}, "/other"))

	dirs, err := c.Dirs([]string{"node-a"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/data", "/other"}, dirs)
}
