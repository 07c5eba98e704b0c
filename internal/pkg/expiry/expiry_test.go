package expiry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/endorses/packhound/internal/pkg/catalog"
	"github.com/endorses/packhound/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetBytes_Absolute(t *testing.T) {
	b, err := targetBytes("50", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 50_000_000_000, b)
}

func TestTargetBytes_Percent(t *testing.T) {
	b, err := targetBytes("10%", 1_000_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000_000, b)
}

func TestTargetBytes_InvalidValue(t *testing.T) {
	_, err := targetBytes("not-a-number", 1000)
	assert.Error(t, err)
}

func TestGroupByDevice_MergesSameDeviceDirs(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	groups := groupByDevice([]Target{
		{Dirs: []string{dirA}, FreeSpaceG: "50"},
		{Dirs: []string{dirB}, FreeSpaceG: "50"},
	})

	// both temp dirs live on the same filesystem in this environment,
	// so they should collapse into a single device group.
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{dirA, dirB}, groups[0].dirs)
}

func TestGroupByDevice_SkipsUnstatableDir(t *testing.T) {
	groups := groupByDevice([]Target{
		{Dirs: []string{"/does/not/exist/anywhere"}, FreeSpaceG: "50"},
	})
	assert.Empty(t, groups)
}

func TestEngine_DeleteFile_RemovesDiskAndCatalogRow(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.db")
	cat, err := catalog.Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	filePath := filepath.Join(dir, "node-a-1.pcap")
	require.NoError(t, os.WriteFile(filePath, make([]byte, 4096), 0o644))
	require.NoError(t, cat.Upsert("node-a", model.PcapFile{Num: 1, Name: "node-a-1.pcap", Size: 4096}, dir))

	e := New(cat, "node-a", nil, nil)
	freed, err := e.deleteFile(model.PcapFile{Node: "node-a", Num: 1, Size: 4096})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, freed)

	_, statErr := os.Stat(filePath)
	assert.True(t, os.IsNotExist(statErr))

	_, getErr := cat.Get("node-a", 1)
	assert.Error(t, getErr)
}

func TestEngine_DeleteFile_RefusesLockedFile(t *testing.T) {
	e := New(nil, "node-a", nil, nil)
	_, err := e.deleteFile(model.PcapFile{Node: "node-a", Num: 1, Locked: true})
	assert.Error(t, err)
}

func TestEngine_CountForDevice_SumsAcrossGroupDirs(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	dbPath := filepath.Join(dirA, "catalog.db")
	cat, err := catalog.Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.Upsert("node-a", model.PcapFile{Num: 1, Name: "a1.pcap"}, dirA))
	require.NoError(t, cat.Upsert("node-a", model.PcapFile{Num: 2, Name: "a2.pcap"}, dirA))
	require.NoError(t, cat.Upsert("node-a", model.PcapFile{Num: 3, Name: "b1.pcap"}, dirB))

	e := New(cat, "node-a", nil, nil)
	n, err := e.countForDevice(deviceGroup{dirs: []string{dirA, dirB}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestEngine_DeleteFile_MissingOnDiskStillRemovesCatalogRow(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.db")
	cat, err := catalog.Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	require.NoError(t, cat.Upsert("node-a", model.PcapFile{Num: 2, Name: "gone.pcap"}, dir))

	e := New(cat, "node-a", nil, nil)
	freed, err := e.deleteFile(model.PcapFile{Node: "node-a", Num: 2})
	require.NoError(t, err)
	assert.Zero(t, freed)

	_, getErr := cat.Get("node-a", 2)
	assert.Error(t, getErr)
}
