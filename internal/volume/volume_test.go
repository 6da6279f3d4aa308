package volume

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSpacer struct {
	free, used map[string]uint64
	fail       map[string]bool
}

func (f *fakeSpacer) Diskspace(path string) (uint64, uint64, error) {
	name := filepath.Base(path)
	if f.fail[name] {
		return 0, 0, errors.New("boom")
	}
	return f.free[name], f.used[name], nil
}

func TestDiscoverCreatesDefaultVolume(t *testing.T) {
	assert := assert.New(t)
	root, err := ioutil.TempDir("", "volume-discover")
	assert.NoError(err)
	defer os.RemoveAll(root)

	vols, err := Discover(root)
	assert.NoError(err)
	assert.Len(vols, 1)
	assert.Equal("vol0", vols[0].Name)
	assert.DirExists(filepath.Join(root, "vol0", "blob"))
	assert.DirExists(filepath.Join(root, "vol0", "tag"))
}

func TestDiscoverIgnoresNonVolDirs(t *testing.T) {
	assert := assert.New(t)
	root, err := ioutil.TempDir("", "volume-discover2")
	assert.NoError(err)
	defer os.RemoveAll(root)
	assert.NoError(os.Mkdir(filepath.Join(root, "vol1"), 0755))
	assert.NoError(os.Mkdir(filepath.Join(root, "notavolume"), 0755))

	vols, err := Discover(root)
	assert.NoError(err)
	assert.Len(vols, 1)
	assert.Equal("vol1", vols[0].Name)
}

func TestDiscoverSortsByName(t *testing.T) {
	assert := assert.New(t)
	root, err := ioutil.TempDir("", "volume-discover3")
	assert.NoError(err)
	defer os.RemoveAll(root)
	assert.NoError(os.Mkdir(filepath.Join(root, "vol2"), 0755))
	assert.NoError(os.Mkdir(filepath.Join(root, "vol0"), 0755))
	assert.NoError(os.Mkdir(filepath.Join(root, "vol1"), 0755))

	vols, err := Discover(root)
	assert.NoError(err)
	assert.Equal([]string{"vol0", "vol1", "vol2"}, []string{vols[0].Name, vols[1].Name, vols[2].Name})
}

func TestRefreshDropsFailedMeasurements(t *testing.T) {
	assert := assert.New(t)
	vols := []Volume{{Name: "vol0"}, {Name: "vol1"}}
	spacer := &fakeSpacer{
		free: map[string]uint64{"vol0": 100, "vol1": 200},
		used: map[string]uint64{"vol0": 1, "vol1": 2},
		fail: map[string]bool{"vol1": true},
	}
	refreshed := Refresh("/root", vols, spacer)
	assert.Len(refreshed, 1)
	assert.Equal("vol0", refreshed[0].Name)
	assert.EqualValues(100, refreshed[0].FreeBytes)
}

func TestChooseBestReturnsMaxFree(t *testing.T) {
	assert := assert.New(t)
	vols := []Volume{
		{Name: "vol0", FreeBytes: 100},
		{Name: "vol1", FreeBytes: 500},
		{Name: "vol2", FreeBytes: 200},
	}
	best := ChooseBest(vols)
	assert.Equal("vol1", best.Name)
	assert.EqualValues(500, best.FreeBytes)
}

func TestChooseBestPanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { ChooseBest(nil) })
}

func TestMergePrefersNewForMeasured(t *testing.T) {
	assert := assert.New(t)
	old := []Volume{
		{Name: "vol0", FreeBytes: 10},
		{Name: "vol1", FreeBytes: 20},
	}
	fresh := []Volume{
		{Name: "vol0", FreeBytes: 999},
	}
	merged := Merge(old, fresh)
	assert.Len(merged, 2)
	assert.Equal("vol0", merged[0].Name)
	assert.EqualValues(999, merged[0].FreeBytes, "new snapshot is authoritative for what it measured")
	assert.Equal("vol1", merged[1].Name)
	assert.EqualValues(20, merged[1].FreeBytes, "old registry is authoritative for what new omitted")
}

func TestMergeAppendsVolumesOnlyInNew(t *testing.T) {
	assert := assert.New(t)
	old := []Volume{{Name: "vol0"}}
	fresh := []Volume{{Name: "vol0"}, {Name: "vol1", FreeBytes: 5}}
	merged := Merge(old, fresh)
	assert.Len(merged, 2)
	assert.Equal("vol1", merged[1].Name)
}

func TestTotalDiskspace(t *testing.T) {
	assert := assert.New(t)
	vols := []Volume{
		{Name: "vol0", FreeBytes: 10, UsedBytes: 1},
		{Name: "vol1", FreeBytes: 20, UsedBytes: 2},
	}
	free, used := TotalDiskspace(vols)
	assert.EqualValues(30, free)
	assert.EqualValues(3, used)
}
