// Package volume maintains the node's Volume Registry: the ordered list of
// local storage volumes, their free/used bytes, and the free-space
// placement heuristic used to pick one for a new blob or tag.
package volume

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"ddfsnode/internal/layout"
)

// namePrefix is the regular prefix a directory under ddfs_root must carry
// to be treated as a volume. Any other entry is ignored.
const namePrefix = "vol"

// defaultVolume is auto-created when root has no existing volumes.
const defaultVolume = "vol0"

// Volume is one local directory subtree of the storage root.
type Volume struct {
	Name      string
	FreeBytes uint64
	UsedBytes uint64
}

// Discover lists root, selects entries named vol*, creates vol0 if none
// exist, ensures each volume's blob/ and tag/ subtrees exist, and returns
// the volumes sorted by name with free/used left at zero (a Refresh call
// populates them). Fails if root is not enumerable.
func Discover(root string) ([]Volume, error) {
	if err := layout.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("volume: ensure root %q: %w", root, err)
	}
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("volume: read root %q: %w", root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), namePrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		names = append(names, defaultVolume)
	}
	sort.Strings(names)

	vols := make([]Volume, 0, len(names))
	for _, name := range names {
		for _, kind := range []layout.Kind{layout.KindBlob, layout.KindTag} {
			if err := layout.EnsureDir(filepath.Join(root, name, kind.String())); err != nil {
				return nil, fmt.Errorf("volume: ensure %s/%s: %w", name, kind, err)
			}
		}
		vols = append(vols, Volume{Name: name})
	}
	return vols, nil
}

// Refresh queries free/used bytes for each volume directory via spacer,
// dropping entries whose query failed, preserving order.
func Refresh(root string, vols []Volume, spacer layout.DiskSpacer) []Volume {
	out := make([]Volume, 0, len(vols))
	for _, v := range vols {
		free, used, err := spacer.Diskspace(filepath.Join(root, v.Name))
		if err != nil {
			logrus.WithError(err).WithField("volume", v.Name).Warn("Diskspace query failed, skipping this cycle")
			continue
		}
		out = append(out, Volume{Name: v.Name, FreeBytes: free, UsedBytes: used})
	}
	return out
}

// ChooseBest returns the volume with the maximum free bytes. It panics if
// vols is empty; callers must ensure Discover has already produced at
// least the default volume.
func ChooseBest(vols []Volume) Volume {
	if len(vols) == 0 {
		panic("volume: ChooseBest called with no volumes")
	}
	best := vols[0]
	for _, v := range vols[1:] {
		if v.FreeBytes > best.FreeBytes {
			best = v
		}
	}
	return best
}

// Merge unions old and fresh by volume name, preferring fresh's values and
// presence for any volume fresh measured, while keeping old's entries (in
// old's order) for any volume fresh omitted. Volumes present only in
// fresh are appended, in fresh's order.
func Merge(old, fresh []Volume) []Volume {
	freshByName := make(map[string]Volume, len(fresh))
	for _, v := range fresh {
		freshByName[v.Name] = v
	}
	seen := make(map[string]bool, len(old))
	merged := make([]Volume, 0, len(old)+len(fresh))
	for _, v := range old {
		seen[v.Name] = true
		if nv, ok := freshByName[v.Name]; ok {
			merged = append(merged, nv)
		} else {
			merged = append(merged, v)
		}
	}
	for _, v := range fresh {
		if !seen[v.Name] {
			merged = append(merged, v)
		}
	}
	return merged
}

// TotalDiskspace sums free and used bytes across all volumes.
func TotalDiskspace(vols []Volume) (free, used uint64) {
	for _, v := range vols {
		free += v.FreeBytes
		used += v.UsedBytes
	}
	return free, used
}
