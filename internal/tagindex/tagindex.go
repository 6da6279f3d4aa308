// Package tagindex maintains the in-memory tag-name -> (timestamp, volume)
// cache: newest-timestamp-wins, rebuilt by scanning the tag/ subtree of
// every volume, and mutated unconditionally on a successful commit.
package tagindex

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"ddfsnode/internal/layout"
	"ddfsnode/internal/volume"
)

// Entry identifies the volume currently holding the freshest known
// version of a tag, and that version's timestamp.
type Entry struct {
	Timestamp int64
	Volume    string
}

// Index is a tag-name -> Entry mapping. The zero value is not usable;
// construct with New or Build.
type Index map[string]Entry

// New returns an empty index.
func New() Index {
	return make(Index)
}

// Build walks <root>/<vol>/tag for every vol in vols, folding every
// non-partial object name into the returned index: on first occurrence
// of a tag name insert, on subsequent occurrence replace iff the
// incoming timestamp is strictly greater.
func Build(root string, vols []volume.Volume) Index {
	idx := New()
	for _, v := range vols {
		dir := filepath.Join(root, v.Name, "tag")
		err := layout.FoldFiles(dir, func(name, fullPath string) error {
			if layout.IsPartial(name) {
				return nil
			}
			tagName, ts, err := layout.UnpackObjName(name)
			if err != nil {
				logrus.WithError(err).WithField("file", fullPath).Warn("Skipping malformed tag object name")
				return nil
			}
			idx.fold(tagName, Entry{Timestamp: ts, Volume: v.Name})
			return nil
		})
		if err != nil {
			logrus.WithError(err).WithField("volume", v.Name).Warn("Tag directory walk failed, skipping this volume")
		}
	}
	return idx
}

// fold inserts entry for tagName if absent, or replaces the existing
// entry iff entry's timestamp is strictly greater.
func (idx Index) fold(tagName string, entry Entry) {
	existing, ok := idx[tagName]
	if !ok || entry.Timestamp > existing.Timestamp {
		idx[tagName] = entry
	}
}

// Lookup returns the entry for tagName, if any.
func (idx Index) Lookup(tagName string) (Entry, bool) {
	e, ok := idx[tagName]
	return e, ok
}

// Keys returns every tag name currently indexed, in no particular order.
func (idx Index) Keys() []string {
	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	return keys
}

// Replace unconditionally sets tagName's entry, as used by a successful
// commit (the caller has already verified newness via the rename).
func (idx Index) Replace(tagName string, entry Entry) {
	idx[tagName] = entry
}

// Clone returns a shallow copy; mutating the copy leaves idx unchanged.
func (idx Index) Clone() Index {
	out := make(Index, len(idx))
	for k, v := range idx {
		out[k] = v
	}
	return out
}
