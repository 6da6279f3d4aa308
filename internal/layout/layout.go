// Package layout derives the on-disk paths for blobs and tags and provides
// the small set of filesystem primitives the node coordinator relies on:
// hash-directory placement, atomic rename, and directory-oriented folds.
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

// Kind selects which subtree of a volume an object belongs under.
type Kind int

const (
	KindBlob Kind = iota
	KindTag
)

func (k Kind) String() string {
	if k == KindBlob {
		return "blob"
	}
	return "tag"
}

// PartialPrefix marks a tag write that has not yet been committed.
const PartialPrefix = "!partial."

// hashDirDepth and hashDirWidth control how many nested directory levels
// are derived from an object's content hash, keeping any one directory's
// entry count bounded regardless of how many blobs/tags a volume holds.
const (
	hashDirDepth = 2
	hashDirWidth = 2
)

// HashDir deterministically maps an object's identity to a directory
// under <root>/<volume>/<kind>/, and the corresponding logical URL used
// to hand the location back to a put/get listener. It is a pure function
// of its inputs.
func HashDir(nameBytes []byte, nodeName string, kind Kind, root, volume string) (localDir, url string) {
	sum := sha256.Sum256(nameBytes)
	hexSum := hex.EncodeToString(sum[:])
	parts := make([]string, 0, hashDirDepth)
	for i := 0; i < hashDirDepth; i++ {
		parts = append(parts, hexSum[i*hashDirWidth:(i+1)*hashDirWidth])
	}
	localDir = filepath.Join(append([]string{root, volume, kind.String()}, parts...)...)
	url = fmt.Sprintf("ddfs://%s/%s/%s/%s", nodeName, volume, kind, strings.Join(parts, "/"))
	return localDir, url
}

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SafeRename replaces dst with the contents of src, then removes src. The
// contents reach dst through atomic.WriteFile (a temporary file renamed
// over dst), so dst is never seen half-written; it is a copy followed by
// a delete, not a single rename of src. It fails if src cannot be opened,
// if writing dst fails, or if src cannot be removed afterwards (dst is
// then already in place).
func SafeRename(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(dst, f); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Remove(src)
}

// WriteFile writes data to a fresh file at path, creating parent
// directories as needed.
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

// ReadFile reads the full contents of path.
func ReadFile(path string) ([]byte, error) {
	return ioutil.ReadFile(path)
}

// PackObjName encodes a (tagName, timestamp) pair into the on-disk object
// name "tag+timestamp".
func PackObjName(tagName string, timestamp int64) string {
	return fmt.Sprintf("%s+%d", tagName, timestamp)
}

// UnpackObjName decodes an on-disk object name back into its
// (tagName, timestamp) pair.
func UnpackObjName(encoded string) (tagName string, timestamp int64, err error) {
	i := strings.LastIndex(encoded, "+")
	if i < 0 {
		return "", 0, fmt.Errorf("layout: malformed object name %q", encoded)
	}
	ts, err := strconv.ParseInt(encoded[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("layout: malformed timestamp in %q: %w", encoded, err)
	}
	return encoded[:i], ts, nil
}

// IsPartial reports whether basename names a write-in-progress tag file.
func IsPartial(basename string) bool {
	return strings.HasPrefix(basename, "!")
}

// PartialName returns the shadow name a tag object is written under
// before it is committed.
func PartialName(objName string) string {
	return PartialPrefix + objName
}

// DiskSpacer measures free and used bytes for a directory. Production
// code supplies a platform-specific implementation (a statfs(2) call);
// this package only depends on the interface, treating disk-free
// measurement as an injected collaborator rather than something it
// derives itself.
type DiskSpacer interface {
	Diskspace(path string) (free, used uint64, err error)
}

// FoldFiles walks dir recursively (hash-directory placement nests files a
// few levels deep), invoking f once per regular file with its basename and
// full path. A missing dir is treated as "no files", not an error, since a
// freshly created volume has no tag/blob writes yet.
func FoldFiles(dir string, f func(name, fullPath string) error) error {
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return f(info.Name(), p)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
