// Package coordinator implements the Node Coordinator: the single
// serialization point owning a node's volume registry, both admission
// queues, and its tag index. All state mutation happens on one goroutine
// draining a request channel, matching the single-threaded cooperative
// serializer the storage service's concurrency model requires.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"ddfsnode/internal/admission"
	"ddfsnode/internal/layout"
	"ddfsnode/internal/monitor"
	"ddfsnode/internal/tagindex"
	"ddfsnode/internal/volume"
)

// Errors returned on the tag write-then-commit path and tag reads.
var (
	ErrNotInCommitMap = errors.New("coordinator: this node is not named in the commit map")
	ErrReadFailed     = errors.New("coordinator: tag data read failed")
	ErrNotFound       = errors.New("coordinator: tag not found")
)

// Config parameterizes one coordinator instance. Every field corresponds
// to a key from the enumerated node configuration.
type Config struct {
	NodeName     string
	DDFSRoot     string
	PutMax       int
	GetMax       int
	QueueLength  int
	DiskInterval time.Duration
	TagInterval  time.Duration
}

// PutBlobResult is the outcome of a successful admitted put-blob action.
type PutBlobResult struct {
	Local string
	URL   string
}

// Node is the Node Coordinator. Construct with New; it starts its own
// serializer goroutine and background monitors immediately.
type Node struct {
	cfg    Config
	spacer layout.DiskSpacer

	putQueue *admission.Queue
	getQueue *admission.Queue

	reqCh     chan func()
	volUpdate chan []volume.Volume
	tagUpdate chan tagindex.Index
	cancelBg  context.CancelFunc

	// Owned exclusively by the serializer goroutine (run).
	volumes []volume.Volume
	tags    tagindex.Index
}

// New discovers the node's volumes, builds the initial tag index, and
// starts the coordinator goroutine plus both background monitors. A
// discovery failure is fatal to startup (root-unreadable), returned
// rather than panicking so cmd/ddfsnode can log and exit cleanly.
func New(cfg Config, spacer layout.DiskSpacer) (*Node, error) {
	discovered, err := volume.Discover(cfg.DDFSRoot)
	if err != nil {
		return nil, fmt.Errorf("coordinator: discover volumes: %w", err)
	}
	// Refresh may drop a volume whose very first disk-space probe failed
	// transiently; merge keeps it present at zero free/used rather than
	// losing it from the registry entirely.
	refreshed := volume.Refresh(cfg.DDFSRoot, discovered, spacer)
	vols := volume.Merge(discovered, refreshed)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		spacer:    spacer,
		putQueue:  admission.New(cfg.PutMax, cfg.QueueLength),
		getQueue:  admission.New(cfg.GetMax, cfg.QueueLength),
		reqCh:     make(chan func(), cfg.QueueLength+cfg.PutMax+cfg.GetMax+16),
		volUpdate: make(chan []volume.Volume, 4),
		tagUpdate: make(chan tagindex.Index, 4),
		cancelBg:  cancel,
		volumes:   vols,
		tags:      tagindex.Build(cfg.DDFSRoot, vols),
	}

	go n.run()
	go monitor.Loop(ctx, "diskspace", cfg.DiskInterval, n.pollDiskspace)
	go monitor.Loop(ctx, "tagindex", cfg.TagInterval, n.pollTagIndex)

	return n, nil
}

// Close stops the background monitors. The serializer goroutine is left
// running for any in-flight requests to drain; it has no explicit stop
// since nothing in this spec tears a node down mid-process.
func (n *Node) Close() {
	n.cancelBg()
}

// do submits fn to the serializer goroutine and blocks until it has run.
func (n *Node) do(fn func()) {
	done := make(chan struct{})
	n.reqCh <- func() {
		fn()
		close(done)
	}
	<-done
}

func (n *Node) run() {
	for {
		select {
		case fn, ok := <-n.reqCh:
			if !ok {
				return
			}
			fn()
		case vols, ok := <-n.volUpdate:
			if !ok {
				return
			}
			n.volumes = volume.Merge(n.volumes, vols)
		case idx, ok := <-n.tagUpdate:
			if !ok {
				return
			}
			n.tags = idx
		}
	}
}

func (n *Node) pollDiskspace() {
	fresh := volume.Refresh(n.cfg.DDFSRoot, n.snapshotVolumes(), n.spacer)
	select {
	case n.volUpdate <- fresh:
	default:
		logrus.Fatal("coordinator: volume update channel full, coordinator appears stalled")
	}
}

func (n *Node) pollTagIndex() {
	idx := tagindex.Build(n.cfg.DDFSRoot, n.snapshotVolumes())
	select {
	case n.tagUpdate <- idx:
	default:
		logrus.Fatal("coordinator: tag index update channel full, coordinator appears stalled")
	}
}

func (n *Node) snapshotVolumes() []volume.Volume {
	var out []volume.Volume
	n.do(func() {
		out = make([]volume.Volume, len(n.volumes))
		copy(out, n.volumes)
	})
	return out
}

// GetTags returns the current set of known tag names.
func (n *Node) GetTags() []string {
	var out []string
	n.do(func() { out = n.tags.Keys() })
	return out
}

// GetVols returns the current volume list and the node's ddfs_root.
func (n *Node) GetVols() ([]volume.Volume, string) {
	var out []volume.Volume
	n.do(func() {
		out = make([]volume.Volume, len(n.volumes))
		copy(out, n.volumes)
	})
	return out, n.cfg.DDFSRoot
}

// GetDiskspace returns summed free/used bytes across all volumes.
func (n *Node) GetDiskspace() (free, used uint64) {
	n.do(func() { free, used = volume.TotalDiskspace(n.volumes) })
	return free, used
}

// GetBlob admits a get-blob request to the get queue. On AcceptedRunning
// or AcceptedWaiting it returns that result immediately (NoReply in the
// caller's terms) and notify is called once the action actually runs,
// signaling the client it may proceed against the get listener. On Full,
// no action is scheduled.
func (n *Node) GetBlob(h admission.Handle, notify func()) admission.AdmitResult {
	var result admission.AdmitResult
	n.do(func() {
		result = n.getQueue.Add(h, notify)
	})
	return result
}

// PutBlob admits a put-blob request to the put queue. The admitted
// action chooses the best volume, derives (local, url) via HashDir,
// ensures the directory exists, and invokes reply with the outcome.
func (n *Node) PutBlob(h admission.Handle, blobName string, reply func(PutBlobResult, error)) admission.AdmitResult {
	var result admission.AdmitResult
	n.do(func() {
		root := n.cfg.DDFSRoot
		nodeName := n.cfg.NodeName
		result = n.putQueue.Add(h, func() {
			// The queue runs actions on their own goroutine, so reading the
			// volume list through the serializer here cannot deadlock.
			best := volume.ChooseBest(n.snapshotVolumes())
			local, url := layout.HashDir([]byte(blobName), nodeName, layout.KindBlob, root, best.Name)
			if err := layout.EnsureDir(local); err != nil {
				reply(PutBlobResult{Local: local}, err)
				return
			}
			reply(PutBlobResult{Local: local, URL: url}, nil)
		})
	})
	return result
}

// GetTagTimestamp looks up tagName in the tag index.
func (n *Node) GetTagTimestamp(tagName string) (tagindex.Entry, error) {
	var entry tagindex.Entry
	var ok bool
	n.do(func() { entry, ok = n.tags.Lookup(tagName) })
	if !ok {
		return tagindex.Entry{}, ErrNotFound
	}
	return entry, nil
}

// GetTagData spawns an isolated reader for the given (tag, entry),
// invoking reply with the bytes or ErrReadFailed once the read
// completes. It returns immediately without blocking the serializer.
func (n *Node) GetTagData(tag string, entry tagindex.Entry, reply func([]byte, error)) {
	root := n.cfg.DDFSRoot
	nodeName := n.cfg.NodeName
	go func() {
		dir, _ := layout.HashDir([]byte(tag), nodeName, layout.KindTag, root, entry.Volume)
		data, err := layout.ReadFile(filepath.Join(dir, tag))
		if err != nil {
			reply(nil, ErrReadFailed)
			return
		}
		reply(data, nil)
	}()
}

// PutTagData chooses the best volume, derives the partial path, and
// writes data under the "!partial." shadow name. No index mutation.
func (n *Node) PutTagData(tag string, data []byte) (volumeName string, err error) {
	n.do(func() {
		best := volume.ChooseBest(n.volumes)
		dir, _ := layout.HashDir([]byte(tag), n.cfg.NodeName, layout.KindTag, n.cfg.DDFSRoot, best.Name)
		path := filepath.Join(dir, layout.PartialName(tag))
		if werr := layout.WriteFile(path, data); werr != nil {
			err = werr
			return
		}
		volumeName = best.Name
	})
	return volumeName, err
}

// PutTagCommit renames tag's partial file to its final name on the
// volume named for this node in commitMap, and on success unconditionally
// updates the tag index. On any failure the index is left untouched.
func (n *Node) PutTagCommit(tag string, commitMap map[string]string) (url string, err error) {
	n.do(func() {
		vol, ok := commitMap[n.cfg.NodeName]
		if !ok {
			err = ErrNotInCommitMap
			return
		}
		dir, objURL := layout.HashDir([]byte(tag), n.cfg.NodeName, layout.KindTag, n.cfg.DDFSRoot, vol)
		src := filepath.Join(dir, layout.PartialName(tag))
		dst := filepath.Join(dir, tag)
		if rerr := layout.SafeRename(src, dst); rerr != nil {
			err = rerr
			return
		}
		tagName, ts, perr := layout.UnpackObjName(tag)
		if perr != nil {
			err = perr
			return
		}
		n.tags.Replace(tagName, tagindex.Entry{Timestamp: ts, Volume: vol})
		url = objURL
	})
	return url, err
}
