// Package hostfs is a read-only vnode engine that passes a host directory
// through. Node IDs come from the persistent state table so they survive
// remounts.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"vnfuse/internal/engine"
	"vnfuse/internal/logging"
	"vnfuse/internal/state"
	"vnfuse/internal/vnode"
)

// FirstNodeID is the first ID handed to a non-root node. IDs below it are
// reserved: 1 is the kernel's root alias and 3 the engine root.
const FirstNodeID uint64 = 4

const pathMax = 4096

// Config configures a passthrough engine.
type Config struct {
	// Source is the host directory to serve.
	Source string
	// State is the node-ID table.
	State *state.Manager
}

// FS is the passthrough engine.
type FS struct {
	source string
	state  *state.Manager
	fsid   uint64
	logger *logging.Logger

	mu        sync.Mutex
	nodes     map[uint64]*vnode.Vnode
	root      *vnode.Vnode
	unmounted bool
}

var _ engine.Engine = (*FS)(nil)

// hnode is the per-vnode state the engine attaches to each node.
type hnode struct {
	id  uint64
	gen uint64
	rel SourcePath
}

// dirStream is the per-open state of a directory: the listing snapshot
// its cursors index into.
type dirStream struct {
	mu       sync.Mutex
	parentID uint64
	listing  []listEntry
}

type listEntry struct {
	name string
	id   uint64
	typ  vnode.VType
}

// New opens the source directory and returns an engine serving it.
func New(cfg Config) (*FS, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("hostfs: no state table")
	}
	source, err := filepath.Abs(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source %s: %w", cfg.Source, err)
	}

	root, err := vnode.Open(source, vnode.FRead, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", source, err)
	}
	if root.Type() != vnode.VDir {
		vnode.Rele(root)
		return nil, fmt.Errorf("source %s: %w", source, unix.ENOTDIR)
	}

	var st unix.Stat_t
	if err := unix.Fstat(root.Fd(), &st); err != nil {
		vnode.Rele(root)
		return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
	}

	fs := &FS{
		source: source,
		state:  cfg.State,
		fsid:   uint64(st.Dev),
		logger: logging.GetLogger().WithPrefix("hostfs"),
		nodes:  make(map[uint64]*vnode.Vnode),
		root:   root,
	}
	root.SetFlag(vnode.VRoot)
	root.SetOps(fs)
	root.SetData(&hnode{id: engine.TrueRootID, gen: 1, rel: NewSourcePath("")})
	fs.nodes[engine.TrueRootID] = root

	fs.logger.Info("Serving %s", source)
	return fs, nil
}

func nodeOf(vp *vnode.Vnode) *hnode {
	n, ok := vp.Data().(*hnode)
	if !ok {
		panic(fmt.Sprintf("hostfs: vnode %q not owned by this engine", vp.Path()))
	}
	return n
}

// Source returns the served directory.
func (fs *FS) Source() string {
	return fs.source
}

// Referenced returns the number of in-core nodes, the root included.
func (fs *FS) Referenced() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.nodes)
}

// Root returns the held root vnode.
func (fs *FS) Root(ctx context.Context) (*vnode.Vnode, error) {
	vnode.Hold(fs.root)
	return fs.root, nil
}

// Get returns the held vnode for id, instantiating it from the state
// table when it is not in core.
func (fs *FS) Get(ctx context.Context, id uint64) (*vnode.Vnode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if vp, ok := fs.nodes[id]; ok {
		vnode.Hold(vp)
		return vp, nil
	}
	if id < FirstNodeID {
		return nil, unix.ESTALE
	}

	entry, err := fs.state.Lookup(id)
	if err != nil {
		fs.logger.Debug("get %d: %v", id, err)
		return nil, unix.ESTALE
	}
	vp, err := fs.instantiate(NewSourcePath(entry.Path))
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, unix.ESTALE
		}
		return nil, err
	}
	if n := nodeOf(vp); n.id != id {
		fs.release(vp)
		return nil, unix.ESTALE
	}
	return vp, nil
}

// Ident returns the node ID and generation of vp.
func (fs *FS) Ident(vp *vnode.Vnode) (uint64, uint64) {
	n := nodeOf(vp)
	return n.id, n.gen
}

// Lookup resolves name in dvp.
func (fs *FS) Lookup(ctx context.Context, dvp *vnode.Vnode, name string) (*vnode.Vnode, error) {
	if dvp.Type() != vnode.VDir {
		return nil, unix.ENOTDIR
	}
	dn := nodeOf(dvp)

	var rel SourcePath
	switch name {
	case ".":
		vnode.Hold(dvp)
		return dvp, nil
	case "..":
		rel = dn.rel.Parent()
	default:
		var err error
		if rel, err = dn.rel.Child(name); err != nil {
			return nil, err
		}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if rel.IsRoot() {
		vnode.Hold(fs.root)
		return fs.root, nil
	}
	return fs.instantiate(rel)
}

// instantiate returns the held vnode for rel. Called with fs.mu held.
func (fs *FS) instantiate(rel SourcePath) (*vnode.Vnode, error) {
	if fs.unmounted {
		return nil, unix.EIO
	}

	full := rel.FullPath(fs.source)
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, err
	}
	entry, err := fs.state.Assign(rel.String(), uint64(st.Ino))
	if err != nil {
		fs.logger.Error("%v", err)
		return nil, unix.EIO
	}

	if vp, ok := fs.nodes[entry.ID]; ok {
		if nodeOf(vp).gen == entry.Gen {
			vnode.Hold(vp)
			return vp, nil
		}
		// replaced on the host; the stale vnode lives on until released
		delete(fs.nodes, entry.ID)
	}

	var vp *vnode.Vnode
	switch typ := vnode.IFToVT(uint32(st.Mode)); typ {
	case vnode.VReg, vnode.VDir:
		if vp, err = vnode.OpenAt(rel.String(), vnode.FRead, 0, fs.root); err != nil {
			return nil, err
		}
	case vnode.VNon:
		return nil, unix.EIO
	default:
		vp = vnode.Alloc(vnode.KMSleep)
		vnode.Setup(vp, full, typ, st.Size)
	}

	vp.SetOps(fs)
	vp.SetData(&hnode{id: entry.ID, gen: entry.Gen, rel: rel})
	fs.nodes[entry.ID] = vp
	fs.logger.Trace("instantiated %q as node %d gen %d", rel, entry.ID, entry.Gen)
	return vp, nil
}

// Inactive runs when the last reference to vp is released. A vnode
// re-held by Get or Lookup in the meantime is only decremented.
func (fs *FS) Inactive(vp *vnode.Vnode) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.release(vp)
}

// release drops one reference with fs.mu held.
func (fs *FS) release(vp *vnode.Vnode) {
	if vp.Count() > 1 {
		vnode.Decrement(vp)
		return
	}
	n := nodeOf(vp)
	if fs.nodes[n.id] == vp {
		delete(fs.nodes, n.id)
	}
	vnode.Free(vp)
}

// Open admits a read-only open of a regular file or directory. A
// directory open returns the listing snapshot its Readdir calls page
// through.
func (fs *FS) Open(ctx context.Context, vp *vnode.Vnode, flags vnode.FileFlag) (any, error) {
	if flags&(vnode.FWrite|vnode.FTrunc|vnode.FAppend|vnode.FCreat) != 0 {
		return nil, unix.EROFS
	}
	switch vp.Type() {
	case vnode.VReg:
		return nil, nil
	case vnode.VDir:
		ds := &dirStream{}
		if err := fs.loadListing(nodeOf(vp), ds); err != nil {
			return nil, err
		}
		return ds, nil
	default:
		return nil, unix.ENXIO
	}
}

// Close ends an open. Descriptors belong to the vnode and snapshots to
// the open, so nothing is released here.
func (fs *FS) Close(ctx context.Context, vp *vnode.Vnode, flags vnode.FileFlag, cookie any) error {
	return nil
}

// Read reads from a regular file. Reads past EOF are short, not errors.
func (fs *FS) Read(ctx context.Context, vp *vnode.Vnode, buf []byte, off int64) (int, error) {
	switch vp.Type() {
	case vnode.VReg:
	case vnode.VDir:
		return 0, unix.EISDIR
	default:
		return 0, unix.EINVAL
	}
	if off < 0 {
		return 0, unix.EINVAL
	}

	resid := 0
	if err := vnode.Rdwr(vnode.UioRead, vp, buf, off, &resid); err != nil {
		return 0, err
	}
	return len(buf) - resid, nil
}

// Readdir fills entries from cursor. Cursor 0 is ".", 1 is "..", and n
// is entry n-2 of the sorted listing held by the open's cookie. The
// snapshot is retaken when enumeration restarts at 0, which only affects
// that open. Without a cookie every call lists the directory afresh.
func (fs *FS) Readdir(ctx context.Context, vp *vnode.Vnode, cookie any, cursor int64, entries []vnode.Dirent) (int, error) {
	if vp.Type() != vnode.VDir {
		return 0, unix.ENOTDIR
	}
	if cursor < 0 {
		return 0, unix.EINVAL
	}

	n := nodeOf(vp)
	ds, _ := cookie.(*dirStream)
	if ds == nil {
		ds = &dirStream{}
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if cursor == 0 || ds.listing == nil {
		if err := fs.loadListing(n, ds); err != nil {
			return 0, err
		}
	}

	filled := 0
	for filled < len(entries) {
		c := cursor + int64(filled)
		var d vnode.Dirent
		switch {
		case c == 0:
			d = vnode.Dirent{Ino: n.id, Type: vnode.VDir, Name: "."}
		case c == 1:
			d = vnode.Dirent{Ino: ds.parentID, Type: vnode.VDir, Name: ".."}
		default:
			idx := c - 2
			if idx >= int64(len(ds.listing)) {
				return filled, nil
			}
			e := ds.listing[idx]
			d = vnode.Dirent{Ino: e.id, Type: e.typ, Name: e.name}
		}
		d.Off = c + 1
		entries[filled] = d
		filled++
	}
	return filled, nil
}

// loadListing snapshots the directory contents of n into ds. Called with
// ds.mu held or before ds is shared.
func (fs *FS) loadListing(n *hnode, ds *dirStream) error {
	full := n.rel.FullPath(fs.source)
	dirents, err := os.ReadDir(full)
	if err != nil {
		return errnoOf(err)
	}

	listing := make([]listEntry, 0, len(dirents))
	for _, de := range dirents {
		rel, err := n.rel.Child(de.Name())
		if err != nil {
			continue
		}
		var st unix.Stat_t
		if err := unix.Lstat(rel.FullPath(fs.source), &st); err != nil {
			// removed since the directory was read
			continue
		}
		entry, err := fs.state.Assign(rel.String(), uint64(st.Ino))
		if err != nil {
			fs.logger.Error("%v", err)
			return unix.EIO
		}
		listing = append(listing, listEntry{
			name: de.Name(),
			id:   entry.ID,
			typ:  vnode.IFToVT(uint32(st.Mode)),
		})
	}

	parentID := engine.TrueRootID
	if parent := n.rel.Parent(); !n.rel.IsRoot() && !parent.IsRoot() {
		var st unix.Stat_t
		if err := unix.Lstat(parent.FullPath(fs.source), &st); err != nil {
			return err
		}
		entry, err := fs.state.Assign(parent.String(), uint64(st.Ino))
		if err != nil {
			fs.logger.Error("%v", err)
			return unix.EIO
		}
		parentID = entry.ID
	}

	ds.parentID = parentID
	ds.listing = listing
	fs.logger.Trace("listed %q: %d entries", n.rel, len(listing))
	return nil
}

// Readlink returns the target of a symbolic link.
func (fs *FS) Readlink(ctx context.Context, vp *vnode.Vnode) (string, error) {
	if vp.Type() != vnode.VLnk {
		return "", unix.EINVAL
	}
	buf := make([]byte, pathMax)
	n, err := unix.Readlink(vp.Path(), buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Getattr returns the attributes selected by mask.
func (fs *FS) Getattr(ctx context.Context, vp *vnode.Vnode, mask vnode.AttrMask) (vnode.VAttr, error) {
	var st unix.Stat_t
	var err error
	if fd := vp.Fd(); fd >= 0 {
		err = unix.Fstat(fd, &st)
	} else {
		err = unix.Lstat(vp.Path(), &st)
	}
	if err != nil {
		return vnode.VAttr{}, err
	}

	n := nodeOf(vp)
	return vnode.VAttr{
		Mask:    mask & vnode.ATAll,
		Type:    vnode.IFToVT(uint32(st.Mode)),
		Mode:    uint32(st.Mode) & 0o7777,
		UID:     st.Uid,
		GID:     st.Gid,
		FSID:    fs.fsid,
		NodeID:  n.id,
		Gen:     n.gen,
		Nlink:   uint32(st.Nlink),
		Size:    uint64(st.Size),
		Atime:   atime(&st),
		Mtime:   mtime(&st),
		Ctime:   ctime(&st),
		Rdev:    uint64(st.Rdev),
		Blksize: uint32(st.Blksize),
		Nblocks: uint64(st.Blocks),
	}, nil
}

// Statvfs reports the statistics of the filesystem holding the source.
func (fs *FS) Statvfs(ctx context.Context) (vnode.Statvfs, error) {
	sv, err := statvfs(fs.source)
	if err != nil {
		return vnode.Statvfs{}, err
	}
	sv.Fsid = fs.fsid
	return sv, nil
}

// Unmount drops the engine's root reference. Nodes other than the root
// that are still in core make the unmount fail with EBUSY unless force is
// set, in which case they are torn down.
func (fs *FS) Unmount(ctx context.Context, force bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.unmounted {
		return unix.EINVAL
	}

	busy := len(fs.nodes) - 1
	if busy > 0 {
		if !force {
			return unix.EBUSY
		}
		fs.logger.Warn("forced unmount with %d nodes still referenced", busy)
		for id, vp := range fs.nodes {
			if vp == fs.root {
				continue
			}
			delete(fs.nodes, id)
			vnode.Close(vp)
		}
	}

	fs.unmounted = true
	fs.release(fs.root)
	fs.logger.Info("Unmounted %s", fs.source)
	return nil
}

func errnoOf(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
