// Package bridge serves a vnode engine over FUSE. It maps kernel node IDs
// and file handles to engine vnodes, converts attributes and directory
// listings to the kernel's formats, and makes sure every vnode reference
// it takes is released.
package bridge

import (
	"context"
	"fmt"
	"time"

	"bazil.org/fuse"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"vnfuse/internal/engine"
	"vnfuse/internal/logging"
	"vnfuse/internal/vfs"
	"vnfuse/internal/vnode"
)

// Options tunes the replies sent to the kernel.
type Options struct {
	// EntryTimeout is how long the kernel may cache a name lookup.
	EntryTimeout time.Duration
	// AttrTimeout is how long the kernel may cache attributes.
	AttrTimeout time.Duration
}

// Bridge handles FUSE requests against a mounted engine.
type Bridge struct {
	vfs     *vfs.VFS
	eng     engine.Engine
	handles *handleTable
	logger  *logging.Logger

	entryTimeout time.Duration
	attrTimeout  time.Duration
}

// New returns a bridge over v.
func New(v *vfs.VFS, opts Options) *Bridge {
	return &Bridge{
		vfs:          v,
		eng:          v.Engine(),
		handles:      newHandleTable(),
		logger:       logging.GetLogger().WithPrefix("bridge"),
		entryTimeout: opts.EntryTimeout,
		attrTimeout:  opts.AttrTimeout,
	}
}

// OpenHandles returns the number of open file handles.
func (b *Bridge) OpenHandles() int {
	return b.handles.len()
}

// node returns the held vnode for a kernel node ID.
func (b *Bridge) node(ctx context.Context, id fuse.NodeID) (*vnode.Vnode, error) {
	return b.eng.Get(ctx, toInternal(uint64(id)))
}

// Lookup resolves name in the directory parent.
func (b *Bridge) Lookup(ctx context.Context, parent fuse.NodeID, name string) (*fuse.LookupResponse, error) {
	if err := b.vfs.Enter(); err != nil {
		return nil, err
	}
	defer b.vfs.Exit()

	dvp, err := b.node(ctx, parent)
	if err != nil {
		return nil, err
	}
	defer vnode.Rele(dvp)

	vp, err := b.eng.Lookup(ctx, dvp, name)
	if err != nil {
		return nil, err
	}
	defer vnode.Rele(vp)

	attr, err := b.toExternalStat(ctx, vp)
	if err != nil {
		return nil, err
	}

	id, gen := b.eng.Ident(vp)
	return &fuse.LookupResponse{
		Node:       fuse.NodeID(toExternal(id)),
		Generation: gen,
		EntryValid: b.entryTimeout,
		Attr:       attr,
	}, nil
}

// Getattr returns the attributes of a node.
func (b *Bridge) Getattr(ctx context.Context, id fuse.NodeID) (*fuse.GetattrResponse, error) {
	if err := b.vfs.Enter(); err != nil {
		return nil, err
	}
	defer b.vfs.Exit()

	vp, err := b.node(ctx, id)
	if err != nil {
		return nil, err
	}
	defer vnode.Rele(vp)

	attr, err := b.toExternalStat(ctx, vp)
	if err != nil {
		return nil, err
	}
	return &fuse.GetattrResponse{Attr: attr}, nil
}

// Opendir opens a directory for reading.
func (b *Bridge) Opendir(ctx context.Context, id fuse.NodeID, flags fuse.OpenFlags) (*fuse.OpenResponse, error) {
	return b.open(ctx, id, flags, true)
}

// Open opens a non-directory node.
func (b *Bridge) Open(ctx context.Context, id fuse.NodeID, flags fuse.OpenFlags) (*fuse.OpenResponse, error) {
	return b.open(ctx, id, flags, false)
}

func (b *Bridge) open(ctx context.Context, id fuse.NodeID, flags fuse.OpenFlags, dir bool) (*fuse.OpenResponse, error) {
	if err := b.vfs.Enter(); err != nil {
		return nil, err
	}
	defer b.vfs.Exit()

	vp, err := b.node(ctx, id)
	if err != nil {
		return nil, err
	}

	isDir := vp.Type() == vnode.VDir
	switch {
	case dir && !isDir:
		vnode.Rele(vp)
		return nil, unix.ENOTDIR
	case !dir && isDir:
		vnode.Rele(vp)
		return nil, unix.EISDIR
	}

	ff := fileFlags(flags)
	cookie, err := b.eng.Open(ctx, vp, ff)
	if err != nil {
		vnode.Rele(vp)
		return nil, err
	}

	h := b.handles.add(&openFile{vp: vp, flags: ff, dir: dir, cookie: cookie})
	b.logger.Trace("open %d -> handle %d (dir=%v)", id, h, dir)
	return &fuse.OpenResponse{Handle: h}, nil
}

// Readdir fills at most size bytes of directory records starting at the
// cursor offset. Entries are fetched one at a time; enumeration stops when
// the directory is exhausted or the next record does not fit.
func (b *Bridge) Readdir(ctx context.Context, h fuse.HandleID, offset int64, size int) (*fuse.ReadResponse, error) {
	if err := b.vfs.Enter(); err != nil {
		return nil, err
	}
	defer b.vfs.Exit()

	of, err := b.handles.get(h)
	if err != nil {
		return nil, err
	}
	defer vnode.Rele(of.vp)

	if of.vp.Type() != vnode.VDir {
		return nil, unix.ENOTDIR
	}

	data := make([]byte, 0, size)
	scratch := make([]vnode.Dirent, 1)
	cursor := offset
	for {
		if ctx.Err() != nil {
			return nil, unix.EINTR
		}
		n, err := b.eng.Readdir(ctx, of.vp, of.cookie, cursor, scratch)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}

		d := scratch[0]
		if len(data)+DirentSize(d.Name) > size {
			break
		}
		data = AppendDirent(data, toExternal(d.Ino), d.Off, vnode.VTToDT(d.Type), d.Name)
		cursor = d.Off
	}
	return &fuse.ReadResponse{Data: data}, nil
}

// Read reads from an open file. Reads at or past EOF return short data.
func (b *Bridge) Read(ctx context.Context, h fuse.HandleID, offset int64, size int) (*fuse.ReadResponse, error) {
	if err := b.vfs.Enter(); err != nil {
		return nil, err
	}
	defer b.vfs.Exit()

	of, err := b.handles.get(h)
	if err != nil {
		return nil, err
	}
	defer vnode.Rele(of.vp)

	if of.dir {
		return nil, unix.EISDIR
	}

	buf := make([]byte, size)
	n, err := b.eng.Read(ctx, of.vp, buf, offset)
	if err != nil {
		return nil, err
	}
	return &fuse.ReadResponse{Data: buf[:n]}, nil
}

// Release closes an open file or directory. The vnode reference is
// dropped even when the engine's close fails; the close error is only
// reported for logging. Once the filesystem is torn down, Destroy owns
// every handle that was still open, so h is reported as unknown.
func (b *Bridge) Release(ctx context.Context, h fuse.HandleID) error {
	if err := b.vfs.Enter(); err != nil {
		return unix.EBADF
	}
	defer b.vfs.Exit()

	of, err := b.handles.remove(h)
	if err != nil {
		return err
	}
	defer vnode.Rele(of.vp)

	return b.eng.Close(ctx, of.vp, of.flags, of.cookie)
}

// Readlink returns the target of a symbolic link.
func (b *Bridge) Readlink(ctx context.Context, id fuse.NodeID) (string, error) {
	if err := b.vfs.Enter(); err != nil {
		return "", err
	}
	defer b.vfs.Exit()

	vp, err := b.node(ctx, id)
	if err != nil {
		return "", err
	}
	defer vnode.Rele(vp)

	return b.eng.Readlink(ctx, vp)
}

// Forget acknowledges the kernel dropping its lookups of a node. Lookups
// release their vnode before replying, so no reference is outstanding.
func (b *Bridge) Forget(ctx context.Context, id fuse.NodeID, n uint64) {
	b.logger.Trace("%s %d (%d lookups)", OpForget, id, n)
}

// Statfs is the statistics reply. The kernel's reply format has no room
// for Fsid, Flag and Favail; they are kept for logging.
type Statfs struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint32
}

// Response converts s to the kernel reply.
func (s Statfs) Response() *fuse.StatfsResponse {
	return &fuse.StatfsResponse{
		Blocks:  s.Blocks,
		Bfree:   s.Bfree,
		Bavail:  s.Bavail,
		Files:   s.Files,
		Ffree:   s.Ffree,
		Bsize:   s.Bsize,
		Namelen: s.Namemax,
		Frsize:  s.Frsize,
	}
}

// Statfs returns filesystem statistics. The block size reported is the
// engine's fragment size, matching what statvfs consumers expect from
// f_bsize.
func (b *Bridge) Statfs(ctx context.Context) (Statfs, error) {
	if err := b.vfs.Enter(); err != nil {
		return Statfs{}, err
	}
	defer b.vfs.Exit()

	sv, err := b.vfs.Statvfs(ctx)
	if err != nil {
		return Statfs{}, err
	}

	s := Statfs{
		Bsize:   clampUint32(sv.Frsize),
		Frsize:  clampUint32(sv.Frsize),
		Blocks:  sv.Blocks,
		Bfree:   sv.Bfree,
		Bavail:  sv.Bavail,
		Files:   sv.Files,
		Ffree:   sv.Ffree,
		Favail:  sv.Favail,
		Fsid:    sv.Fsid,
		Flag:    sv.Flag,
		Namemax: clampUint32(sv.Namemax),
	}
	b.logger.Debug("statfs: %s of %s available, fsid %#x",
		humanize.IBytes(sv.Bavail*sv.Frsize), humanize.IBytes(sv.Blocks*sv.Frsize), sv.Fsid)
	return s, nil
}

// Destroy tears the filesystem down when the kernel ends the session.
// Handles the kernel never released are closed first, then the engine is
// unmounted forcibly. An unmount failure leaves the engine in an unknown
// state and panics.
func (b *Bridge) Destroy(ctx context.Context) {
	if leaked := b.handles.drain(); len(leaked) > 0 {
		b.logger.Warn("destroy: closing %d handles the kernel did not release", len(leaked))
		for _, of := range leaked {
			if err := b.eng.Close(ctx, of.vp, of.flags, of.cookie); err != nil {
				b.logger.Debug("destroy: close %q: %v", of.vp.Path(), err)
			}
			vnode.Rele(of.vp)
		}
	}

	if err := b.vfs.Unmount(ctx, true); err != nil {
		panic(fmt.Sprintf("bridge: unmount on destroy failed: %v", err))
	}
}
