// Package engine defines the contract between the FUSE bridge and the
// vnode filesystem engine it serves.
package engine

import (
	"context"

	"vnfuse/internal/vnode"
)

// TrueRootID is the node ID of the engine's root directory.
const TrueRootID uint64 = 3

// Engine is a synchronous, vnode-based filesystem. Every method that
// returns a vnode returns it held; the caller releases it with vnode.Rele.
// Errors are syscall.Errno values.
type Engine interface {
	vnode.Ops

	// Root returns the held root vnode.
	Root(ctx context.Context) (*vnode.Vnode, error)
	// Get returns the held vnode for a node ID.
	Get(ctx context.Context, id uint64) (*vnode.Vnode, error)
	// Ident returns the node ID and generation of vp.
	Ident(vp *vnode.Vnode) (id uint64, gen uint64)

	Lookup(ctx context.Context, dvp *vnode.Vnode, name string) (*vnode.Vnode, error)
	// Open returns a per-open cookie, possibly nil, that the caller hands
	// back to Readdir and Close for the same open.
	Open(ctx context.Context, vp *vnode.Vnode, flags vnode.FileFlag) (cookie any, err error)
	Close(ctx context.Context, vp *vnode.Vnode, flags vnode.FileFlag, cookie any) error
	Read(ctx context.Context, vp *vnode.Vnode, buf []byte, off int64) (int, error)
	// Readdir fills at most len(entries) records starting at cursor and
	// returns how many it filled. Zero with a nil error means the
	// directory is exhausted. Cursors are only meaningful with the cookie
	// of the open they came from.
	Readdir(ctx context.Context, vp *vnode.Vnode, cookie any, cursor int64, entries []vnode.Dirent) (int, error)
	Readlink(ctx context.Context, vp *vnode.Vnode) (string, error)
	Getattr(ctx context.Context, vp *vnode.Vnode, mask vnode.AttrMask) (vnode.VAttr, error)
	Statvfs(ctx context.Context) (vnode.Statvfs, error)
	// Unmount releases the engine's resources. With force set, nodes still
	// referenced are torn down instead of failing with EBUSY.
	Unmount(ctx context.Context, force bool) error
}
