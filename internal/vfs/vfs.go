// Package vfs ties a mounted engine to its root vnode and gates requests
// against teardown.
package vfs

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"vnfuse/internal/engine"
	"vnfuse/internal/logging"
	"vnfuse/internal/vnode"
)

// VFS is a mounted engine.
type VFS struct {
	eng    engine.Engine
	root   *vnode.Vnode
	gate   sync.RWMutex
	logger *logging.Logger

	unmounted bool
}

// Mount holds the engine's root vnode and marks it as a filesystem root.
func Mount(ctx context.Context, eng engine.Engine) (*VFS, error) {
	root, err := eng.Root(ctx)
	if err != nil {
		return nil, err
	}
	root.SetFlag(vnode.VRoot)

	return &VFS{
		eng:    eng,
		root:   root,
		logger: logging.GetLogger().WithPrefix("vfs"),
	}, nil
}

// Engine returns the mounted engine.
func (v *VFS) Engine() engine.Engine {
	return v.eng
}

// Root returns the root vnode without taking a reference.
func (v *VFS) Root() *vnode.Vnode {
	return v.root
}

// Enter admits a request. It fails with EIO once the filesystem has been
// unmounted. Every successful Enter must be paired with Exit.
func (v *VFS) Enter() error {
	v.gate.RLock()
	if v.unmounted {
		v.gate.RUnlock()
		return unix.EIO
	}
	return nil
}

// Exit ends a request admitted by Enter.
func (v *VFS) Exit() {
	v.gate.RUnlock()
}

// Unmounted reports whether Unmount has completed.
func (v *VFS) Unmounted() bool {
	v.gate.RLock()
	defer v.gate.RUnlock()
	return v.unmounted
}

// Statvfs returns filesystem statistics from the engine.
func (v *VFS) Statvfs(ctx context.Context) (vnode.Statvfs, error) {
	return v.eng.Statvfs(ctx)
}

// Unmount detaches the engine and drops the root hold taken at mount.
// The root's mount-lock fences concurrent unmounts: a second caller gets
// EBUSY while the first is in progress. Unmounting an already unmounted
// filesystem fails with EINVAL.
func (v *VFS) Unmount(ctx context.Context, force bool) error {
	if err := vnode.VfsWLock(v.root); err != nil {
		return err
	}

	v.gate.Lock()
	var err error = unix.EINVAL
	if !v.unmounted {
		if err = v.eng.Unmount(ctx, force); err == nil {
			v.unmounted = true
		}
	}
	v.gate.Unlock()
	vnode.VfsUnlock(v.root)

	if err != nil {
		v.logger.Warn("unmount (force=%v): %v", force, err)
		return err
	}

	vnode.Rele(v.root)
	v.logger.Debug("unmounted")
	return nil
}
