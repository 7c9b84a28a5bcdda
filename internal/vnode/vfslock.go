package vnode

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// vfsLocksEntry is the lock guarding whether a filesystem is mounted on a
// vnode. Its reference count is separate from the vnode's: one reference
// belongs to the vnode itself, the rest to lookups and holds in flight.
type vfsLocksEntry struct {
	lock   rwst
	refcnt atomic.Int32
	vp     *Vnode
}

func (e *vfsLocksEntry) init(vp *Vnode) {
	e.lock = rwst{}
	e.refcnt.Store(1)
	e.vp = vp
}

func (e *vfsLocksEntry) rele() {
	if n := e.refcnt.Add(-1); n < 0 {
		panic(fmt.Sprintf("vnode: mount-lock entry of %q released below zero", e.vp.path))
	}
}

// balanced reports whether only the vnode's own reference remains and the
// lock is free.
func (e *vfsLocksEntry) balanced() bool {
	return e.refcnt.Load() == 1 && !e.lock.Held()
}

// vfsLocksGetlockVnode returns the mount-lock entry of vp with one
// reference taken on it.
func vfsLocksGetlockVnode(vp *Vnode) *vfsLocksEntry {
	e := &vp.vfsEntry
	e.refcnt.Add(1)
	return e
}

// vfsLocksGetlock is the generic lookup used on the release side.
func vfsLocksGetlock(vp *Vnode) *vfsLocksEntry {
	return vfsLocksGetlockVnode(vp)
}

// VfsWLock takes the mount-lock of vp exclusively without waiting. A nil
// vp stands for the vnode covered by the root filesystem, which does not
// exist, so the attempt fails with EBUSY before any deeper unmount work.
// On success one entry reference stays outstanding until VfsUnlock.
func VfsWLock(vp *Vnode) error {
	if vp == nil {
		return unix.EBUSY
	}

	e := vfsLocksGetlockVnode(vp)
	if e.lock.TryEnter(RWWriter) {
		return nil
	}

	e.rele()
	return unix.EBUSY
}

// VfsUnlock releases a mount-lock taken by VfsWLock. The entry reference
// count drops twice: once for the lookup made here and once for the
// reference retained by the acquisition.
func VfsUnlock(vp *Vnode) {
	e := vfsLocksGetlock(vp)
	e.rele()

	e.lock.Exit()
	e.rele()
}

// VfsWLockHeld reports whether the mount-lock of vp is held exclusively.
func VfsWLockHeld(vp *Vnode) bool {
	if vp == nil {
		return false
	}
	return vp.vfsEntry.lock.WriteHeld()
}
