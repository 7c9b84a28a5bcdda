// Package vnode provides the userspace rendition of the kernel vnode: a
// reference-counted handle over a host file descriptor that the
// filesystem engine treats as its in-core node.
package vnode

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"vnfuse/internal/logging"
)

var vnLogger = logging.GetLogger().WithPrefix("vnode")

// Flag holds per-vnode state bits.
type Flag uint32

const (
	// VRoot marks the root vnode of a filesystem.
	VRoot Flag = 1 << iota
)

// AllocFlag controls the behavior of Alloc.
type AllocFlag int

const (
	// KMSleep allows the allocation to wait.
	KMSleep AllocFlag = 1 << iota
	// KMNoFail requests an allocation that never fails.
	KMNoFail
	// KMNoSleep forbids waiting. Alloc rejects it.
	KMNoSleep
)

// Ops is the hook set an engine installs on the vnodes it owns.
// Inactive is invoked in place of the final decrement when the last
// reference is dropped; it must decrement or free vp itself.
type Ops interface {
	Inactive(vp *Vnode)
}

// Vnode is an in-core node. The zero value is not usable; create vnodes
// with Alloc or Open.
type Vnode struct {
	mu     sync.Mutex
	count  int
	fd     int
	path   string
	typ    VType
	size   int64
	flag   Flag
	data   any
	ops    Ops
	closed bool

	vfsEntry vfsLocksEntry
}

func newVnode() *Vnode {
	vp := &Vnode{fd: -1}
	vp.vfsEntry.init(vp)
	return vp
}

// Alloc returns a reinitialized vnode with no backing descriptor and one
// reference. Only sleeping allocations are supported.
func Alloc(flags AllocFlag) *Vnode {
	if flags&(KMSleep|KMNoFail) == 0 || flags&KMNoSleep != 0 {
		panic(fmt.Sprintf("vnode: unsupported allocation flags %#x", int(flags)))
	}
	vp := newVnode()
	Reinit(vp)
	return vp
}

// Reinit returns vp to its freshly allocated state with one reference.
func Reinit(vp *Vnode) {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	if vp.count > 1 {
		panic(fmt.Sprintf("vnode: reinit of %q with count %d", vp.path, vp.count))
	}
	vp.count = 1
	vp.fd = -1
	vp.path = ""
	vp.typ = VNon
	vp.size = 0
	vp.flag = 0
	vp.data = nil
	vp.ops = nil
	vp.closed = false
	vp.vfsEntry.init(vp)
}

// Setup fills identity fields of an allocated vnode that has no backing
// descriptor, such as one describing a symlink or special file.
func Setup(vp *Vnode, path string, typ VType, size int64) {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	vp.path = path
	vp.typ = typ
	vp.size = size
}

// Hold takes one reference on vp.
func Hold(vp *Vnode) {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	if vp.closed {
		panic(fmt.Sprintf("vnode: hold of closed vnode %q", vp.path))
	}
	vp.count++
}

// Rele drops one reference on vp. Dropping the last reference hands vp to
// the owner's Inactive hook, or frees it when no hook is installed.
func Rele(vp *Vnode) {
	vp.mu.Lock()
	if vp.count <= 0 {
		vp.mu.Unlock()
		panic(fmt.Sprintf("vnode: rele of %q with count %d", vp.path, vp.count))
	}
	if vp.count > 1 {
		vp.count--
		vp.mu.Unlock()
		return
	}
	ops := vp.ops
	vp.mu.Unlock()

	if ops != nil {
		ops.Inactive(vp)
		return
	}
	Free(vp)
}

// Free tears down vp. The count must be 0 or 1.
func Free(vp *Vnode) {
	vp.mu.Lock()
	count := vp.count
	vp.mu.Unlock()

	if count != 0 && count != 1 {
		panic(fmt.Sprintf("vnode: free of %q with count %d", vp.Path(), count))
	}
	Close(vp)
}

// Close releases the descriptor of vp and marks it dead. The mount-lock
// must be balanced when the vnode goes away.
func Close(vp *Vnode) {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	if vp.closed {
		panic(fmt.Sprintf("vnode: double close of %q", vp.path))
	}
	if !vp.vfsEntry.balanced() {
		panic(fmt.Sprintf("vnode: %q closed with mount-lock held or referenced", vp.path))
	}
	if vp.fd >= 0 {
		if err := unix.Close(vp.fd); err != nil {
			vnLogger.Warn("close %s: %v", vp.path, err)
		}
	}
	vp.fd = -1
	vp.count = 0
	vp.closed = true
}

// Decrement drops one reference without running the inactive hook. It is
// for Inactive implementations that find the vnode still in use.
func Decrement(vp *Vnode) {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	if vp.count <= 0 {
		panic(fmt.Sprintf("vnode: decrement of %q with count %d", vp.path, vp.count))
	}
	vp.count--
}

// Count returns the current reference count.
func (vp *Vnode) Count() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.count
}

// Fd returns the backing descriptor, or -1.
func (vp *Vnode) Fd() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.fd
}

// Path returns the host path the vnode was opened with.
func (vp *Vnode) Path() string {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.path
}

// Type returns the vnode type.
func (vp *Vnode) Type() VType {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.typ
}

// Size returns the size recorded when the vnode was set up.
func (vp *Vnode) Size() int64 {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.size
}

// Flag returns the state bits.
func (vp *Vnode) Flag() Flag {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.flag
}

// SetFlag ors f into the state bits.
func (vp *Vnode) SetFlag(f Flag) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vp.flag |= f
}

// Data returns the engine's per-node state.
func (vp *Vnode) Data() any {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.data
}

// SetData attaches engine per-node state.
func (vp *Vnode) SetData(d any) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vp.data = d
}

// SetOps installs the owner's hooks.
func (vp *Vnode) SetOps(ops Ops) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vp.ops = ops
}

// Closed reports whether the vnode has been torn down.
func (vp *Vnode) Closed() bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.closed
}
