package bridge

import (
	"sync"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"vnfuse/internal/vnode"
)

// openFile is an open file or directory. It owns one vnode reference.
type openFile struct {
	vp     *vnode.Vnode
	flags  vnode.FileFlag
	dir    bool
	cookie any
}

// handleTable maps kernel file handles to open files.
type handleTable struct {
	mu   sync.Mutex
	next fuse.HandleID
	open map[fuse.HandleID]*openFile
}

func newHandleTable() *handleTable {
	return &handleTable{open: make(map[fuse.HandleID]*openFile)}
}

// add stores of and returns its handle. The table takes over the vnode
// reference.
func (t *handleTable) add(of *openFile) fuse.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.open[t.next] = of
	return t.next
}

// get returns the open file for h with its vnode held for the caller.
func (t *handleTable) get(h fuse.HandleID) (*openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	of, ok := t.open[h]
	if !ok {
		return nil, unix.EBADF
	}
	vnode.Hold(of.vp)
	return of, nil
}

// remove takes h out of the table, handing its vnode reference back.
func (t *handleTable) remove(h fuse.HandleID) (*openFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	of, ok := t.open[h]
	if !ok {
		return nil, unix.EBADF
	}
	delete(t.open, h)
	return of, nil
}

// drain empties the table.
func (t *handleTable) drain() []*openFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*openFile, 0, len(t.open))
	for h, of := range t.open {
		out = append(out, of)
		delete(t.open, h)
	}
	return out
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// fileFlags converts kernel open flags to the engine's open mode.
func fileFlags(flags fuse.OpenFlags) vnode.FileFlag {
	var f vnode.FileFlag
	switch {
	case flags.IsReadOnly():
		f = vnode.FRead
	case flags.IsWriteOnly():
		f = vnode.FWrite
	case flags.IsReadWrite():
		f = vnode.FRead | vnode.FWrite
	}

	if flags&fuse.OpenAppend != 0 {
		f |= vnode.FAppend
	}
	if flags&fuse.OpenCreate != 0 {
		f |= vnode.FCreat
	}
	if flags&fuse.OpenExclusive != 0 {
		f |= vnode.FExcl
	}
	if flags&fuse.OpenTruncate != 0 {
		f |= vnode.FTrunc
	}
	if flags&fuse.OpenNonblock != 0 {
		f |= vnode.FNonblock
	}
	if flags&fuse.OpenSync != 0 {
		f |= vnode.FSync
	}
	return f
}
