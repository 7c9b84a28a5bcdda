package vnode

import "sync"

// RWType selects reader or writer mode for an rwst acquisition.
type RWType int

const (
	RWWriter RWType = iota
	RWReader
)

// rwst is a reader/writer state lock that never blocks: every acquisition
// either succeeds immediately or reports failure. A sole reader may
// upgrade to writer and a writer may downgrade to reader.
type rwst struct {
	mu      sync.Mutex
	readers int
	writer  bool
}

// TryEnter attempts to acquire the lock in the given mode.
func (l *rwst) TryEnter(rw RWType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer {
		return false
	}
	if rw == RWWriter {
		if l.readers > 0 {
			return false
		}
		l.writer = true
		return true
	}
	l.readers++
	return true
}

// Exit releases one hold, writer first.
func (l *rwst) Exit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.writer:
		l.writer = false
	case l.readers > 0:
		l.readers--
	default:
		panic("vnode: rwst exit without a hold")
	}
}

// TryUpgrade converts the caller's read hold into a write hold. It fails
// if any other reader holds the lock.
func (l *rwst) TryUpgrade() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer || l.readers != 1 {
		return false
	}
	l.readers = 0
	l.writer = true
	return true
}

// Downgrade converts the caller's write hold into a read hold.
func (l *rwst) Downgrade() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.writer {
		panic("vnode: rwst downgrade without a write hold")
	}
	l.writer = false
	l.readers = 1
}

// WriteHeld reports whether the lock is held by a writer.
func (l *rwst) WriteHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

// Held reports whether the lock is held in any mode.
func (l *rwst) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer || l.readers > 0
}
