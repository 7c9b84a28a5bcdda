package vnode

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestVfsWLock(t *testing.T) {
	vp := Alloc(KMSleep)

	require.NoError(t, VfsWLock(vp))
	assert.True(t, VfsWLockHeld(vp))
	assert.EqualValues(t, 2, vp.vfsEntry.refcnt.Load())

	assert.Equal(t, unix.EBUSY, VfsWLock(vp))
	assert.EqualValues(t, 2, vp.vfsEntry.refcnt.Load(), "failed attempt must not leak a reference")

	VfsUnlock(vp)
	assert.False(t, VfsWLockHeld(vp))
	assert.True(t, vp.vfsEntry.balanced())

	require.NoError(t, VfsWLock(vp))
	VfsUnlock(vp)
	assert.True(t, vp.vfsEntry.balanced())

	Rele(vp)
}

func TestVfsWLockNil(t *testing.T) {
	assert.Equal(t, unix.EBUSY, VfsWLock(nil))
	assert.False(t, VfsWLockHeld(nil))
}

func TestVfsWLockConcurrent(t *testing.T) {
	vp := Alloc(KMSleep)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if VfsWLock(vp) == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	VfsUnlock(vp)
	assert.True(t, vp.vfsEntry.balanced())
	Rele(vp)
}

func TestCloseWithMountLockHeldPanics(t *testing.T) {
	vp := Alloc(KMSleep)
	require.NoError(t, VfsWLock(vp))
	assert.Panics(t, func() { Close(vp) })
	VfsUnlock(vp)
	Rele(vp)
}

func TestRwst(t *testing.T) {
	var l rwst

	require.True(t, l.TryEnter(RWReader))
	require.True(t, l.TryEnter(RWReader))
	assert.False(t, l.TryEnter(RWWriter))
	assert.False(t, l.TryUpgrade(), "upgrade needs a sole reader")

	l.Exit()
	require.True(t, l.TryUpgrade())
	assert.True(t, l.WriteHeld())
	assert.False(t, l.TryEnter(RWReader))

	l.Downgrade()
	assert.False(t, l.WriteHeld())
	assert.True(t, l.Held())
	assert.True(t, l.TryEnter(RWReader))

	l.Exit()
	l.Exit()
	assert.False(t, l.Held())
	assert.Panics(t, func() { l.Exit() })
	assert.Panics(t, func() { l.Downgrade() })
}
