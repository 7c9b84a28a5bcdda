package bridge

import (
	"context"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"vnfuse/internal/hostfs"
	"vnfuse/internal/vfs"
	"vnfuse/internal/vnode"
)

// closeHook is a host engine whose Close is replaced.
type closeHook struct {
	*hostfs.FS
	close func() error
}

func (e *closeHook) Close(ctx context.Context, vp *vnode.Vnode, flags vnode.FileFlag, cookie any) error {
	return e.close()
}

func setupCloseHook(t *testing.T, closeFn func() error) (*Bridge, *hostfs.FS, *vfs.VFS) {
	t.Helper()
	fs, _ := newHostFS(t)
	v, err := vfs.Mount(context.Background(), &closeHook{FS: fs, close: closeFn})
	require.NoError(t, err)
	return New(v, Options{}), fs, v
}

func openHandle(t *testing.T, b *Bridge, name string) fuse.HandleID {
	t.Helper()
	ctx := context.Background()
	node, err := b.Lookup(ctx, fuse.RootID, name)
	require.NoError(t, err)
	h, err := b.Open(ctx, node.Node, fuse.OpenReadOnly)
	require.NoError(t, err)
	return h.Handle
}

func TestReleaseDropsNodeWhenCloseFails(t *testing.T) {
	b, fs, _ := setupCloseHook(t, func() error { return unix.EIO })
	ctx := context.Background()

	h := openHandle(t, b, "file1.txt")
	require.Equal(t, 2, fs.Referenced())

	assert.Equal(t, unix.EIO, b.Release(ctx, h))
	assert.Equal(t, 1, fs.Referenced())
	assert.Equal(t, 0, b.OpenHandles())
}

func TestReleaseDuringDestroy(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	b, fs, v := setupCloseHook(t, func() error {
		close(entered)
		<-unblock
		return nil
	})
	ctx := context.Background()

	h := openHandle(t, b, "file1.txt")

	released := make(chan error, 1)
	go func() { released <- b.Release(ctx, h) }()
	<-entered

	destroyed := make(chan struct{})
	go func() {
		defer close(destroyed)
		b.Destroy(ctx)
	}()

	select {
	case <-destroyed:
		t.Fatal("destroy finished while a release was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-released)
	<-destroyed

	assert.True(t, v.Unmounted())
	assert.Equal(t, 0, fs.Referenced())
	assert.Equal(t, unix.EBADF, b.Release(ctx, h), "handles are gone after destroy")
}

func TestHandleAcknowledgesRelease(t *testing.T) {
	b, fs, _ := setupCloseHook(t, func() error { return unix.EIO })
	s := newServer(b)
	ctx := context.Background()

	h := openHandle(t, b, "file1.txt")
	resp, err := s.handle(ctx, &fuse.ReleaseRequest{Handle: h})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 1, fs.Referenced())

	dh, err := b.Opendir(ctx, fuse.RootID, fuse.OpenReadOnly)
	require.NoError(t, err)
	resp, err = s.handle(ctx, &fuse.ReleaseRequest{Handle: dh.Handle, Dir: true})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, b.OpenHandles())

	_, err = s.handle(ctx, &fuse.ReleaseRequest{Handle: 999})
	assert.NoError(t, err, "unknown handles are acknowledged too")
}

func TestHandleDispatch(t *testing.T) {
	b, _, v := setupBridge(t)
	s := newServer(b)
	ctx := context.Background()

	resp, err := s.handle(ctx, &fuse.LookupRequest{Header: fuse.Header{Node: fuse.RootID}, Name: "file1.txt"})
	require.NoError(t, err)
	lookup, ok := resp.(*fuse.LookupResponse)
	require.True(t, ok)
	assert.EqualValues(t, 11, lookup.Attr.Size)

	_, err = s.handle(ctx, &fuse.LookupRequest{Header: fuse.Header{Node: fuse.RootID}, Name: "missing"})
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, OpLookup, herr.Op)
	assert.EqualValues(t, fuse.RootID, herr.Node)
	assert.Equal(t, fuse.ENOENT, ToErrno(err))

	resp, err = s.handle(ctx, &fuse.StatfsRequest{})
	require.NoError(t, err)
	st, ok := resp.(*fuse.StatfsResponse)
	require.True(t, ok)
	assert.Equal(t, st.Frsize, st.Bsize)

	resp, err = s.handle(ctx, &fuse.ForgetRequest{Header: fuse.Header{Node: lookup.Node}, N: 1})
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = s.handle(ctx, &fuse.MkdirRequest{Header: fuse.Header{Node: fuse.RootID}, Name: "x"})
	assert.Equal(t, fuse.ENOSYS, err)
	assert.Equal(t, fuse.ENOSYS, ToErrno(err))

	_, err = s.handle(ctx, &fuse.DestroyRequest{})
	require.NoError(t, err)
	assert.True(t, v.Unmounted())
}

func TestHandleInterrupt(t *testing.T) {
	b, _, _ := setupBridge(t)
	s := newServer(b)

	dh, err := b.Opendir(context.Background(), fuse.RootID, fuse.OpenReadOnly)
	require.NoError(t, err)
	defer b.Release(context.Background(), dh.Handle)

	ctx, done := s.begin(7)
	defer done()

	resp, err := s.handle(context.Background(), &fuse.InterruptRequest{IntrID: 7})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	_, err = s.handle(ctx, &fuse.ReadRequest{Header: fuse.Header{ID: 7}, Dir: true, Handle: dh.Handle, Size: 4096})
	assert.Equal(t, fuse.Errno(unix.EINTR), ToErrno(err))

	// an unknown request ID is ignored
	_, err = s.handle(context.Background(), &fuse.InterruptRequest{IntrID: 99})
	assert.NoError(t, err)
}
