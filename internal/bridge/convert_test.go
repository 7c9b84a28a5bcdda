package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"testing"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"vnfuse/internal/vnode"
)

func TestDirentSize(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"", 24},
		{".", 32},
		{"..", 32},
		{"12345678", 32},
		{"123456789", 40},
		{"1234567890123456", 40},
		{"12345678901234567", 48},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DirentSize(tt.name), "name %q", tt.name)
	}
}

func TestAppendDirent(t *testing.T) {
	buf := AppendDirent(nil, 42, 7, vnode.DTReg, "file1.txt")
	require.Len(t, buf, DirentSize("file1.txt"))

	assert.EqualValues(t, 42, binary.NativeEndian.Uint64(buf[0:]))
	assert.EqualValues(t, 7, binary.NativeEndian.Uint64(buf[8:]))
	assert.EqualValues(t, 9, binary.NativeEndian.Uint32(buf[16:]))
	assert.Equal(t, vnode.DTReg, binary.NativeEndian.Uint32(buf[20:]))
	assert.Equal(t, "file1.txt", string(buf[24:33]))
	assert.Equal(t, make([]byte, 7), buf[33:])

	buf = AppendDirent(buf, 1, 8, vnode.DTDir, ".")
	assert.Len(t, buf, 40+32)
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fuse.Errno
	}{
		{"nil", nil, 0},
		{"errno", unix.ENOTDIR, fuse.Errno(unix.ENOTDIR)},
		{"wrapped errno", fmt.Errorf("lookup: %w", unix.ESTALE), fuse.Errno(unix.ESTALE)},
		{"path error", &os.PathError{Op: "open", Path: "x", Err: unix.EACCES}, fuse.Errno(unix.EACCES)},
		{"fuse errno", fuse.ENOSYS, fuse.ENOSYS},
		{"bridge error", &Error{Op: OpRead, Node: 5, Err: unix.EBADF}, fuse.Errno(unix.EBADF)},
		{"not exist", os.ErrNotExist, fuse.ENOENT},
		{"permission", os.ErrPermission, fuse.EPERM},
		{"unknown", errors.New("boom"), fuse.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToErrno(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: OpLookup, Node: 9, Err: unix.ENOENT}
	assert.Equal(t, "operation lookup on 9 failed: no such file or directory", err.Error())
	assert.ErrorIs(t, err, unix.ENOENT)

	err = &Error{Op: OpStatfs, Err: unix.EIO}
	assert.Equal(t, "operation statfs failed: input/output error", err.Error())
}

func TestFileMode(t *testing.T) {
	tests := []struct {
		mode uint32
		want os.FileMode
	}{
		{unix.S_IFREG | 0644, 0644},
		{unix.S_IFDIR | 0755, os.ModeDir | 0755},
		{unix.S_IFLNK | 0777, os.ModeSymlink | 0777},
		{unix.S_IFBLK | 0660, os.ModeDevice | 0660},
		{unix.S_IFCHR | 0620, os.ModeDevice | os.ModeCharDevice | 0620},
		{unix.S_IFIFO | 0600, os.ModeNamedPipe | 0600},
		{unix.S_IFSOCK | 0700, os.ModeSocket | 0700},
		{unix.S_IFREG | unix.S_ISUID | 0755, os.ModeSetuid | 0755},
		{unix.S_IFDIR | unix.S_ISVTX | 0777, os.ModeDir | os.ModeSticky | 0777},
		{0644, os.ModeIrregular | 0644},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileMode(tt.mode), "mode %#o", tt.mode)
	}
}

func TestFileFlags(t *testing.T) {
	assert.Equal(t, vnode.FRead, fileFlags(fuse.OpenReadOnly))
	assert.Equal(t, vnode.FWrite, fileFlags(fuse.OpenWriteOnly))
	assert.Equal(t, vnode.FRead|vnode.FWrite, fileFlags(fuse.OpenReadWrite))
	assert.Equal(t, vnode.FWrite|vnode.FAppend|vnode.FTrunc,
		fileFlags(fuse.OpenWriteOnly|fuse.OpenAppend|fuse.OpenTruncate))
	assert.Equal(t, vnode.FRead|vnode.FNonblock, fileFlags(fuse.OpenReadOnly|fuse.OpenNonblock))
}

func TestClampUint32(t *testing.T) {
	assert.EqualValues(t, 4096, clampUint32(4096))
	assert.EqualValues(t, uint32(0xffffffff), clampUint32(1<<40))
}
