package bridge

import (
	"context"
	"math"
	"os"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"

	"vnfuse/internal/vnode"
)

// toExternalStat fetches the attributes of vp and converts them to the
// kernel's form. Engine errors are returned untranslated.
func (b *Bridge) toExternalStat(ctx context.Context, vp *vnode.Vnode) (fuse.Attr, error) {
	va, err := b.eng.Getattr(ctx, vp, vnode.ATStat|vnode.ATNblocks|vnode.ATBlksize|vnode.ATSize)
	if err != nil {
		return fuse.Attr{}, err
	}

	return fuse.Attr{
		Valid:     b.attrTimeout,
		Inode:     toExternal(va.NodeID),
		Size:      va.Size,
		Blocks:    va.Nblocks,
		Atime:     va.Atime,
		Mtime:     va.Mtime,
		Ctime:     va.Ctime,
		Mode:      fileMode(vnode.VTToIF(va.Type) | va.Mode),
		Nlink:     va.Nlink,
		Uid:       va.UID,
		Gid:       va.GID,
		Rdev:      clampUint32(va.Rdev),
		BlockSize: va.Blksize,
	}, nil
}

// fileMode converts a stat mode (type and permission bits) to an
// os.FileMode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}

	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFBLK:
		m |= os.ModeDevice
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFREG:
	default:
		m |= os.ModeIrregular
	}
	return m
}

func clampUint32(n uint64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
