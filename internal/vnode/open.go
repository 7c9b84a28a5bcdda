package vnode

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// FileFlag is the engine's open mode, translated to host open flags.
type FileFlag int

const (
	FRead FileFlag = 1 << iota
	FWrite
	FNonblock
	FAppend
	FSync
	FCreat
	FTrunc
	FExcl
	FNoctty
)

func openFlags(f FileFlag) (int, error) {
	var oflags int
	switch f & (FRead | FWrite) {
	case FRead:
		oflags = unix.O_RDONLY
	case FWrite:
		oflags = unix.O_WRONLY
	case FRead | FWrite:
		oflags = unix.O_RDWR
	default:
		return 0, unix.EINVAL
	}

	if f&FNonblock != 0 {
		oflags |= unix.O_NONBLOCK
	}
	if f&FAppend != 0 {
		oflags |= unix.O_APPEND
	}
	if f&FSync != 0 {
		oflags |= unix.O_SYNC
	}
	if f&FCreat != 0 {
		oflags |= unix.O_CREAT
	}
	if f&FTrunc != 0 {
		oflags |= unix.O_TRUNC
	}
	if f&FExcl != 0 {
		oflags |= unix.O_EXCL
	}
	if f&FNoctty != 0 {
		oflags |= unix.O_NOCTTY
	}
	return oflags | unix.O_CLOEXEC, nil
}

// probeDevice opens a device path read-only to validate it and learn the
// size the block interface reports.
func probeDevice(path string) (int64, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return st.Size, nil
	}
	return blockDeviceSize(fd)
}

// Open opens path on the host and returns a vnode holding one reference.
// Disk device paths are probed through the block interface and reopened
// through the raw one. The umask is cleared around a create so that mode
// is applied unmodified.
func Open(path string, flags FileFlag, mode uint32) (*Vnode, error) {
	oflags, err := openFlags(flags)
	if err != nil {
		return nil, err
	}

	realpath := path
	var probed int64
	if strings.HasPrefix(path, "/dev/") {
		if probed, err = probeDevice(path); err != nil {
			return nil, err
		}
		if i := strings.Index(path, "/dsk/"); i >= 0 {
			realpath = path[:i+1] + "r" + path[i+1:]
		}
	} else if flags&FCreat == 0 {
		var st unix.Stat_t
		if err := unix.Stat(realpath, &st); err != nil {
			return nil, err
		}
	}

	var fd int
	if flags&FCreat != 0 {
		old := unix.Umask(0)
		fd, err = unix.Open(realpath, oflags, mode)
		unix.Umask(old)
	} else {
		fd, err = unix.Open(realpath, oflags, 0)
	}
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, err
	}

	size := st.Size
	if st.Mode&unix.S_IFMT == unix.S_IFBLK {
		if size, err = blockDeviceSize(fd); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	if size == 0 && probed > 0 {
		size = probed
	}

	typ := IFToVT(uint32(st.Mode))
	if typ == VNon {
		unix.Close(fd)
		panic(fmt.Sprintf("vnode: %s has mode %#o with no vnode type", realpath, st.Mode))
	}

	vp := newVnode()
	vp.fd = fd
	vp.path = realpath
	vp.typ = typ
	vp.size = size
	vp.count = 1
	return vp, nil
}

// OpenAt opens rel relative to startvp, which must be a filesystem root.
func OpenAt(rel string, flags FileFlag, mode uint32, startvp *Vnode) (*Vnode, error) {
	if startvp == nil || startvp.Flag()&VRoot == 0 {
		panic("vnode: OpenAt start vnode is not a filesystem root")
	}
	base := strings.TrimSuffix(startvp.Path(), "/")
	return Open(base+"/"+strings.TrimPrefix(rel, "/"), flags, mode)
}
