//go:build !linux

package hostfs

import (
	"golang.org/x/sys/unix"

	"vnfuse/internal/vnode"
)

func statvfs(path string) (vnode.Statvfs, error) {
	var sfs unix.Statfs_t
	if err := unix.Statfs(path, &sfs); err != nil {
		return vnode.Statvfs{}, err
	}
	return vnode.Statvfs{
		Bsize:   uint64(sfs.Bsize),
		Frsize:  uint64(sfs.Bsize),
		Blocks:  uint64(sfs.Blocks),
		Bfree:   uint64(sfs.Bfree),
		Bavail:  uint64(sfs.Bavail),
		Files:   uint64(sfs.Files),
		Ffree:   uint64(sfs.Ffree),
		Favail:  uint64(sfs.Ffree),
		Namemax: maxNameLen,
	}, nil
}
