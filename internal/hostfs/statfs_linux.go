//go:build linux

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
		Frsize:  uint64(sfs.Frsize),
		Blocks:  sfs.Blocks,
		Bfree:   sfs.Bfree,
		Bavail:  sfs.Bavail,
		Files:   sfs.Files,
		Ffree:   sfs.Ffree,
		Favail:  sfs.Ffree,
		Flag:    uint64(sfs.Flags) | unix.ST_RDONLY,
		Namemax: uint64(sfs.Namelen),
	}, nil
}
