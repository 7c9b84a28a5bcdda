//go:build linux

package vnode

import "golang.org/x/sys/unix"

// blockDeviceSize returns the byte size of the block device open on fd.
func blockDeviceSize(fd int) (int64, error) {
	n, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
