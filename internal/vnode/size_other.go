//go:build !linux

package vnode

import "golang.org/x/sys/unix"

// blockDeviceSize falls back to the size fstat reports.
func blockDeviceSize(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}
