package bridge

import (
	"fmt"
	"os"
	"time"

	"bazil.org/fuse"
)

// MountConfig describes where and how to mount.
type MountConfig struct {
	Mountpoint         string
	FSName             string
	Subtype            string
	AllowOther         bool
	DefaultPermissions bool
}

// WaitForMount waits until the mount point answers. The serve loop must
// already be running, since the kernel queries the new filesystem.
func WaitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts a read-only FUSE filesystem at cfg.Mountpoint and returns
// the connection to serve.
func Mount(cfg MountConfig) (*fuse.Conn, error) {
	mountOpts := []fuse.MountOption{
		fuse.FSName(cfg.FSName),
		fuse.Subtype(cfg.Subtype),
		fuse.ReadOnly(),
		fuse.AsyncRead(),
	}
	if cfg.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	if cfg.DefaultPermissions {
		mountOpts = append(mountOpts, fuse.DefaultPermissions())
	}

	c, err := fuse.Mount(cfg.Mountpoint, mountOpts...)
	if err != nil {
		return nil, fmt.Errorf("mount failed: %w", err)
	}
	return c, nil
}

// Unmount asks the kernel to detach the filesystem at mountpoint. The
// serve loop then sees the session end.
func Unmount(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
