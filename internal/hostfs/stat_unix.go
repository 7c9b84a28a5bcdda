//go:build !darwin

package hostfs

import (
	"time"

	"golang.org/x/sys/unix"
)

func atime(st *unix.Stat_t) time.Time { return time.Unix(st.Atim.Unix()) }
func mtime(st *unix.Stat_t) time.Time { return time.Unix(st.Mtim.Unix()) }
func ctime(st *unix.Stat_t) time.Time { return time.Unix(st.Ctim.Unix()) }
