package hostfs

import (
	"time"

	"golang.org/x/sys/unix"
)

func atime(st *unix.Stat_t) time.Time { return time.Unix(st.Atimespec.Unix()) }
func mtime(st *unix.Stat_t) time.Time { return time.Unix(st.Mtimespec.Unix()) }
func ctime(st *unix.Stat_t) time.Time { return time.Unix(st.Ctimespec.Unix()) }
