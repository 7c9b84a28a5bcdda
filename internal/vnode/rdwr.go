package vnode

import "golang.org/x/sys/unix"

// UioRW is the direction of a transfer.
type UioRW int

const (
	UioRead UioRW = iota
	UioWrite
)

func (rw UioRW) String() string {
	if rw == UioWrite {
		return "write"
	}
	return "read"
}

// Rdwr performs one positioned transfer between buf and vp at offset.
// When resid is non-nil it receives the untransferred byte count and a
// short transfer is not an error. When resid is nil anything short of a
// full transfer fails with EIO.
func Rdwr(rw UioRW, vp *Vnode, buf []byte, offset int64, resid *int) error {
	fd := vp.Fd()

	var n int
	var err error
	if rw == UioRead {
		n, err = unix.Pread(fd, buf, offset)
	} else {
		n, err = unix.Pwrite(fd, buf, offset)
	}
	if n < 0 {
		n = 0
	}

	if n < len(buf) {
		vnLogger.Debug("%s: len: %d iolen: %d offset: %d file: %s",
			rw, len(buf), n, offset, vp.Path())
	}
	if err != nil {
		return err
	}

	if resid != nil {
		*resid = len(buf) - n
		return nil
	}
	if n != len(buf) {
		return unix.EIO
	}
	return nil
}
