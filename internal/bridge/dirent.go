package bridge

import "encoding/binary"

// direntHeaderSize is the size of fuse_dirent without its name: ino, off,
// namelen and type.
const direntHeaderSize = 8 + 8 + 4 + 4

// DirentSize returns the encoded size of a record for name, padded to the
// 8-byte alignment the kernel expects.
func DirentSize(name string) int {
	return (direntHeaderSize + len(name) + 7) &^ 7
}

// AppendDirent appends one fuse_dirent record in host byte order. off is
// the cursor the kernel passes back to resume after this entry.
func AppendDirent(buf []byte, ino uint64, off int64, typ uint32, name string) []byte {
	buf = binary.NativeEndian.AppendUint64(buf, ino)
	buf = binary.NativeEndian.AppendUint64(buf, uint64(off))
	buf = binary.NativeEndian.AppendUint32(buf, uint32(len(name)))
	buf = binary.NativeEndian.AppendUint32(buf, typ)
	buf = append(buf, name...)
	for pad := DirentSize(name) - direntHeaderSize - len(name); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}
