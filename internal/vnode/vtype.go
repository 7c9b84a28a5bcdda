package vnode

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// VType is the kind of object a vnode represents. The numbering follows
// the kernel's vtype enumeration.
type VType uint8

const (
	VNon VType = iota
	VReg
	VDir
	VBlk
	VChr
	VLnk
	VFifo
	VDoor
	VProc
	VSock
	VPort
	VBad
)

// String returns a short name for the type.
func (t VType) String() string {
	switch t {
	case VNon:
		return "none"
	case VReg:
		return "regular"
	case VDir:
		return "directory"
	case VBlk:
		return "block"
	case VChr:
		return "char"
	case VLnk:
		return "symlink"
	case VFifo:
		return "fifo"
	case VDoor:
		return "door"
	case VProc:
		return "proc"
	case VSock:
		return "socket"
	case VPort:
		return "port"
	case VBad:
		return "bad"
	default:
		return fmt.Sprintf("vtype(%d)", uint8(t))
	}
}

// IFToVT converts the S_IFMT bits of a stat mode to a vnode type. Modes
// with no vnode counterpart map to VNon.
func IFToVT(mode uint32) VType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return VReg
	case unix.S_IFDIR:
		return VDir
	case unix.S_IFCHR:
		return VChr
	case unix.S_IFBLK:
		return VBlk
	case unix.S_IFIFO:
		return VFifo
	case unix.S_IFLNK:
		return VLnk
	case unix.S_IFSOCK:
		return VSock
	default:
		return VNon
	}
}

// VTToIF converts a vnode type to its S_IFMT bits. Types with no stat
// representation yield 0.
func VTToIF(t VType) uint32 {
	switch t {
	case VReg:
		return unix.S_IFREG
	case VDir:
		return unix.S_IFDIR
	case VBlk:
		return unix.S_IFBLK
	case VChr:
		return unix.S_IFCHR
	case VLnk:
		return unix.S_IFLNK
	case VFifo:
		return unix.S_IFIFO
	case VSock:
		return unix.S_IFSOCK
	default:
		return 0
	}
}

// Directory entry type codes as carried in fuse_dirent.
const (
	DTUnknown uint32 = 0x0
	DTFifo    uint32 = 0x1
	DTChr     uint32 = 0x2
	DTDir     uint32 = 0x4
	DTBlk     uint32 = 0x6
	DTReg     uint32 = 0x8
	DTLnk     uint32 = 0xa
	DTSock    uint32 = 0xc
)

// VTToDT converts a vnode type to a directory entry type code.
func VTToDT(t VType) uint32 {
	switch t {
	case VReg:
		return DTReg
	case VDir:
		return DTDir
	case VBlk:
		return DTBlk
	case VChr:
		return DTChr
	case VLnk:
		return DTLnk
	case VFifo:
		return DTFifo
	case VSock:
		return DTSock
	default:
		return DTUnknown
	}
}
