package vnode

import "time"

// AttrMask selects the VAttr fields an engine is asked to fill.
type AttrMask uint32

const (
	ATType AttrMask = 1 << iota
	ATMode
	ATUID
	ATGID
	ATFSID
	ATNodeID
	ATNlink
	ATSize
	ATAtime
	ATMtime
	ATCtime
	ATRdev
	ATBlksize
	ATNblocks
	ATSeq

	ATStat = ATMode | ATUID | ATGID | ATFSID | ATNodeID | ATNlink | ATSize |
		ATAtime | ATMtime | ATCtime | ATRdev | ATType
	ATAll = ATStat | ATBlksize | ATNblocks | ATSeq
)

// VAttr is the engine-native attribute set of a node.
type VAttr struct {
	Mask    AttrMask
	Type    VType
	Mode    uint32 // permission and set-id bits only
	UID     uint32
	GID     uint32
	FSID    uint64
	NodeID  uint64
	Gen     uint64
	Nlink   uint32
	Size    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Rdev    uint64
	Blksize uint32
	Nblocks uint64 // 512-byte blocks
}

// Statvfs is the engine-native filesystem statistics structure.
type Statvfs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint64
}

// Dirent is one directory record produced by an engine's readdir. Off is
// the cursor that resumes enumeration after this entry.
type Dirent struct {
	Ino  uint64
	Off  int64
	Type VType
	Name string
}
