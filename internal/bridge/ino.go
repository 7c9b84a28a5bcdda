package bridge

import (
	"bazil.org/fuse"

	"vnfuse/internal/engine"
)

// toInternal maps a kernel node ID to the engine's numbering. The kernel
// addresses the root as fuse.RootID; the engine knows it as TrueRootID.
func toInternal(id uint64) uint64 {
	if id == uint64(fuse.RootID) {
		return engine.TrueRootID
	}
	return id
}

// toExternal is the inverse of toInternal.
func toExternal(id uint64) uint64 {
	if id == engine.TrueRootID {
		return uint64(fuse.RootID)
	}
	return id
}
