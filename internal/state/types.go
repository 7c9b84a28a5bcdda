package state

import "errors"

// ErrNotFound is returned when no entry exists for a node ID.
var ErrNotFound = errors.New("state: entry not found")

// Entry is the persistent identity of one source path.
type Entry struct {
	// Node ID handed to the kernel
	ID uint64 `cbor:"1,keyasint"`

	// Generation, bumped each time the path is found backed by a
	// different host inode
	Gen uint64 `cbor:"2,keyasint"`

	// Path relative to the source root
	Path string `cbor:"3,keyasint"`

	// Host inode last seen behind Path
	HostIno uint64 `cbor:"4,keyasint"`
}

// Config configures a Manager.
type Config struct {
	// Dir holds the database. Empty keeps the table in memory.
	Dir string

	// FirstID is the first node ID handed out.
	FirstID uint64
}
