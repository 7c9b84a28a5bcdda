package hostfs

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"vnfuse/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("hostfs/path")
)

// SourcePath represents a path in the source directory.
// All paths are stored relative to the source root; the root itself is "".
type SourcePath struct {
	// relative path from source root
	path string
}

// NewSourcePath creates a new SourcePath instance.
// It cleans the path and ensures it's relative to the source root.
func NewSourcePath(path string) SourcePath {
	cleaned := filepath.Clean("/" + path)
	cleaned = strings.TrimPrefix(cleaned, "/")
	pathLogger.Trace("Creating new source path: %q -> %q", path, cleaned)
	return SourcePath{path: cleaned}
}

// String returns the string representation of the path
func (sp SourcePath) String() string {
	return sp.path
}

// IsRoot returns true for the source root
func (sp SourcePath) IsRoot() bool {
	return sp.path == ""
}

// FullPath returns the absolute path by joining with the source root
func (sp SourcePath) FullPath(sourceRoot string) string {
	return filepath.Join(sourceRoot, sp.path)
}

// Parent returns the parent directory. The parent of the root is the root.
func (sp SourcePath) Parent() SourcePath {
	parent := filepath.Dir(sp.path)
	if parent == "." {
		parent = ""
	}
	return SourcePath{path: parent}
}

// Base returns the last element of the path
func (sp SourcePath) Base() string {
	return filepath.Base(sp.path)
}

// Child returns the path of name inside sp. Names must be a single
// component: "." and ".." are resolved by the caller.
func (sp SourcePath) Child(name string) (SourcePath, error) {
	switch {
	case name == "":
		return SourcePath{}, unix.ENOENT
	case name == "." || name == "..":
		return SourcePath{}, unix.EINVAL
	case strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0):
		return SourcePath{}, unix.EINVAL
	case len(name) > maxNameLen:
		return SourcePath{}, unix.ENAMETOOLONG
	}
	if sp.path == "" {
		return SourcePath{path: name}, nil
	}
	return SourcePath{path: sp.path + "/" + name}, nil
}

const maxNameLen = 255
