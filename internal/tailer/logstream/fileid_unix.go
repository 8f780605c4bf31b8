//go:build !windows

package logstream

import (
	"os"
	"syscall"
)

// stableFileID returns a value that uniquely identifies the underlying
// inode of a regular file across renames, independent of pathname. Used to
// tell a rotated-in file apart from the one currently being read.
func stableFileID(fi os.FileInfo) (uint64, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Ino, true
}
