//go:build windows

package logstream

import (
	"os"
	"syscall"
)

// stableFileID returns a value that approximates a unique file identity on
// Windows, where inode numbers aren't available through os.FileInfo.
// Windows doesn't expose an inode equivalent through os.FileInfo, so the
// file's creation time stands in: a renamed-over file keeps its creation
// time, but a rotated-in file (freshly created) gets a new one.
func stableFileID(fi os.FileInfo) (uint64, bool) {
	d, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return 0, false
	}
	return uint64(d.CreationTime.HighDateTime)<<32 | uint64(d.CreationTime.LowDateTime), true
}
