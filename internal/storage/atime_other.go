//go:build !linux

package storage

import (
	"io/fs"
	"time"
)

// atime falls back to mtime on non-Linux POSIX systems, where the
// syscall.Stat_t field layout for atime isn't uniform. Cross-platform
// support beyond POSIX filesystems is an explicit non-goal (spec §1); this
// keeps the package buildable elsewhere without claiming atime precision
// it can't deliver there.
func atime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
