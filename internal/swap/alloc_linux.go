//go:build linux

package swap

import (
	"errors"

	"golang.org/x/sys/unix"
)

// preallocate reserves [off, off+size) in f so that a full disk is reported
// when the extent is allocated rather than on a later write.
func preallocate(f File, off, size int64) error {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return nil
	}
	err := unix.Fallocate(int(fd.Fd()), 0, off, size) //nolint:gosec // fd fits in int
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return nil
	}
	return err
}

func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) || errors.Is(err, unix.EFBIG)
}
