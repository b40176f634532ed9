//go:build !linux

package swap

import (
	"errors"
	"syscall"
)

func preallocate(File, int64, int64) error {
	return nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
