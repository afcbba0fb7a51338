//go:build !linux

package sigmask

import (
	"errors"
	"syscall"
)

func unblock(sigs []syscall.Signal) error {
	return errors.ErrUnsupported
}

func blocked(sig syscall.Signal) (bool, error) {
	return false, errors.ErrUnsupported
}
