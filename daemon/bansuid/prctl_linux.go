//go:build linux

package bansuid

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func banSuid() error {
	// Setting SECUREBITS requires capabilities we may not have if we are not running as root,
	// so we do this first and tolerate EPERM.
	err := setSecurebits()
	if err != nil && !errors.Is(err, unix.EPERM) {
		return err
	}

	// TODO: Consider use of capability bounding sets.
	// Though should be made unnecessary by NO_NEW_PRIVS.

	return setNoNewPrivs()
}

func setNoNewPrivs() error {
	err := prctlAllThreads(unix.PR_SET_NO_NEW_PRIVS, 1)
	if err != nil {
		return fmt.Errorf("cannot set NO_NEW_PRIVS: %w", err)
	}

	return nil
}

func setSecurebits() error {
	err := prctlAllThreads(unix.PR_SET_SECUREBITS,
		sSECBIT_NOROOT|sSECBIT_NOROOT_LOCKED|sSECBIT_KEEP_CAPS_LOCKED)
	if err != nil {
		return fmt.Errorf("cannot set SECUREBITS: %w", err)
	}

	return nil
}

// NoNewPrivs reports whether NO_NEW_PRIVS is set on the calling thread.
func NoNewPrivs() (bool, error) {
	v, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func prctlAllThreads(opt int, arg2 uintptr) error {
	_, _, e1 := syscall.AllThreadsSyscall(syscall.SYS_PRCTL, uintptr(opt), arg2, 0)
	if e1 == 0 {
		return nil
	}
	if e1 != syscall.ENOTSUP {
		return e1
	}

	// AllThreadsSyscall is unavailable when cgo is linked in; the C runtime
	// owns some threads. Fall back to the calling thread, from which
	// subsequently created threads inherit.
	return unix.Prctl(opt, arg2, 0, 0, 0)
}

const (
	sSECBIT_NOROOT                 = 1 << 0
	sSECBIT_NOROOT_LOCKED          = 1 << 1
	sSECBIT_NO_SETUID_FIXUP        = 1 << 2
	sSECBIT_NO_SETUID_FIXUP_LOCKED = 1 << 3
	sSECBIT_KEEP_CAPS              = 1 << 4
	sSECBIT_KEEP_CAPS_LOCKED       = 1 << 5
)
