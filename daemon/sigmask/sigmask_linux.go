//go:build linux

package sigmask

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

func sigset(sigs []syscall.Signal) *unix.Sigset_t {
	var set unix.Sigset_t
	bits := uint(unsafe.Sizeof(set.Val[0]) * 8)
	for _, s := range sigs {
		n := uint(s) - 1
		set.Val[n/bits] |= 1 << (n % bits)
	}
	return &set
}

func unblock(sigs []syscall.Signal) error {
	if len(sigs) == 0 {
		return nil
	}
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, sigset(sigs), nil)
}

func blocked(sig syscall.Signal) (bool, error) {
	var cur unix.Sigset_t
	err := unix.PthreadSigmask(unix.SIG_BLOCK, nil, &cur)
	if err != nil {
		return false, err
	}

	want := sigset([]syscall.Signal{sig})
	for i := range cur.Val {
		if cur.Val[i]&want.Val[i] != 0 {
			return true, nil
		}
	}
	return false, nil
}

func block(sigs []syscall.Signal) error {
	return unix.PthreadSigmask(unix.SIG_BLOCK, sigset(sigs), nil)
}
