//go:build linux

package caps

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const platformSupportsCaps = true

type capData [2]unix.CapUserData

func header() *unix.CapUserHeader {
	return &unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
}

func haveAny() bool {
	var data capData
	err := unix.Capget(header(), &data[0])
	if err != nil {
		// Assume the worst.
		return true
	}

	for _, d := range data {
		if d.Effective != 0 || d.Permitted != 0 {
			return true
		}
	}

	return false
}

func drop() error {
	var data capData
	hdr := header()

	_, _, e1 := syscall.AllThreadsSyscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	if e1 == 0 {
		return nil
	}
	if e1 != syscall.ENOTSUP {
		return e1
	}

	// cgo is linked in; only the calling thread can be changed.
	return unix.Capset(hdr, &data[0])
}
