//go:build unix

package pidfile

import "golang.org/x/sys/unix"

func dupNoCloexec(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD, 10)
}
