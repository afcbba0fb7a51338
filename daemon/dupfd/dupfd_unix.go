//go:build unix && !linux

package dupfd

import "golang.org/x/sys/unix"

func dup2(sourceFD, targetFD int) error {
	return unix.Dup2(sourceFD, targetFD)
}
