//go:build unix

// Package pidfile implements single-instance locking through a pidfile.
//
// The lock, not the file content, is what keeps a second instance out. The
// lock is a flock(2) lock, which belongs to the open file description: it is
// shared with children started with the descriptor, survives exec when the
// descriptor is inheritable, and is not dropped when some other descriptor on
// the same file is closed (unlike fcntl record locks). The content, the
// decimal pid and a newline, is for operator tooling only.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/fdset"
)

// Handle is an open and locked pidfile. The descriptor must stay open for the
// lifetime of the process; closing it releases the lock.
type Handle struct {
	path        string
	f           *os.File
	inheritable bool
}

// Path returns the path the pidfile was acquired at.
func (h *Handle) Path() string {
	return h.path
}

// Fd returns the descriptor holding the lock.
func (h *Handle) Fd() int {
	return int(h.f.Fd())
}

// Inheritable reports whether the descriptor survives image replacement.
func (h *Handle) Inheritable() bool {
	return h.inheritable
}

// SetInheritable controls whether the descriptor, and so the lock, survives
// image replacement.
func (h *Handle) SetInheritable(inheritable bool) error {
	err := fdset.SetInheritable(h.Fd(), inheritable)
	if err != nil {
		return derr.WithPath(derr.IO, "fcntl", h.path, err)
	}

	h.inheritable = inheritable
	return nil
}

// Acquire opens the pidfile at path, creating it if necessary, and takes an
// exclusive lock on it without waiting. If another process holds the lock,
// an error of kind derr.LockHeld is returned immediately.
//
// Nothing is written to the file; call WritePID once the process id is
// final. The descriptor is marked inheritable.
func Acquire(path string) (*Handle, error) {
	f, err := openPIDFile(path)
	if err != nil {
		return nil, err
	}

	h := &Handle{path: path, f: f}
	err = h.SetInheritable(true)
	if err != nil {
		f.Close()
		return nil, err
	}

	return h, nil
}

func openPIDFile(path string) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return nil, derr.WithPath(derr.KindOf(err, derr.IO), "open", path, err)
		}

		err = lock(f)
		if err != nil {
			f.Close()
			return nil, derr.WithPath(lockErrKind(err), "flock", path, err)
		}

		// The file may have been removed or replaced between opening and
		// locking it, by a previous holder cleaning up. Locking an unlinked
		// inode would let a second instance in, so check and retry.
		var st1, st2 unix.Stat_t
		err = unix.Fstat(int(f.Fd()), &st1)
		if err != nil {
			f.Close()
			return nil, derr.WithPath(derr.IO, "fstat", path, err)
		}

		err = unix.Stat(path, &st2)
		if err != nil {
			f.Close()

			if errors.Is(err, unix.ENOENT) {
				continue
			}

			return nil, derr.WithPath(derr.IO, "stat", path, err)
		}

		if st1.Dev != st2.Dev || st1.Ino != st2.Ino {
			f.Close()
			continue
		}

		return f, nil
	}
}

func lock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func lockErrKind(err error) derr.Kind {
	if errors.Is(err, unix.EWOULDBLOCK) {
		return derr.LockHeld
	}
	return derr.KindOf(err, derr.IO)
}

// Adopt wraps a descriptor inherited across image replacement which already
// holds the lock on path. The lock is re-asserted on the same open file
// description, which succeeds only if this process still owns it.
func Adopt(fd int, path string) (*Handle, error) {
	if !fdset.IsOpen(fd) {
		return nil, derr.WithPath(derr.IO, "adopt", path, unix.EBADF)
	}

	f := os.NewFile(uintptr(fd), path)
	err := lock(f)
	if err != nil {
		f.Close()
		return nil, derr.WithPath(lockErrKind(err), "flock", path, err)
	}

	h := &Handle{path: path, f: f}
	err = h.SetInheritable(true)
	if err != nil {
		f.Close()
		return nil, err
	}

	return h, nil
}

// SameFile reports whether path names the file locked by h.
func (h *Handle) SameFile(path string) bool {
	var st1, st2 unix.Stat_t
	if unix.Fstat(h.Fd(), &st1) != nil || unix.Stat(path, &st2) != nil {
		return false
	}
	return st1.Dev == st2.Dev && st1.Ino == st2.Ino
}

// WritePID replaces the content of the pidfile with the current process id
// followed by a newline.
func (h *Handle) WritePID() error {
	err := h.f.Truncate(0)
	if err != nil {
		return derr.WithPath(derr.IO, "truncate", h.path, err)
	}

	_, err = h.f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)
	if err != nil {
		return derr.WithPath(derr.IO, "write", h.path, err)
	}

	err = h.f.Sync()
	if err != nil {
		return derr.WithPath(derr.IO, "fsync", h.path, err)
	}

	return nil
}

// Close releases the lock. Pidfiles are normally held until exit, where the
// kernel releases them; Close exists for tests and for giving up a handle
// adopted at the wrong path.
func (h *Handle) Close() error {
	return h.f.Close()
}

// Read parses the process id stored in the pidfile at path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, s)
	}

	return pid, nil
}
