//go:build unix

// Package fdset enumerates and closes the descriptors of the current process.
package fdset

import (
	"sort"

	"golang.org/x/sys/unix"
)

// Set is a set of descriptor numbers.
type Set map[int]struct{}

// Of returns a Set holding fds.
func Of(fds ...int) Set {
	s := make(Set, len(fds))
	s.Add(fds...)
	return s
}

// Add adds fds to the set.
func (s Set) Add(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			s[fd] = struct{}{}
		}
	}
}

// Has reports whether fd is in the set. A nil Set is empty.
func (s Set) Has(fd int) bool {
	_, ok := s[fd]
	return ok
}

// Union returns a new Set holding the members of s and o.
func (s Set) Union(o Set) Set {
	u := make(Set, len(s)+len(o))
	for fd := range s {
		u[fd] = struct{}{}
	}
	for fd := range o {
		u[fd] = struct{}{}
	}
	return u
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []int {
	fds := make([]int, 0, len(s))
	for fd := range s {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// Limit returns the soft descriptor limit of the process.
func Limit() int {
	var rl unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl)
	if err != nil || rl.Cur == unix.RLIM_INFINITY || rl.Cur > 1<<20 {
		return 1 << 20
	}
	return int(rl.Cur)
}

// IsOpen reports whether fd refers to an open descriptor.
func IsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseOnExec reports whether fd has FD_CLOEXEC set.
func CloseOnExec(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return false, err
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// SetInheritable clears or sets FD_CLOEXEC on fd.
func SetInheritable(fd int, inheritable bool) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}

	if inheritable {
		flags &^= unix.FD_CLOEXEC
	} else {
		flags |= unix.FD_CLOEXEC
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags)
	return err
}

// List returns the open descriptors of the process in ascending order, up to
// the descriptor limit.
func List() ([]int, error) {
	fds, err := listFast()
	if err != nil {
		fds = listScan(Limit())
	}

	// The directory listing itself used a descriptor that is now closed.
	open := fds[:0]
	for _, fd := range fds {
		if IsOpen(fd) {
			open = append(open, fd)
		}
	}

	return open, nil
}

func listScan(limit int) []int {
	var fds []int
	for fd := 0; fd < limit; fd++ {
		if IsOpen(fd) {
			fds = append(fds, fd)
		}
	}
	return fds
}

// CloseExcept closes every open descriptor not in keep.
//
// Descriptors flagged close-on-exec are left alone. In a Go program these
// belong to the runtime (the netpoller) or to *os.File values, and closing them
// behind the owner's back corrupts the process. They are closed by the kernel
// at the next image replacement anyway.
//
// Returns the descriptors closed.
func CloseExcept(keep Set) ([]int, error) {
	fds, err := List()
	if err != nil {
		return nil, err
	}

	var closed []int
	for _, fd := range fds {
		if keep.Has(fd) {
			continue
		}

		cloexec, err := CloseOnExec(fd)
		if err != nil || cloexec {
			continue
		}

		if unix.Close(fd) == nil {
			closed = append(closed, fd)
		}
	}

	return closed, nil
}

// MarkCloseOnExecExcept sets FD_CLOEXEC on every open descriptor not in keep,
// so that only the members of keep survive the next image replacement.
func MarkCloseOnExecExcept(keep Set) error {
	fds, err := List()
	if err != nil {
		return err
	}

	for _, fd := range fds {
		if keep.Has(fd) {
			continue
		}
		unix.CloseOnExec(fd)
	}

	return nil
}
