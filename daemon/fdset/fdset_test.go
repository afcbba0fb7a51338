//go:build linux

package fdset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openRaw(t *testing.T, cloexec bool) int {
	t.Helper()

	flags := unix.O_RDONLY
	if cloexec {
		flags |= unix.O_CLOEXEC
	}

	fd, err := unix.Open(os.DevNull, flags, 0)
	require.NoError(t, err)
	return fd
}

// everythingBut keeps every descriptor the test binary already has open, so
// the close pass only touches what the test created.
func everythingBut(t *testing.T, fds ...int) Set {
	t.Helper()

	all, err := List()
	require.NoError(t, err)

	keep := Of(all...)
	for _, fd := range fds {
		delete(keep, fd)
	}
	return keep
}

func TestSet(t *testing.T) {
	s := Of(5, 3, -1)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(-1))
	assert.Equal(t, []int{3, 5}, s.Sorted())

	u := s.Union(Of(1))
	assert.Equal(t, []int{1, 3, 5}, u.Sorted())
	assert.Equal(t, []int{3, 5}, s.Sorted())

	var empty Set
	assert.False(t, empty.Has(0))
}

func TestListMatchesScan(t *testing.T) {
	fd := openRaw(t, false)
	defer unix.Close(fd)

	fds, err := List()
	require.NoError(t, err)
	assert.Contains(t, fds, fd)
	assert.Contains(t, fds, 0)

	assert.Equal(t, listScan(fds[len(fds)-1]+1), fds)
}

func TestCloseExcept(t *testing.T) {
	plain := openRaw(t, false)
	kept := openRaw(t, false)
	cloexec := openRaw(t, true)
	defer unix.Close(cloexec)
	defer unix.Close(kept)

	keep := everythingBut(t, plain, kept, cloexec)
	keep.Add(kept)

	closed, err := CloseExcept(keep)
	require.NoError(t, err)
	assert.Equal(t, []int{plain}, closed)

	assert.False(t, IsOpen(plain))
	assert.True(t, IsOpen(kept))
	assert.True(t, IsOpen(cloexec), "close-on-exec descriptors belong to their owner")
}

func TestMarkCloseOnExecExcept(t *testing.T) {
	a := openRaw(t, false)
	b := openRaw(t, false)
	defer unix.Close(a)
	defer unix.Close(b)

	keep := everythingBut(t, a, b)
	keep.Add(b)

	// Leave the rest of the table as it was.
	before := map[int]bool{}
	for fd := range keep {
		before[fd], _ = CloseOnExec(fd)
	}

	require.NoError(t, MarkCloseOnExecExcept(keep))

	ce, err := CloseOnExec(a)
	require.NoError(t, err)
	assert.True(t, ce)

	ce, err = CloseOnExec(b)
	require.NoError(t, err)
	assert.False(t, ce)

	for fd, was := range before {
		if !IsOpen(fd) {
			continue
		}
		now, _ := CloseOnExec(fd)
		assert.Equal(t, was, now, "fd %d", fd)
	}
}

func TestSetInheritable(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x"))
	require.NoError(t, err)
	defer f.Close()

	fd := int(f.Fd())
	ce, err := CloseOnExec(fd)
	require.NoError(t, err)
	assert.True(t, ce, "os.File descriptors start close-on-exec")

	require.NoError(t, SetInheritable(fd, true))
	ce, _ = CloseOnExec(fd)
	assert.False(t, ce)

	require.NoError(t, SetInheritable(fd, false))
	ce, _ = CloseOnExec(fd)
	assert.True(t, ce)
}

func TestLimit(t *testing.T) {
	assert.Greater(t, Limit(), 2)
}
