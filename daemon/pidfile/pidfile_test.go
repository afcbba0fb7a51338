//go:build unix

package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/fdset"
)

func TestAcquireAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, path, h.Path())
	assert.True(t, h.Inheritable())

	cloexec, err := fdset.CloseOnExec(h.Fd())
	require.NoError(t, err)
	assert.False(t, cloexec)

	// Acquire does not write.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, b)

	require.NoError(t, h.WritePID())
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(b))

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(path, []byte("1234567890\ngarbage\n"), 0o644))

	h, err := Acquire(path)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.WritePID())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(b))
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.WritePID())

	// A second open file description conflicts even within one process.
	_, err = Acquire(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, derr.ErrLockHeld)
	assert.Equal(t, derr.LockHeld, derr.KindOf(err, derr.IO))

	// The holder's content is untouched.
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestAcquireMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent", "test.pid")

	_, err := Acquire(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, derr.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSetInheritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.SetInheritable(false))
	assert.False(t, h.Inheritable())
	cloexec, err := fdset.CloseOnExec(h.Fd())
	require.NoError(t, err)
	assert.True(t, cloexec)

	require.NoError(t, h.SetInheritable(true))
	assert.True(t, h.Inheritable())
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	// Missing file is not locked and is not created.
	require.NoError(t, Probe(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	fl := flock.New(path)
	ok, err := fl.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	err = Probe(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, derr.ErrLockHeld)
	assert.Contains(t, err.Error(), "4242")

	require.NoError(t, fl.Unlock())
	require.NoError(t, Probe(path))
}

func TestProbeSeesAcquiredLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.WritePID())

	assert.ErrorIs(t, Probe(path), derr.ErrLockHeld)

	require.NoError(t, h.Close())
	assert.NoError(t, Probe(path))
}

func TestAdopt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)

	// Simulate the descriptor arriving in a new image.
	fd, err := dupNoCloexec(h.Fd())
	require.NoError(t, err)

	a, err := Adopt(fd, path)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.SameFile(path))
	assert.True(t, a.Inheritable())
	require.NoError(t, a.WritePID())

	// The lock is held through the shared open file description, so it
	// survives closing the original descriptor.
	require.NoError(t, h.Close())
	assert.ErrorIs(t, Probe(path), derr.ErrLockHeld)
}

func TestAdoptClosedDescriptor(t *testing.T) {
	_, err := Adopt(1<<19, "/nonexistent.pid")
	require.Error(t, err)
	assert.ErrorIs(t, err, derr.ErrIO)
}

func TestSameFileReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	h, err := Acquire(path)
	require.NoError(t, err)
	defer h.Close()

	assert.True(t, h.SameFile(path))
	require.NoError(t, os.Remove(path))
	assert.False(t, h.SameFile(path))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.False(t, h.SameFile(path))
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		content string
		pid     int
		ok      bool
	}{
		{"123\n", 123, true},
		{"  77  ", 77, true},
		{"", 0, false},
		{"abc\n", 0, false},
		{"-5\n", 0, false},
		{"0\n", 0, false},
	}

	for i, tt := range tests {
		path := filepath.Join(dir, fmt.Sprintf("%d.pid", i))
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

		pid, err := Read(path)
		if tt.ok {
			require.NoError(t, err, "content %q", tt.content)
			assert.Equal(t, tt.pid, pid)
		} else {
			assert.Error(t, err, "content %q", tt.content)
		}
	}

	_, err := Read(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))
}
