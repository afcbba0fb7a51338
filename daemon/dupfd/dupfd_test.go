//go:build unix

package dupfd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDup2(t *testing.T) {
	dir := t.TempDir()

	src, err := os.Create(filepath.Join(dir, "src"))
	require.NoError(t, err)
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, Dup2(int(src.Fd()), int(dst.Fd())))

	_, err = dst.WriteString("hello")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "src"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	flags, err := unix.FcntlInt(dst.Fd(), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.FD_CLOEXEC, "duplicate must be inheritable")

	assert.NoError(t, Dup2(int(src.Fd()), int(src.Fd())))
}
