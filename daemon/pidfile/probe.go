//go:build unix

package pidfile

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/gofrs/flock"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
)

// Probe checks whether another process holds the lock on the pidfile at path.
// It returns an error of kind derr.LockHeld if so, and nil if the file is
// unlocked or does not exist. The file is never created or modified.
//
// The answer is advisory: the lock may be taken between Probe and Acquire. It
// lets a process fail before detaching from its terminal, where the error is
// still visible. Note that flock(2) locks conflict between open file
// descriptions, so a process probing a pidfile it holds itself sees it as
// held.
func Probe(path string) error {
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))

	ok, err := fl.TryLock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return derr.WithPath(derr.KindOf(err, derr.IO), "probe", path, err)
	}

	if !ok {
		pid, _ := Read(path)
		return derr.WithPath(derr.LockHeld, "probe", path, &heldError{pid: pid})
	}

	return fl.Unlock()
}

type heldError struct {
	pid int
}

func (e *heldError) Error() string {
	if e.pid > 0 {
		return "already running as pid " + strconv.Itoa(e.pid)
	}
	return "already running"
}
