//go:build unix

package daemon

import (
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/redirect"
	"gopkg.in/hlandau/daemonize.v1/daemon/sigmask"
	"gopkg.in/hlandau/daemonize.v1/exepath"
	"gopkg.in/hlandau/daemonize.v1/sdnotify"
)

// Restart replaces the process image with a fresh copy of the program. It
// returns only if that fails.
//
// The program is started with args as its complete argument vector, args[0]
// being the program name it sees, or with the arguments it was originally
// started with if args is nil. The binary run is always exepath.Abs. The new image resumes as a daemon: calling
// Daemonize there skips the privilege drop and forks, and takes over the
// pidfile descriptor, whose lock is never released in between. A process
// holding no pidfile restarts the same way, without one. A process that has
// not daemonized restarts in the foreground, and Daemonize there runs the
// full sequence, privilege drop and lock check included.
//
// Signals in sigmask.Default are unblocked first, so that a restart triggered
// from a handler for one of them does not leave it blocked in the new image.
func Restart(args []string) error {
	if args == nil {
		args = reexecArgs()
	}

	// The signal mask is per-thread and exec happens on the calling one.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := sigmask.Default.Apply()
	if err != nil {
		return derr.New(derr.Resource, "unmask signals", err)
	}

	restore, err := redirect.Detach()
	if err != nil {
		return err
	}

	mu.Lock()
	h, wasDaemon, files := pidHandle, daemonized, boundFiles
	mu.Unlock()

	state := Foreground
	if wasDaemon {
		state = FinalChild
	}

	env := childEnv(envVar(stageEnv, stageToken(state, true)))
	if len(files) > 0 {
		env = append(env, envVar(filesEnv, encodeFiles(files)))
	}

	if h != nil {
		err = h.SetInheritable(true)
		if err != nil {
			restore()
			return err
		}
		env = append(env, envVar(pidfileFDEnv, strconv.Itoa(h.Fd())))
	}

	sdnotify.Send("RELOADING=1")

	err = unix.Exec(exepath.Abs, args, env)
	restore()
	return derr.FromErrno(derr.Resource, "exec", err)
}
