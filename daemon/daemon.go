//go:build unix

// Package daemon provides functions to assist with the writing of UNIX-style
// daemons in go.
//
// Daemonize performs the classic sequence: drop privileges, set the umask,
// fork, create a new session, fork again, change directory, lock the
// pidfile, detach the standard streams and record the process id. Restart
// replaces the image of a running daemon while keeping its pidfile locked.
//
// Go cannot fork a running runtime, so both forks start a fresh copy of the
// program, which runs again from the top of main until it reaches Daemonize
// and resumes the sequence where its parent left off. See State.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/bansuid"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/fdset"
	"gopkg.in/hlandau/daemonize.v1/daemon/pidfile"
	"gopkg.in/hlandau/daemonize.v1/daemon/redirect"
	"gopkg.in/hlandau/daemonize.v1/exepath"
	"gopkg.in/hlandau/daemonize.v1/sdnotify"
)

var (
	mu         sync.Mutex
	pidHandle  *pidfile.Handle
	daemonized bool
	boundFiles []keptFile
)

// PIDFile returns the pidfile locked by Daemonize, or nil if there is none.
func PIDFile() *pidfile.Handle {
	mu.Lock()
	defer mu.Unlock()
	return pidHandle
}

// Daemonized reports whether Daemonize has completed in this image.
func Daemonized() bool {
	mu.Lock()
	defer mu.Unlock()
	return daemonized
}

// Daemonize detaches the process from its terminal according to cfg.
//
// In the Foreground state, errors are returned before anything has forked
// and the caller should abort. On success the Foreground process exits with
// status 0 and Daemonize never returns there; it returns nil only in the
// final image. Failures in intermediate and final images are logged and the
// image exits with status 1, since nobody is left to receive an error.
//
// Everything the process does before calling Daemonize is repeated by every
// image, so the call belongs as early in main as possible.
//
// Descriptors the caller did not keep are closed across each fork, but the
// final image's own close-on-exec descriptors are left open: those are held by
// the Go runtime or by files the program opened before reaching Daemonize,
// and they stay valid in the daemon. With SkipFDManagement nothing is closed,
// Keep is ignored and the standard streams are left as they are; KeepFiles
// still cross.
func Daemonize(cfg Config) error {
	d := &daemonizer{
		cfg:  cfg,
		keep: fdset.Of().Union(cfg.Keep),
	}

	if cfg.Logger == nil {
		d.cfg.Logger = logrus.StandardLogger()
	}

	if currentState == Foreground {
		return d.foreground()
	}

	d.child()
	return nil
}

type daemonizer struct {
	cfg   Config
	keep  fdset.Set
	files []keptFile
}

func (d *daemonizer) log() *logrus.Entry {
	return d.cfg.Logger.WithFields(logrus.Fields{
		"daemon": d.cfg.Name,
		"pid":    os.Getpid(),
		"state":  currentState.String(),
	})
}

func (d *daemonizer) fatal(err error) {
	d.log().WithError(err).Error("daemonization failed")
	os.Exit(1)
}

func (d *daemonizer) foreground() error {
	for _, k := range d.cfg.keepFiles {
		d.files = append(d.files, keptFile{fd: k.fd, name: k.name})
	}

	if !d.cfg.SkipFDManagement {
		for _, fd := range d.keep.Sorted() {
			if !fdset.IsOpen(fd) {
				return derr.New(derr.IO, "keep descriptor "+strconv.Itoa(fd), unix.EBADF)
			}
		}
	}

	// A restarted daemon resumes as FinalChild and never gets here, so a
	// Foreground image always drops privileges and checks the lock, even one
	// started by Restart.
	err := d.dropPrivileges()
	if err != nil {
		return err
	}

	unix.Umask(d.cfg.Umask)

	if d.cfg.PIDFile != "" {
		err = pidfile.Probe(d.cfg.PIDFile)
		if err != nil {
			return err
		}
	}

	err = d.spawn(FirstChild)
	if err != nil {
		return err
	}

	os.Exit(0)
	return nil
}

func (d *daemonizer) dropPrivileges() error {
	c := d.cfg.Credentials
	if c != nil {
		err := DropPrivileges(*c)
		if err != nil {
			return err
		}
		d.log().WithField("credentials", c.String()).Debug("dropped privileges")
	}

	if d.cfg.BanSuid {
		err := bansuid.BanSuid()
		if errors.Is(err, bansuid.ErrNotSupported) {
			d.log().Warn("cannot ban privilege gain on this platform")
		} else if err != nil {
			return derr.FromErrno(derr.Permission, "bansuid", err)
		}
	}

	return nil
}

func (d *daemonizer) child() {
	d.files = decodeFiles(os.Getenv(filesEnv))
	for _, k := range d.files {
		if k.fd >= 0 {
			d.keep.Add(k.fd)
		}
	}

	unix.Umask(d.cfg.Umask)

	switch currentState {
	case FirstChild:
		_, err := unix.Setsid()
		if err != nil {
			d.fatal(derr.FromErrno(derr.Resource, "setsid", err))
		}
		currentState = SessionLeader

		err = d.spawn(FinalChild)
		if err != nil {
			d.fatal(err)
		}
		os.Exit(0)

	case FinalChild:
		d.final()

	default:
		d.fatal(fmt.Errorf("unexpected state %v", currentState))
	}
}

// spawn starts the image for state next and returns. Standard streams and
// kept descriptors are passed at their own numbers; every other descriptor
// is closed in the new image.
//
// With SkipFDManagement only the KeepFiles descriptors are passed explicitly,
// since Go opens them close-on-exec. Everything else crosses or not as its
// own flags say.
func (d *daemonizer) spawn(next State) error {
	pass := d.keep
	if d.cfg.SkipFDManagement {
		pass = fdset.Of()
		for _, k := range d.files {
			if k.fd >= 0 {
				pass.Add(k.fd)
			}
		}
	}

	files := []uintptr{0, 1, 2}
	for _, fd := range pass.Sorted() {
		if fd < 3 {
			continue
		}
		for len(files) < fd {
			files = append(files, d.gap(len(files)))
		}
		files = append(files, uintptr(fd))
	}

	if !d.cfg.SkipFDManagement {
		err := fdset.MarkCloseOnExecExcept(d.keep.Union(fdset.Of(0, 1, 2)))
		if err != nil {
			return derr.New(derr.IO, "mark descriptors", err)
		}
	}

	env := childEnv(envVar(stageEnv, stageToken(next, false)))
	if len(d.files) > 0 {
		env = append(env, envVar(filesEnv, encodeFiles(d.files)))
	}

	_, _, err := syscall.StartProcess(exepath.Abs, reexecArgs(), &syscall.ProcAttr{
		Env:   env,
		Files: files,
	})
	if err != nil {
		return derr.FromErrno(derr.Resource, "fork", err)
	}

	return nil
}

// gap returns the ProcAttr entry for a slot below the highest passed
// descriptor. StartProcess closes empty slots, so with SkipFDManagement an
// inheritable descriptor there is passed as itself to leave it untouched.
func (d *daemonizer) gap(fd int) uintptr {
	if !d.cfg.SkipFDManagement {
		return ^uintptr(0)
	}

	cloexec, err := fdset.CloseOnExec(fd)
	if err != nil || cloexec {
		return ^uintptr(0)
	}
	return uintptr(fd)
}

func (d *daemonizer) final() {
	log := d.log()

	err := unix.Chdir(d.cfg.WorkDir)
	if err != nil {
		log.WithError(err).WithField("dir", d.cfg.WorkDir).Warn("cannot change working directory")
	}

	d.bindFiles()

	if !d.cfg.SkipFDManagement {
		for _, fd := range d.keep.Sorted() {
			if !fdset.IsOpen(fd) {
				log.WithField("fd", fd).Warn("kept descriptor was not inherited")
			}
		}
	}

	h, err := d.acquirePIDFile()
	if err != nil {
		d.fatal(err)
	}

	if !d.cfg.SkipFDManagement {
		keep := fdset.Of().Union(d.keep)
		if h != nil {
			keep.Add(h.Fd())
		}

		r := &redirect.Redirector{
			Keep:   keep,
			Tie:    !d.cfg.SkipOutputTie,
			Sink:   d.cfg.Sink,
			Logger: log,
		}

		err = r.Run()
		if err != nil {
			d.fatal(err)
		}
	}

	if h != nil {
		err = h.WritePID()
		if err != nil {
			d.fatal(err)
		}
	}

	sdnotify.Send(fmt.Sprintf("MAINPID=%d", os.Getpid()))
	unsetDaemonizeVars()

	mu.Lock()
	pidHandle = h
	daemonized = true
	boundFiles = d.files
	mu.Unlock()

	log.WithField("restarted", restarted).Debug("daemonized")
}

// bindFiles points the KeepFiles pointers at the inherited descriptors.
func (d *daemonizer) bindFiles() {
	for i, k := range d.cfg.keepFiles {
		if i >= len(d.files) || d.files[i].fd < 0 {
			continue
		}

		f := d.files[i]
		if !fdset.IsOpen(f.fd) {
			// Never wrap a number the image did not inherit; it would be
			// reused by the next open.
			d.log().WithField("fd", f.fd).Warn("kept file was not inherited")
			*k.ptr = nil
			continue
		}
		*k.ptr = os.NewFile(uintptr(f.fd), f.name)
		d.keep.Add(f.fd)
	}
}

func (d *daemonizer) acquirePIDFile() (*pidfile.Handle, error) {
	path := d.cfg.PIDFile

	inherited := -1
	if s := os.Getenv(pidfileFDEnv); restarted && s != "" {
		fd, err := strconv.Atoi(s)
		if err == nil {
			inherited = fd
		}
	}

	if inherited >= 0 {
		if path == "" {
			// Pidfile no longer configured; release the lock.
			unix.Close(inherited)
			return nil, nil
		}

		h, err := pidfile.Adopt(inherited, path)
		if err == nil && h.SameFile(path) {
			return h, nil
		}

		if err == nil {
			h.Close()
			err = errors.New("pidfile was replaced")
		}
		d.log().WithError(err).WithField("pidfile", path).Warn("cannot adopt inherited pidfile, reacquiring")
	}

	if path == "" {
		return nil, nil
	}

	return pidfile.Acquire(path)
}
