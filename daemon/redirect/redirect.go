//go:build unix

// Package redirect detaches a process's standard streams from its terminal.
//
// Run closes inherited descriptors, points standard input, output and error at
// the null device and, optionally, ties output and error to a log sink.
package redirect

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/dupfd"
	"gopkg.in/hlandau/daemonize.v1/daemon/fdset"
	"gopkg.in/hlandau/daemonize.v1/daemon/logsink"
)

// Redirector describes one redirection pass.
//
// Existing *os.File values for the standard streams (os.Stdout and so on)
// remain usable afterwards, but refer to whatever now occupies their
// descriptor numbers.
type Redirector struct {
	// Descriptors to leave open. 0, 1 and 2 are always replaced rather than
	// closed and need not be listed.
	Keep fdset.Set

	// Tie output and error to Sink. If false both are discarded.
	Tie  bool
	Sink logsink.Sink

	Logger logrus.FieldLogger

	// Descriptors standing in for 0, 1 and 2. Tests use this to exercise
	// the pass without losing their own output.
	targets *[3]int
}

func (r *Redirector) fds() [3]int {
	if r.targets != nil {
		return *r.targets
	}
	return [3]int{0, 1, 2}
}

func (r *Redirector) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

// Run performs the redirection.
//
// Descriptors flagged close-on-exec are not closed; see fdset.CloseExcept. A
// sink that cannot be opened leaves its stream on the null device and is
// never reported as an error.
func (r *Redirector) Run() error {
	targets := r.fds()

	keep := fdset.Of(0, 1, 2).Union(r.Keep)
	keep.Add(targets[:]...)

	closed, err := fdset.CloseExcept(keep)
	if err != nil {
		return derr.New(derr.IO, "close descriptors", err)
	}
	if len(closed) > 0 {
		r.logger().WithField("fds", closed).Debug("closed inherited descriptors")
	}

	err = nullify(targets[:])
	if err != nil {
		return err
	}

	if !r.Tie || r.Sink == nil {
		return nil
	}

	r.tie(logsink.Stdout, targets[1])
	r.tie(logsink.Stderr, targets[2])
	return nil
}

func nullify(targets []int) error {
	null, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return derr.WithPath(derr.KindOf(err, derr.IO), "open", os.DevNull, err)
	}

	nullIsTarget := false
	for _, fd := range targets {
		if fd == null {
			nullIsTarget = true
			continue
		}

		err = dupfd.Dup2(null, fd)
		if err != nil {
			unix.Close(null)
			return derr.FromErrno(derr.IO, "dup2", err)
		}
	}

	if nullIsTarget {
		// The target slot was free, so the null device landed on it directly
		// and still carries the close-on-exec flag from opening.
		err = fdset.SetInheritable(null, true)
		if err != nil {
			return derr.FromErrno(derr.IO, "fcntl", err)
		}
	} else {
		unix.Close(null)
	}

	return nil
}

func (r *Redirector) tie(stream logsink.Stream, target int) {
	log := r.logger().WithField("stream", stream.String())

	w, err := r.Sink.Open(stream)
	if err != nil {
		if errors.Is(err, derr.ErrSinkUnavailable) {
			log.WithError(err).Debug("log sink unavailable, discarding")
		} else {
			log.WithError(err).Warn("cannot open log sink, discarding")
		}
		return
	}

	if f, ok := w.(*os.File); ok {
		err = dupfd.Dup2(int(f.Fd()), target)
		f.Close()
		if err != nil {
			log.WithError(err).Warn("cannot install log sink, discarding")
		}
		return
	}

	err = pump(w, target)
	if err != nil {
		w.Close()
		log.WithError(err).Warn("cannot install log sink, discarding")
	}
}

// pump installs the write end of a pipe at target and copies what arrives at
// the read end to w, one line per write.
func pump(w io.WriteCloser, target int) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}

	err = dupfd.Dup2(int(pw.Fd()), target)
	pw.Close()
	if err != nil {
		pr.Close()
		return err
	}

	pumped.add(target)
	go copyLines(w, pr)
	return nil
}

func copyLines(w io.WriteCloser, r io.ReadCloser) {
	defer r.Close()
	defer w.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			// Write errors are dropped; there is nowhere left to report them.
			w.Write(line)
		}
		if err != nil {
			return
		}
	}
}

var pumped pumpSet

type pumpSet struct {
	mu  sync.Mutex
	fds []int
}

func (s *pumpSet) add(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fds = append(s.fds, fd)
}

func (s *pumpSet) list() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fds...)
}

// Detach points every stream fed by a pump back at the null device.
//
// The pump goroutines do not survive image replacement, so a new image
// writing to an orphaned pipe would be killed by SIGPIPE. Call Detach just
// before exec; if the exec fails, call the returned function to reattach the
// streams.
func Detach() (restore func(), err error) {
	fds := pumped.list()
	if len(fds) == 0 {
		return func() {}, nil
	}

	null, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, derr.WithPath(derr.KindOf(err, derr.IO), "open", os.DevNull, err)
	}
	defer unix.Close(null)

	saved := make(map[int]int, len(fds))
	restore = func() {
		for fd, s := range saved {
			dupfd.Dup2(s, fd)
			unix.Close(s)
		}
	}

	for _, fd := range fds {
		s, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 3)
		if err != nil {
			restore()
			return nil, derr.FromErrno(derr.Resource, "dup", err)
		}
		saved[fd] = s

		err = dupfd.Dup2(null, fd)
		if err != nil {
			restore()
			return nil, derr.FromErrno(derr.IO, "dup2", err)
		}
	}

	return restore, nil
}
