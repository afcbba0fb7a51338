//go:build linux

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/sigmask"
)

// The scenarios run in copies of the test binary. Every image of a scenario
// re-enters TestMain, so the helper is selected by environment.
const (
	scenarioEnv = "DAEMON_TEST_SCENARIO"
	dirEnv      = "DAEMON_TEST_DIR"
	pidfileEnv  = "DAEMON_TEST_PIDFILE"
	reportEnv   = "DAEMON_TEST_REPORT"
)

const (
	exitError    = 2
	exitLockHeld = 3
)

type fdReport struct {
	Open   bool   `json:"open"`
	Target string `json:"target,omitempty"`
	Ino    uint64 `json:"ino,omitempty"`
}

type report struct {
	PID       int              `json:"pid"`
	PPID      int              `json:"ppid"`
	SID       int              `json:"sid"`
	Cwd       string           `json:"cwd"`
	State     string           `json:"state"`
	Restarted bool             `json:"restarted"`
	Daemon    bool             `json:"daemon"`
	HupMasked bool             `json:"hup_masked"`
	Umask     int              `json:"umask"`
	FDs       map[int]fdReport `json:"fds"`
	Kept      string           `json:"kept,omitempty"`
	KeptFD    int              `json:"kept_fd,omitempty"`
}

func TestMain(m *testing.M) {
	if name := os.Getenv(scenarioEnv); name != "" {
		os.Exit(runScenario(name))
	}

	os.Exit(m.Run())
}

func runScenario(name string) int {
	opts := []Option{
		WithName("daemontest"),
		WithUmask(0o027),
		WithPIDFile(os.Getenv(pidfileEnv)),
	}
	if dir := os.Getenv(dirEnv); dir != "" {
		opts = append(opts, WithWorkDir(dir))
	}

	var kept *os.File
	openKept := func() bool {
		if CurrentState() != Foreground {
			return true
		}
		f, err := os.OpenFile(filepath.Join(os.Getenv(dirEnv), "kept.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		kept = f
		return true
	}

	switch name {
	case "basic":
		opts = append(opts, SkipOutputTie())
	case "keep":
		opts = append(opts, SkipOutputTie(), KeepDescriptors(3))
	case "keepfiles":
		if !openKept() {
			return exitError
		}
		opts = append(opts, SkipOutputTie(), KeepFiles(&kept))
	case "skipfd":
		if !openKept() {
			return exitError
		}
		// The bogus descriptor would fail validation if Keep were honoured.
		opts = append(opts, SkipFDManagement(), KeepDescriptors(1<<19), KeepFiles(&kept))
	case "nopidfile":
		opts = append(opts, SkipOutputTie(), WithPIDFile(""))
	case "restartfirst":
		if !Restarted() {
			err := Restart(nil)
			fmt.Fprintln(os.Stderr, err)
			return exitError
		}
		opts = append(opts, SkipOutputTie())
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", name)
		return exitError
	}

	err := Daemonize(New(opts...))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, derr.ErrLockHeld) {
			return exitLockHeld
		}
		return exitError
	}

	if kept != nil {
		fmt.Fprintf(kept, "written by %d\n", os.Getpid())
	}

	// Signals are caught before the report tells the test it may send them.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM)

	err = writeReport(kept)
	if err != nil {
		return exitError
	}

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGTERM {
				return 0
			}
			signal.Stop(sigs)
			Restart(nil)
			return exitError
		case <-time.After(time.Minute):
			return 0
		}
	}
}

func writeReport(kept *os.File) error {
	cwd, _ := os.Getwd()
	sid, _ := unix.Getsid(0)
	hupMasked, _ := sigmask.Blocked(syscall.SIGHUP)
	umask := unix.Umask(0)
	unix.Umask(umask)

	r := report{
		PID:       os.Getpid(),
		PPID:      os.Getppid(),
		SID:       sid,
		Cwd:       cwd,
		State:     CurrentState().String(),
		Restarted: Restarted(),
		Daemon:    Daemonized(),
		HupMasked: hupMasked,
		Umask:     umask,
		FDs:       map[int]fdReport{},
	}

	for fd := 0; fd <= 4; fd++ {
		var fr fdReport
		var st unix.Stat_t
		if unix.Fstat(fd, &st) == nil {
			fr.Open = true
			fr.Ino = st.Ino
			fr.Target, _ = os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
		}
		r.FDs[fd] = fr
	}

	if kept != nil {
		r.Kept = kept.Name()
		r.KeptFD = int(kept.Fd())
	}

	b, err := json.Marshal(&r)
	if err != nil {
		return err
	}

	path := os.Getenv(reportEnv)
	tmp := path + ".tmp"
	err = os.WriteFile(tmp, b, 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
