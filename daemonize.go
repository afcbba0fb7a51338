// Package daemonize wraps all the complexity of writing daemons while enabling
// seamless integration with OS service management facilities.
package daemonize // import "gopkg.in/hlandau/daemonize.v1"

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// This function should typically be called directly from func main(). It takes
// care of all housekeeping for running services and handles service lifecycle.
func Main(info *Info) {
	info.main()
}

// Run is like Main, but returns errors rather than exiting.
func Run(info *Info) error {
	return info.maine()
}

// The interface between the service library and the application-specific code.
// The application calls the methods in the provided instance of this interface
// at various stages in its lifecycle.
type Manager interface {
	// Must be called when the service is ready to drop privileges.
	// This must be called before SetStarted().
	DropPrivileges() error

	// Must be called by a service payload when it has finished starting.
	SetStarted()

	// A service payload must stop when this channel is closed.
	StopChan() <-chan struct{}

	// Called by a service payload to provide a single line of information on the
	// current status of that service.
	SetStatus(status string)
}

// An instantiable service.
//
// Privileges are dropped by the service itself when it calls
// smgr.DropPrivileges, after it has acquired whatever needs them, such as
// privileged ports. Daemonization runs earlier, so with Config.PIDFile set the
// pidfile is created and locked as the invoking user, and Config.UID must be
// able to live with that. The daemon package offers the reverse order through
// daemon.DropTo for programs that need no privileged setup.
type Info struct {
	Name string // Required. Codename for the service, e.g. "foobar"

	// Required. Starts the service. Must not return until the service has
	// stopped. Must call smgr.SetStarted() to indicate when it has finished
	// starting and use smgr.StopChan() to determine when to stop.
	//
	// Should call SetStatus() periodically with a status string.
	RunFunc func(smgr Manager) error

	Title       string // Optional. Friendly name for the service, e.g. "Foobar Web Server"
	Description string // Optional. Single line description for the service

	AllowRoot bool // May the service run as root? If false, the service will refuse to run as root unless privilege dropping is set.
	NoBanSuid bool // Set to true if the ability to execute suid binaries must be retained.

	// Signals which stop the service and then restart it in place, keeping
	// its pidfile locked. SIGHUP is always included.
	RestartSignals []syscall.Signal

	Config Config

	Logger logrus.FieldLogger // Optional. Defaults to the logrus standard logger.

	// Are we being started by systemd with [Service] Type=notify?
	// If so, we can issue service status notifications to systemd.
	systemd bool
}

// Config holds the operator-facing settings of a service, usually bound to
// command line flags with AddFlags.
type Config struct {
	Daemon  bool   // Detach from the terminal.
	PIDFile string // Lock and record the process id in this file.
	UID     string // User name or id to drop privileges to.
	GID     string // Group name or id to drop privileges to. Defaults to the user's group.
	Chdir   string // Working directory once detached. Defaults to "/".
	LogFile string // Send standard output and error here rather than to syslog.
}

// AddFlags registers the service options on fs.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.Daemon, "daemon", c.Daemon, "Run as a daemon (detach from terminal)")
	fs.StringVar(&c.PIDFile, "pidfile", c.PIDFile, "Write PID to file with given filename and hold a write lock")
	fs.StringVar(&c.UID, "uid", c.UID, "UID to run as (default: don't drop privileges)")
	fs.StringVar(&c.GID, "gid", c.GID, "GID to run as (default: don't drop privileges)")
	fs.StringVar(&c.Chdir, "chdir", c.Chdir, "Working directory when running as a daemon (default: /)")
	fs.StringVar(&c.LogFile, "logfile", c.LogFile, "Append output of the daemon to this file (default: syslog)")
}

func (info *Info) main() {
	err := info.maine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in service: %+v\n", err)
		os.Exit(1)
	}
}

func (info *Info) maine() error {
	info.setDefaults()
	return info.serviceMain()
}

func (info *Info) setDefaults() {
	if info.Name == "" {
		panic("service name must be specified")
	}
	if info.Title == "" {
		info.Title = info.Name
	}
	if info.Description == "" {
		info.Description = info.Title
	}
	if info.Logger == nil {
		info.Logger = logrus.StandardLogger()
	}
}

func (info *Info) log() logrus.FieldLogger {
	return info.Logger.WithField("service", info.Name)
}

type ihandler struct {
	info             *Info
	stopChan         chan struct{}
	statusMutex      sync.Mutex
	statusNotifyChan chan struct{}
	startedChan      chan struct{}
	status           string
	started          bool
	stopping         bool
	dropped          bool
}

func newHandler(info *Info) *ihandler {
	return &ihandler{
		info:             info,
		stopChan:         make(chan struct{}),
		statusNotifyChan: make(chan struct{}, 1),
		startedChan:      make(chan struct{}, 1),
	}
}

func (h *ihandler) SetStarted() {
	if !h.dropped {
		panic("service must call DropPrivileges before calling SetStarted")
	}

	select {
	case h.startedChan <- struct{}{}:
	default:
	}
}

func (h *ihandler) StopChan() <-chan struct{} {
	return h.stopChan
}

func (h *ihandler) SetStatus(status string) {
	h.statusMutex.Lock()
	h.status = status
	h.statusMutex.Unlock()

	select {
	case h.statusNotifyChan <- struct{}{}:
	default:
	}
}

func (h *ihandler) Status() string {
	h.statusMutex.Lock()
	defer h.statusMutex.Unlock()
	return h.status
}

func (h *ihandler) updateStatus() {
	status := h.Status()

	// systemd
	if h.info.systemd {
		s := ""
		if h.started {
			s += "READY=1\n"
		}
		if h.stopping {
			s += "STOPPING=1\n"
		}
		if status != "" {
			s += "STATUS=" + status + "\n"
		}
		systemdUpdateStatus(s)
		// ignore error
	}

	if status != "" {
		h.info.log().WithField("status", status).Debug("status changed")
	}
}

// run runs the payload until it returns, treating the signals arriving on sig
// as stop requests. Reports whether the stop was requested by a restart
// signal.
func (info *Info) run(smgr *ihandler, sig <-chan os.Signal) (restart bool, err error) {
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- info.RunFunc(smgr)
	}()

loop:
	for {
		select {
		case s := <-sig:
			if !smgr.stopping {
				restart = info.isRestartSignal(s)
				info.log().WithField("signal", s.String()).Info("stopping")
				smgr.stopping = true
				close(smgr.stopChan)
				smgr.updateStatus()
			}
		case <-smgr.startedChan:
			if !smgr.started {
				smgr.started = true
				smgr.updateStatus()
			}
		case <-smgr.statusNotifyChan:
			smgr.updateStatus()
		case err = <-doneChan:
			break loop
		}
	}

	return restart, err
}

func (info *Info) restartSignals() []syscall.Signal {
	sigs := []syscall.Signal{syscall.SIGHUP}
	for _, s := range info.RestartSignals {
		if s != syscall.SIGHUP {
			sigs = append(sigs, s)
		}
	}
	return sigs
}

func (info *Info) isRestartSignal(s os.Signal) bool {
	for _, r := range info.restartSignals() {
		if s == r {
			return true
		}
	}
	return false
}

// © 2015 Hugo Landau <hlandau@devever.net>  ISC License
