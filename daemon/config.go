//go:build unix

package daemon

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/hlandau/daemonize.v1/daemon/fdset"
	"gopkg.in/hlandau/daemonize.v1/daemon/logsink"
	"gopkg.in/hlandau/daemonize.v1/daemon/setuid"
	"gopkg.in/hlandau/daemonize.v1/exepath"
)

// Config controls Daemonize. Build it with New; the zero value is not
// useful.
type Config struct {
	// Tag used in log messages and as the default syslog tag.
	Name string

	// Process umask, applied in every image.
	Umask int

	// Directory to change to once detached. Defaults to "/" so the daemon
	// does not pin a mounted filesystem.
	WorkDir string

	// Descriptors to leave open. Ignored if SkipFDManagement is set.
	Keep fdset.Set

	// Leave descriptors alone entirely: nothing is closed and the standard
	// streams are not redirected.
	SkipFDManagement bool

	// Point standard output and error at the null device rather than Sink.
	SkipOutputTie bool

	// Identity to assume before detaching. Nil keeps the current identity.
	Credentials *setuid.Credentials

	// Prevent the process and its descendants from gaining privileges
	// through exec, after the identity change.
	BanSuid bool

	// Absolute path of the pidfile. Empty disables single-instance locking.
	PIDFile string

	// Destination for standard output and error. Defaults to syslog.
	Sink logsink.Sink

	Logger logrus.FieldLogger

	keepFiles []keptFile
}

type keptFile struct {
	ptr  **os.File
	fd   int
	name string
}

// Option configures a Config.
type Option func(*Config)

// New returns a Config with the defaults applied, then opts in order.
func New(opts ...Option) Config {
	cfg := Config{
		Name:    defaultName(),
		WorkDir: "/",
		Keep:    fdset.Of(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Sink == nil {
		cfg.Sink = logsink.DefaultSyslog(cfg.Name)
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return cfg
}

func defaultName() string {
	if len(exepath.Args) == 0 {
		return "daemon"
	}
	return filepath.Base(exepath.Args[0])
}

// WithName sets the log tag.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithUmask sets the process umask.
func WithUmask(umask int) Option {
	return func(c *Config) {
		c.Umask = umask
	}
}

// WithWorkDir sets the working directory of the daemon.
func WithWorkDir(dir string) Option {
	return func(c *Config) {
		c.WorkDir = dir
	}
}

// KeepDescriptors excludes numeric descriptors from closing.
func KeepDescriptors(fds ...int) Option {
	return func(c *Config) {
		c.Keep.Add(fds...)
	}
}

// KeepFiles excludes the descriptors of already opened files from closing.
//
// Each image re-runs the code preceding Daemonize, so files should only be
// opened in the Foreground state; in later images *f is nil. Daemonize
// carries the descriptor numbers across and, in the final image, sets each
// *f to a new *os.File for the inherited descriptor. The order of the
// pointers must be the same in every image.
func KeepFiles(files ...**os.File) Option {
	return func(c *Config) {
		for _, p := range files {
			k := keptFile{ptr: p, fd: -1}
			if *p != nil {
				k.fd = int((*p).Fd())
				k.name = (*p).Name()
				c.Keep.Add(k.fd)
			}
			c.keepFiles = append(c.keepFiles, k)
		}
	}
}

// SkipFDManagement disables descriptor closing and stream redirection.
func SkipFDManagement() Option {
	return func(c *Config) {
		c.SkipFDManagement = true
	}
}

// SkipOutputTie discards standard output and error instead of sending them
// to the sink.
func SkipOutputTie() Option {
	return func(c *Config) {
		c.SkipOutputTie = true
	}
}

// DropTo changes the real, effective and saved identity to uid and gid. The
// supplementary groups become those of uid.
func DropTo(uid, gid int) Option {
	return func(c *Config) {
		c.Credentials = &setuid.Credentials{UID: uid, GID: gid}
	}
}

// DropEffective changes only the effective identity to euid and egid.
func DropEffective(euid, egid int) Option {
	return func(c *Config) {
		c.Credentials = &setuid.Credentials{UID: euid, GID: egid, EffectiveOnly: true}
	}
}

// WithPIDFile enables single-instance locking on the pidfile at path. A
// relative path is resolved against the working directory at the time of
// the call, since the daemon changes directory before acquiring it.
func WithPIDFile(path string) Option {
	return func(c *Config) {
		if path != "" && !filepath.IsAbs(path) {
			abs, err := filepath.Abs(path)
			if err == nil {
				path = abs
			}
		}
		c.PIDFile = path
	}
}

// WithSink sets the destination for standard output and error.
func WithSink(sink logsink.Sink) Option {
	return func(c *Config) {
		c.Sink = sink
	}
}

// WithLogger sets the logger used to report progress and failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// BanSuid sets NO_NEW_PRIVS after the identity change. See package bansuid.
func BanSuid() Option {
	return func(c *Config) {
		c.BanSuid = true
	}
}
