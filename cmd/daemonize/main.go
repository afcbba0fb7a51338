//go:build unix

// daemonize runs a program as a daemon: detached from the terminal, in its own
// session, with its standard streams redirected and a locked pidfile.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon"
	"gopkg.in/hlandau/daemonize.v1/daemon/logsink"
	"gopkg.in/hlandau/daemonize.v1/passwd"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is returned by RunE functions which have already reported the
// failure on stderr.
var errExit = errors.New("exit")

// Build metadata, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

// options are the settings of one invocation. They can be given in a TOML
// file and overridden on the command line.
type options struct {
	PIDFile        string `toml:"pidfile"`
	Chdir          string `toml:"chdir"`
	Umask          string `toml:"umask"`
	User           string `toml:"user"`
	Group          string `toml:"group"`
	EffectiveOnly  bool   `toml:"effective_only"`
	KeepFDs        []int  `toml:"keep_fds"`
	NoFDManagement bool   `toml:"no_fd_management"`
	LogFile        string `toml:"log_file"`
	BanSuid        bool   `toml:"ban_suid"`
	Name           string `toml:"name"`
	Verbose        bool   `toml:"verbose"`
}

// run executes the CLI with the given args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "daemonize: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	var configPath string

	root := &cobra.Command{
		Use:   "daemonize [flags] -- program [args...]",
		Short: "Run a program as a daemon",
		Long: `Run a program as a daemon.

The program is started detached from the terminal in a new session, with
standard input, output and error redirected. If --pidfile is given, the
pidfile is locked and the lock is inherited by the program, so that a second
instance using the same pidfile refuses to start.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				err := loadConfig(configPath, cmd.Flags(), &opts)
				if err != nil {
					return err
				}
			}
			return daemonizeProgram(&opts, args, stderr)
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true

	f := root.Flags()
	// Flags after the program name belong to the program.
	f.SetInterspersed(false)
	f.StringVar(&configPath, "config", "", "read options from this TOML file; flags override it")
	f.StringVar(&opts.PIDFile, "pidfile", "", "lock this file and write the daemon's pid to it")
	f.StringVar(&opts.Chdir, "chdir", "/", "working directory of the daemon")
	f.StringVar(&opts.Umask, "umask", "0", "umask of the daemon, in octal")
	f.StringVarP(&opts.User, "user", "u", "", "user name or id to run as")
	f.StringVarP(&opts.Group, "group", "g", "", "group name or id to run as (default: the user's group)")
	f.BoolVar(&opts.EffectiveOnly, "effective-only", false, "change only the effective user and group")
	f.IntSliceVar(&opts.KeepFDs, "keep-fd", nil, "descriptor to pass to the program (repeatable)")
	f.BoolVar(&opts.NoFDManagement, "no-fd-management", false, "leave descriptors and standard streams alone")
	f.StringVar(&opts.LogFile, "log-file", "", "append the program's output to this file (default: discard)")
	f.BoolVar(&opts.BanSuid, "ban-suid", false, "prevent the program from gaining privileges through exec")
	f.StringVar(&opts.Name, "name", "", "name used in log messages (default: the program's base name)")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log each step")

	root.AddCommand(newVersionCmd(stdout))
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print daemonize version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "daemonize %s (commit: %s)\n", version, commit) //nolint:errcheck // best-effort stdout
		},
	}
}

// loadConfig reads the TOML file at path into opts, skipping any option
// already set on the command line.
func loadConfig(path string, flags *pflag.FlagSet, opts *options) error {
	var file options
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("loading config: unknown key %q", undecoded[0].String())
	}

	set := func(flag, key string, apply func()) {
		if md.IsDefined(key) && !flags.Changed(flag) {
			apply()
		}
	}

	set("pidfile", "pidfile", func() { opts.PIDFile = file.PIDFile })
	set("chdir", "chdir", func() { opts.Chdir = file.Chdir })
	set("umask", "umask", func() { opts.Umask = file.Umask })
	set("user", "user", func() { opts.User = file.User })
	set("group", "group", func() { opts.Group = file.Group })
	set("effective-only", "effective_only", func() { opts.EffectiveOnly = file.EffectiveOnly })
	set("keep-fd", "keep_fds", func() { opts.KeepFDs = file.KeepFDs })
	set("no-fd-management", "no_fd_management", func() { opts.NoFDManagement = file.NoFDManagement })
	set("log-file", "log_file", func() { opts.LogFile = file.LogFile })
	set("ban-suid", "ban_suid", func() { opts.BanSuid = file.BanSuid })
	set("name", "name", func() { opts.Name = file.Name })
	set("verbose", "verbose", func() { opts.Verbose = file.Verbose })

	return nil
}

// daemonConfig translates opts for the daemon package.
func daemonConfig(opts *options, program string, logger logrus.FieldLogger) (daemon.Config, error) {
	umask, err := strconv.ParseUint(opts.Umask, 8, 32)
	if err != nil || umask > 0o777 {
		return daemon.Config{}, fmt.Errorf("invalid umask %q", opts.Umask)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(program)
	}

	dopts := []daemon.Option{
		daemon.WithName(name),
		daemon.WithUmask(int(umask)),
		daemon.WithWorkDir(opts.Chdir),
		daemon.WithPIDFile(opts.PIDFile),
		daemon.KeepDescriptors(opts.KeepFDs...),
		daemon.WithLogger(logger),
	}

	// The program replaces this process, so only sinks which are plain
	// files survive into it.
	if opts.LogFile != "" {
		dopts = append(dopts, daemon.WithSink(logsink.File{Path: absPath(opts.LogFile)}))
	} else {
		dopts = append(dopts, daemon.SkipOutputTie())
	}

	if opts.NoFDManagement {
		dopts = append(dopts, daemon.SkipFDManagement())
	}

	if opts.BanSuid {
		dopts = append(dopts, daemon.BanSuid())
	}

	if opts.User != "" || opts.Group != "" {
		uid, gid, err := resolveIDs(opts.User, opts.Group)
		if err != nil {
			return daemon.Config{}, err
		}

		if opts.EffectiveOnly {
			dopts = append(dopts, daemon.DropEffective(uid, gid))
		} else {
			dopts = append(dopts, daemon.DropTo(uid, gid))
		}
	}

	return daemon.New(dopts...), nil
}

func resolveIDs(user, group string) (uid, gid int, err error) {
	if user == "" {
		return 0, 0, errors.New("--group requires --user")
	}

	uid, err = passwd.ParseUID(user)
	if err != nil {
		return 0, 0, err
	}

	if group == "" {
		gid, err = passwd.GetGIDForUID(strconv.Itoa(uid))
	} else {
		gid, err = passwd.ParseGID(group)
	}
	if err != nil {
		return 0, 0, err
	}

	return uid, gid, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func newLogger(stderr io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// daemonizeProgram daemonizes this process and then replaces it with the
// program. It runs in every image of the daemonization sequence and returns
// only on failure.
func daemonizeProgram(opts *options, args []string, stderr io.Writer) error {
	program, err := exec.LookPath(args[0])
	if err != nil {
		return err
	}
	program = absPath(program)

	logger := newLogger(stderr, opts.Verbose)

	cfg, err := daemonConfig(opts, program, logger)
	if err != nil {
		return err
	}

	err = daemon.Daemonize(cfg)
	if err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{"daemon": cfg.Name, "program": program})
	log.Debug("starting program")

	// The pidfile descriptor is inheritable and the lock passes to the
	// program with it.
	err = unix.Exec(program, args, os.Environ())
	log.WithError(err).Error("cannot execute program")
	return errExit
}
