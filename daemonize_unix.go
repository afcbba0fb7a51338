//go:build unix

package daemonize

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"gopkg.in/hlandau/daemonize.v1/daemon"
	"gopkg.in/hlandau/daemonize.v1/daemon/bansuid"
	"gopkg.in/hlandau/daemonize.v1/daemon/logsink"
	"gopkg.in/hlandau/daemonize.v1/daemon/setuid"
	"gopkg.in/hlandau/daemonize.v1/daemon/sigmask"
	"gopkg.in/hlandau/daemonize.v1/passwd"
	"gopkg.in/hlandau/daemonize.v1/sdnotify"
)

func systemdUpdateStatus(status string) error {
	return sdnotify.Send(status)
}

// daemonConfig translates the service options for the daemon package.
func (info *Info) daemonConfig() daemon.Config {
	opts := []daemon.Option{
		daemon.WithName(info.Name),
		daemon.WithLogger(info.Logger),
		daemon.WithPIDFile(info.Config.PIDFile),
	}

	if info.Config.Chdir != "" {
		opts = append(opts, daemon.WithWorkDir(info.Config.Chdir))
	}

	if info.Config.LogFile != "" {
		opts = append(opts, daemon.WithSink(logsink.File{Path: info.Config.LogFile}))
	}

	return daemon.New(opts...)
}

func (info *Info) serviceMain() error {
	err := sigmask.Default.Unmask(info.restartSignals()...)
	if err != nil {
		info.log().WithError(err).Debug("cannot unmask restart signals")
	}

	if info.Config.Daemon {
		// Returns only in the final image.
		err := daemon.Daemonize(info.daemonConfig())
		if err != nil {
			return err
		}
	}

	err = systemdUpdateStatus("\n")
	if err == nil {
		info.systemd = true
	}

	smgr := newHandler(info)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	for _, s := range info.restartSignals() {
		signal.Notify(sig, s)
	}

	restart, err := info.run(smgr, sig)
	signal.Stop(sig)
	if err != nil || !restart {
		return err
	}

	info.log().Info("restarting")
	return daemon.Restart(nil)
}

func (h *ihandler) DropPrivileges() error {
	if h.dropped {
		return nil
	}

	// Extras
	if !h.info.NoBanSuid {
		// Try and bansuid, but don't process errors. It may not be supported on
		// the current platform. This is basically a best-effort thing.
		bansuid.BanSuid()
	}

	c, err := h.info.Config.credentials()
	if err != nil {
		return err
	}

	if c != nil {
		err = daemon.DropPrivileges(*c)
		if err != nil {
			return fmt.Errorf("failed to drop privileges: %w", err)
		}
	}

	if !h.info.AllowRoot && daemon.IsRoot() {
		return fmt.Errorf("daemon must not run as root or with capabilities; run as non-root user or use --uid")
	}

	h.dropped = true
	return nil
}

// credentials resolves UID and GID. Returns nil if no user was configured.
func (c *Config) credentials() (*setuid.Credentials, error) {
	if c.UID == "" {
		if c.GID != "" {
			return nil, fmt.Errorf("a GID cannot be set without a UID")
		}
		return nil, nil
	}

	uid, err := passwd.ParseUID(c.UID)
	if err != nil {
		return nil, err
	}

	var gid int
	if c.GID == "" {
		gid, err = passwd.GetGIDForUID(strconv.Itoa(uid))
	} else {
		gid, err = passwd.ParseGID(c.GID)
	}
	if err != nil {
		return nil, err
	}

	if (uid <= 0) != (gid <= 0) {
		return nil, fmt.Errorf("either both or neither of the UID and GID must be positive")
	}

	if uid <= 0 {
		return nil, nil
	}

	return &setuid.Credentials{UID: uid, GID: gid}, nil
}
