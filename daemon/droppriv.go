//go:build unix

package daemon

import (
	"syscall"

	"gopkg.in/hlandau/daemonize.v1/daemon/caps"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
	"gopkg.in/hlandau/daemonize.v1/daemon/setuid"
	"gopkg.in/hlandau/daemonize.v1/passwd"
)

// DropPrivileges changes the identity of the process to c.
//
// When changing the real identity as root without an explicit group list, the
// supplementary groups become those of c.UID. Afterwards, any capabilities
// left over (maybe because we didn't setuid) are dropped. The function
// verifies that privilege dropping has been successful by attempting to
// setuid(0), which must fail.
func DropPrivileges(c setuid.Credentials) error {
	if !c.EffectiveOnly && c.Groups == nil && syscall.Geteuid() == 0 {
		gids, err := passwd.GetExtraGIDs(c.UID, c.GID)
		if err != nil {
			gids = []int{c.GID}
		}
		c.Groups = gids
	}

	err := setuid.Drop(c)
	if err != nil {
		return err
	}

	if !c.EffectiveOnly && c.UID != 0 && caps.PlatformSupportsCaps && caps.HaveAny() {
		err = caps.Drop()
		if err != nil {
			return derr.FromErrno(derr.Permission, "capset", err)
		}
	}

	return nil
}

// Returns true if either or both of the following are true:
//
// Any of the UID, EUID, GID or EGID are zero.
//
// On supported platforms which support capabilities (currently Linux), any
// capabilities are present.
func IsRoot() bool {
	return caps.HaveAny() || isRoot()
}

func isRoot() bool {
	return syscall.Getuid() == 0 || syscall.Geteuid() == 0 ||
		syscall.Getgid() == 0 || syscall.Getegid() == 0
}
