//go:build unix

package setuid

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
)

// Credentials describes a requested identity change. It is consumed by Drop
// and not retained.
type Credentials struct {
	UID int
	GID int

	// Change only the effective UID and GID, leaving the real and saved
	// identity in place.
	EffectiveOnly bool

	// Supplementary groups to install when dropping the real identity. Nil
	// leaves the group list untouched. Ignored when EffectiveOnly is set.
	Groups []int
}

func (c Credentials) String() string {
	if c.EffectiveOnly {
		return fmt.Sprintf("euid=%d egid=%d", c.UID, c.GID)
	}
	return fmt.Sprintf("uid=%d gid=%d", c.UID, c.GID)
}

type identity struct {
	rgid, egid int
	groups     []int
}

func current() identity {
	groups, _ := unix.Getgroups()
	return identity{
		rgid:   unix.Getgid(),
		egid:   unix.Getegid(),
		groups: groups,
	}
}

// Drop changes the identity of the process to c.
//
// The group identity is always changed before the user identity, since
// giving up the user identity first can remove the permission to change
// groups. If any step fails, the groups changed by earlier steps are
// restored and an error of kind derr.Permission (for EPERM/EACCES) is
// returned, leaving the identity as it was.
func Drop(c Credentials) error {
	if c.UID < 0 || c.GID < 0 {
		return derr.New(derr.Permission, "setuid", errors.New("invalid UID/GID specified so cannot setuid/setgid"))
	}

	orig := current()
	wasRoot := unix.Geteuid() == 0

	if c.EffectiveOnly {
		return dropEffective(c, orig)
	}

	return dropReal(c, orig, wasRoot)
}

func dropEffective(c Credentials, orig identity) error {
	err := setegid(c.GID)
	if err != nil {
		return derr.FromErrno(derr.Permission, "setegid", err)
	}

	err = seteuid(c.UID)
	if err != nil {
		restore(orig)
		return derr.FromErrno(derr.Permission, "seteuid", err)
	}

	return nil
}

func dropReal(c Credentials, orig identity, wasRoot bool) error {
	if c.Groups != nil {
		err := Setgroups(c.Groups)
		if err != nil {
			return derr.FromErrno(derr.Permission, "setgroups", err)
		}
	}

	err := setgid(c.GID)
	if err != nil {
		restore(orig)
		return derr.FromErrno(derr.Permission, "setresgid", err)
	}

	err = setuid(c.UID)
	if err != nil {
		restore(orig)
		return derr.FromErrno(derr.Permission, "setresuid", err)
	}

	if wasRoot && c.UID != 0 {
		err = ensureNoPrivs()
		if err != nil {
			return derr.New(derr.Permission, "setresuid", err)
		}
	}

	return nil
}

// Best effort. Only group changes can be undone here; a failed user change
// leaves the user identity untouched.
func restore(orig identity) {
	if orig.groups != nil {
		Setgroups(orig.groups)
	}
	setregidBoth(orig.rgid, orig.egid)
}

func ensureNoPrivs() error {
	err := Setuid(0)
	if err == nil {
		return errors.New("can't drop privileges - setuid(0) still succeeded")
	}

	return nil
}

// Setuid calls the *NIX setuid() function on all threads.
func Setuid(uid int) error {
	return unix.Setuid(uid)
}

// Setgid calls the *NIX setgid() function on all threads.
func Setgid(gid int) error {
	return unix.Setgid(gid)
}

// Setgroups calls the *NIX setgroups() function on all threads.
func Setgroups(gids []int) error {
	return syscall.Setgroups(gids)
}
