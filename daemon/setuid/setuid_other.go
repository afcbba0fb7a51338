//go:build unix && !linux

package setuid

import "golang.org/x/sys/unix"

// Not every platform has saved IDs reachable through setres[ug]id (darwin
// doesn't), so use setre[ug]id, which also updates the saved ID whenever the
// real ID changes.

func setgid(gid int) error {
	return unix.Setregid(gid, gid)
}

func setuid(uid int) error {
	return unix.Setreuid(uid, uid)
}

func setegid(gid int) error {
	return unix.Setregid(-1, gid)
}

func seteuid(uid int) error {
	return unix.Setreuid(-1, uid)
}

func setregidBoth(rgid, egid int) error {
	return unix.Setregid(rgid, egid)
}
