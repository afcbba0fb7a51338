//go:build linux

package setuid

import "golang.org/x/sys/unix"

// Setresgid calls the *NIX setresgid() function on all threads.
func Setresgid(rgid, egid, sgid int) error {
	return unix.Setresgid(rgid, egid, sgid)
}

// Setresuid calls the *NIX setresuid() function on all threads.
func Setresuid(ruid, euid, suid int) error {
	return unix.Setresuid(ruid, euid, suid)
}

func setgid(gid int) error {
	return Setresgid(gid, gid, gid)
}

func setuid(uid int) error {
	return Setresuid(uid, uid, uid)
}

func setegid(gid int) error {
	return Setresgid(-1, gid, -1)
}

func seteuid(uid int) error {
	return Setresuid(-1, uid, -1)
}

func setregidBoth(rgid, egid int) error {
	return Setresgid(rgid, egid, -1)
}
